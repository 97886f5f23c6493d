package samlauth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Hooks_TransformsRunInRegistrationOrder(t *testing.T) {
	r := require.New(t)

	h := NewHooks()
	h.OnAttributeTransform(func(attrs Attributes) Attributes {
		attrs["order"] = append(attrs["order"], "first")
		return attrs
	})
	h.OnAttributeTransform(func(attrs Attributes) Attributes {
		attrs["order"] = append(attrs["order"], "second")
		return attrs
	})

	got := h.transformAttributes(Attributes{})
	r.Equal([]string{"first", "second"}, got["order"])

	h.OnRegistrationPassword(func(p string) string { return p + "a" })
	h.OnRegistrationPassword(func(p string) string { return p + "b" })
	r.Equal("-ab", h.transformRegistrationPassword("-"))
}

func Test_Hooks_TransformMayDropAllAttributes(t *testing.T) {
	r := require.New(t)

	h := NewHooks()
	h.OnAttributeTransform(func(Attributes) Attributes { return nil })

	r.Nil(h.transformAttributes(Attributes{"mail": {"x@example.com"}}))
}

func Test_Hooks_Notifications(t *testing.T) {
	r := require.New(t)

	var fired []string
	h := NewHooks()
	h.OnBeforeProcessResponse(func(*http.Request) { fired = append(fired, "before-process-response") })
	h.OnSAMLError(func(errs []error, reason string) { fired = append(fired, "saml-error:"+reason) })
	h.OnAuthenticationFailed(func(email string, _ Attributes) { fired = append(fired, "authentication-failed:"+email) })
	h.OnBeforeLogout(func() { fired = append(fired, "before-logout") })
	h.OnBeforeLocalLogout(func() { fired = append(fired, "before-local-logout") })
	h.OnAfterLocalLogout(func() { fired = append(fired, "after-local-logout") })

	h.fireBeforeProcessResponse(nil)
	h.fireSAMLError(nil, "bad signature")
	h.fireAuthenticationFailed("x@example.com", nil)
	h.fireBeforeLogout()
	h.fireBeforeLocalLogout()
	h.fireAfterLocalLogout()

	r.Equal([]string{
		"before-process-response",
		"saml-error:bad signature",
		"authentication-failed:x@example.com",
		"before-logout",
		"before-local-logout",
		"after-local-logout",
	}, fired)
}

func Test_Hooks_RegistrationCompleteFiresBeforeAfterRegistration(t *testing.T) {
	r := require.New(t)

	var fired []string
	h := NewHooks()
	h.OnAfterRegistration(func(*Account, Attributes) { fired = append(fired, "after-registration") })
	h.OnRegistrationComplete(func(*Account, Attributes) { fired = append(fired, "registration-complete") })

	h.fireAfterRegistration(&Account{ID: "a"}, nil)
	r.Equal([]string{"registration-complete", "after-registration"}, fired)
}

func Test_Hooks_EmptyRegistryIsNoop(t *testing.T) {
	r := require.New(t)

	h := NewHooks()
	attrs := Attributes{"mail": {"x@example.com"}}
	r.Equal(attrs, h.transformAttributes(attrs))
	r.Equal("x", h.transformRegistrationUsername("x"))

	// Notification points with no subscribers simply do nothing.
	h.fireBeforeSetCurrentUser(nil)
	h.fireAfterAuthentication(nil)
	h.fireAfterRegistration(nil, nil)
}
