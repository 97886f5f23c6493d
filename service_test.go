package samlauth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitecraft/samlauth"
	"github.com/sitecraft/samlauth/store/memory"
)

const testIdPCert = "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----"

type stubToolkit struct {
	loginURL     string
	relayStates  []string
	assertion    *samlauth.Assertion
	processErr   error
	logoutErr    error
	logoutCalls  []samlauth.LogoutBinding
	metadata     []byte
	metadataErrs []error
	panicOnLogin bool
}

func (s *stubToolkit) BuildLoginRedirect(relayState string) (*url.URL, error) {
	if s.panicOnLogin {
		panic("boom")
	}
	s.relayStates = append(s.relayStates, relayState)
	return url.Parse(s.loginURL)
}

func (s *stubToolkit) ProcessResponse(string) (*samlauth.Assertion, error) {
	if s.processErr != nil {
		return nil, s.processErr
	}
	return s.assertion, nil
}

func (s *stubToolkit) ProcessLogout(_ string, binding samlauth.LogoutBinding) error {
	s.logoutCalls = append(s.logoutCalls, binding)
	return s.logoutErr
}

func (s *stubToolkit) SPMetadata() ([]byte, error) { return s.metadata, nil }

func (s *stubToolkit) ValidateMetadata([]byte) []error { return s.metadataErrs }

type stubSessions struct {
	established  []*samlauth.Account
	destroyed    int
	establishErr error
}

func (s *stubSessions) Establish(_ http.ResponseWriter, _ *http.Request, acct *samlauth.Account) error {
	if s.establishErr != nil {
		return s.establishErr
	}
	s.established = append(s.established, acct)
	return nil
}

func (s *stubSessions) Destroy(http.ResponseWriter, *http.Request) error {
	s.destroyed++
	return nil
}

func testConfig(t *testing.T) *samlauth.StaticConfig {
	t.Helper()

	base, err := url.Parse("https://sp.example.com")
	require.NoError(t, err)
	sp, err := samlauth.NewSPConfig(base)
	require.NoError(t, err)

	ssoURL, err := url.Parse("https://idp.example.com/sso")
	require.NoError(t, err)

	return &samlauth.StaticConfig{
		SP: sp,
		IdP: &samlauth.IdPConfig{
			EntityID:           "https://idp.example.com/metadata",
			SSOURL:             ssoURL,
			SigningCertificate: testIdPCert,
		},
		Policy: samlauth.RegistrationPolicy{AllowAutoRegistration: true},
	}
}

func testService(t *testing.T, cfg samlauth.ConfigProvider, store samlauth.IdentityStore, sessions samlauth.SessionManager, tk samlauth.Toolkit, opt ...samlauth.Option) *samlauth.Service {
	t.Helper()

	opt = append(opt, samlauth.WithToolkitFactory(
		func(*samlauth.SPConfig, *samlauth.IdPConfig, ...samlauth.Option) (samlauth.Toolkit, error) {
			return tk, nil
		},
	))
	svc, err := samlauth.NewService(cfg, store, sessions, opt...)
	require.NoError(t, err)
	return svc
}

func Test_NewService(t *testing.T) {
	r := require.New(t)

	cfg := testConfig(t)
	store := memory.New()
	sessions := &stubSessions{}

	cases := []struct {
		name        string
		config      samlauth.ConfigProvider
		store       samlauth.IdentityStore
		sessions    samlauth.SessionManager
		expectedErr string
	}{
		{
			name:     "When all collaborators are provided",
			config:   cfg,
			store:    store,
			sessions: sessions,
		},
		{
			name:        "When there is no config provider",
			store:       store,
			sessions:    sessions,
			expectedErr: "samlauth.NewService: missing config provider: invalid parameter",
		},
		{
			name:        "When there is no identity store",
			config:      cfg,
			sessions:    sessions,
			expectedErr: "samlauth.NewService: missing identity store: invalid parameter",
		},
		{
			name:        "When there is no session manager",
			config:      cfg,
			store:       store,
			expectedErr: "samlauth.NewService: missing session manager: invalid parameter",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(_ *testing.T) {
			got, err := samlauth.NewService(c.config, c.store, c.sessions)
			if c.expectedErr != "" {
				r.ErrorContains(err, c.expectedErr)
			} else {
				r.NoError(err)
				r.NotNil(got)
			}
		})
	}
}

func Test_Service_Dispatch_RoutingMiss(t *testing.T) {
	r := require.New(t)

	svc := testService(t, testConfig(t), memory.New(), &stubSessions{}, &stubToolkit{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/something-else", nil)

	r.False(svc.Dispatch(rec, req, samlauth.Action("unknown")))
	r.Zero(rec.Body.Len())
	r.Empty(rec.Header())
}

func Test_Service_Login(t *testing.T) {
	r := require.New(t)

	tk := &stubToolkit{
		loginURL: "https://idp.example.com/sso?SAMLRequest=abc",
		metadata: []byte("<EntityDescriptor/>"),
	}
	svc := testService(t, testConfig(t), memory.New(), &stubSessions{}, tk)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, samlauth.LoginPath, nil)

	r.True(svc.Dispatch(rec, req, samlauth.ActionLogin))
	r.Equal(http.StatusFound, rec.Code)
	r.Equal("https://idp.example.com/sso?SAMLRequest=abc", rec.Header().Get("Location"))

	// Every redirect carries a fresh relay state.
	r.Len(tk.relayStates, 1)
	r.NotEmpty(tk.relayStates[0])
}

func Test_Service_Login_MetadataSelfCheckFailsClosed(t *testing.T) {
	r := require.New(t)

	tk := &stubToolkit{
		loginURL:     "https://idp.example.com/sso",
		metadata:     []byte("<bogus/>"),
		metadataErrs: []error{samlauth.ErrInvalidMetadata},
	}
	svc := testService(t, testConfig(t), memory.New(), &stubSessions{}, tk)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, samlauth.LoginPath, nil)

	r.True(svc.Dispatch(rec, req, samlauth.ActionLogin))
	r.Equal(http.StatusInternalServerError, rec.Code)
	r.Contains(rec.Body.String(), "error #03")
	r.Empty(tk.relayStates)
}

func Test_Service_Login_PanicRecovered(t *testing.T) {
	r := require.New(t)

	tk := &stubToolkit{metadata: []byte("<EntityDescriptor/>"), panicOnLogin: true}
	svc := testService(t, testConfig(t), memory.New(), &stubSessions{}, tk)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, samlauth.LoginPath, nil)

	r.True(svc.Dispatch(rec, req, samlauth.ActionLogin))
	r.Equal(http.StatusInternalServerError, rec.Code)
	r.Contains(rec.Body.String(), "error #03")
}

func acsRequest() *http.Request {
	form := url.Values{"SAMLResponse": {"ZmFrZQ=="}}
	req := httptest.NewRequest(http.MethodPost, samlauth.ACSPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func Test_Service_ACS_Success(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	store := memory.New()
	existing, err := store.CreateAccount(ctx, "carol", "pw", "carol@example.com")
	r.NoError(err)

	var fired []string
	hooks := samlauth.NewHooks()
	hooks.OnBeforeProcessResponse(func(*http.Request) { fired = append(fired, "before-process-response") })
	hooks.OnBeforeSetCurrentUser(func(*samlauth.Account) { fired = append(fired, "before-set-current-user") })
	hooks.OnAfterAuthentication(func(*samlauth.Account) { fired = append(fired, "after-successful-authentication") })

	sessions := &stubSessions{}
	tk := &stubToolkit{
		assertion: &samlauth.Assertion{
			SubjectID:  "carol@example.com",
			Attributes: samlauth.Attributes{},
		},
	}
	svc := testService(t, testConfig(t), store, sessions, tk, samlauth.WithHooks(hooks))

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, acsRequest(), samlauth.ActionACS))

	r.Equal(http.StatusFound, rec.Code)
	r.Equal("https://sp.example.com", rec.Header().Get("Location"))
	r.Len(sessions.established, 1)
	r.Equal(existing.ID, sessions.established[0].ID)
	r.Equal([]string{
		"before-process-response",
		"before-set-current-user",
		"after-successful-authentication",
	}, fired)
}

func Test_Service_ACS_ValidationFailure(t *testing.T) {
	r := require.New(t)

	var samlErrReason string
	hooks := samlauth.NewHooks()
	hooks.OnSAMLError(func(_ []error, reason string) { samlErrReason = reason })

	sessions := &stubSessions{}
	tk := &stubToolkit{
		processErr: &samlauth.ValidationError{Reason: "signature did not verify"},
	}
	svc := testService(t, testConfig(t), memory.New(), sessions, tk, samlauth.WithHooks(hooks))

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, acsRequest(), samlauth.ActionACS))

	r.Equal(http.StatusForbidden, rec.Code)
	r.Contains(rec.Body.String(), "error #02")
	r.Equal("signature did not verify", samlErrReason)
	r.Empty(sessions.established)
}

func Test_Service_ACS_MissingResponse(t *testing.T) {
	r := require.New(t)

	sessions := &stubSessions{}
	svc := testService(t, testConfig(t), memory.New(), sessions, &stubToolkit{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, samlauth.ACSPath, nil)
	r.True(svc.Dispatch(rec, req, samlauth.ActionACS))

	r.Equal(http.StatusForbidden, rec.Code)
	r.Contains(rec.Body.String(), "error #02")
	r.Empty(sessions.established)
}

func Test_Service_ACS_IdentityUnresolved(t *testing.T) {
	r := require.New(t)

	cfg := testConfig(t)
	cfg.Policy = samlauth.RegistrationPolicy{AllowAutoRegistration: false}

	var failedEmail string
	hooks := samlauth.NewHooks()
	hooks.OnAuthenticationFailed(func(email string, _ samlauth.Attributes) { failedEmail = email })

	sessions := &stubSessions{}
	tk := &stubToolkit{
		assertion: &samlauth.Assertion{
			SubjectID:  "nobody@example.com",
			Attributes: samlauth.Attributes{},
		},
	}
	svc := testService(t, cfg, memory.New(), sessions, tk, samlauth.WithHooks(hooks))

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, acsRequest(), samlauth.ActionACS))

	r.Equal(http.StatusForbidden, rec.Code)
	r.Contains(rec.Body.String(), "error #01")
	r.Equal("nobody@example.com", failedEmail)
	r.Empty(sessions.established)
}

func Test_Service_ACS_AttributeTransformBeforeResolution(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	store := memory.New()
	existing, err := store.CreateAccount(ctx, "dave", "pw", "dave@example.com")
	r.NoError(err)

	hooks := samlauth.NewHooks()
	hooks.OnAttributeTransform(func(attrs samlauth.Attributes) samlauth.Attributes {
		attrs["email"] = []string{"dave@example.com"}
		return attrs
	})

	sessions := &stubSessions{}
	tk := &stubToolkit{
		assertion: &samlauth.Assertion{
			SubjectID:  "f9e2",
			Attributes: samlauth.Attributes{},
		},
	}
	svc := testService(t, testConfig(t), store, sessions, tk, samlauth.WithHooks(hooks))

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, acsRequest(), samlauth.ActionACS))

	r.Equal(http.StatusFound, rec.Code)
	r.Len(sessions.established, 1)
	r.Equal(existing.ID, sessions.established[0].ID)
}

func Test_Service_SLS(t *testing.T) {
	r := require.New(t)

	var fired []string
	hooks := samlauth.NewHooks()
	hooks.OnBeforeLogout(func() { fired = append(fired, "before-logout") })
	hooks.OnBeforeLocalLogout(func() { fired = append(fired, "before-local-logout") })
	hooks.OnAfterLocalLogout(func() { fired = append(fired, "after-local-logout") })

	sessions := &stubSessions{}
	tk := &stubToolkit{}
	svc := testService(t, testConfig(t), memory.New(), sessions, tk, samlauth.WithHooks(hooks))

	form := url.Values{"SAMLRequest": {"ZmFrZQ=="}}
	req := httptest.NewRequest(http.MethodPost, samlauth.SLSPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, req, samlauth.ActionSLS))

	r.Equal(http.StatusFound, rec.Code)
	r.Equal("https://sp.example.com", rec.Header().Get("Location"))
	r.Equal(1, sessions.destroyed)
	r.Equal([]samlauth.LogoutBinding{samlauth.LogoutBindingPost}, tk.logoutCalls)
	r.Equal([]string{"before-logout", "before-local-logout", "after-local-logout"}, fired)
}

func Test_Service_SLS_RedirectBinding(t *testing.T) {
	r := require.New(t)

	sessions := &stubSessions{}
	tk := &stubToolkit{}
	svc := testService(t, testConfig(t), memory.New(), sessions, tk)

	req := httptest.NewRequest(http.MethodGet, samlauth.SLSPath+"?SAMLResponse=ZmFrZQ%3D%3D", nil)
	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, req, samlauth.ActionSLS))

	r.Equal(http.StatusFound, rec.Code)
	r.Equal([]samlauth.LogoutBinding{samlauth.LogoutBindingRedirect}, tk.logoutCalls)
	r.Equal(1, sessions.destroyed)
}

func Test_Service_SLS_InvalidMessageFailsClosed(t *testing.T) {
	r := require.New(t)

	sessions := &stubSessions{}
	tk := &stubToolkit{
		logoutErr: &samlauth.ValidationError{Reason: "unverifiable logout message"},
	}
	svc := testService(t, testConfig(t), memory.New(), sessions, tk)

	form := url.Values{"SAMLRequest": {"ZmFrZQ=="}}
	req := httptest.NewRequest(http.MethodPost, samlauth.SLSPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, req, samlauth.ActionSLS))

	r.Equal(http.StatusForbidden, rec.Code)
	r.Contains(rec.Body.String(), "error #02")
	r.Zero(sessions.destroyed)
}

func Test_Service_SLS_LocalLogoutWithoutMessage(t *testing.T) {
	r := require.New(t)

	sessions := &stubSessions{}
	tk := &stubToolkit{}
	svc := testService(t, testConfig(t), memory.New(), sessions, tk)

	req := httptest.NewRequest(http.MethodGet, samlauth.SLSPath, nil)
	rec := httptest.NewRecorder()
	r.True(svc.Dispatch(rec, req, samlauth.ActionSLS))

	r.Equal(http.StatusFound, rec.Code)
	r.Empty(tk.logoutCalls)
	r.Equal(1, sessions.destroyed)
}

func Test_Service_Metadata(t *testing.T) {
	r := require.New(t)

	tk := &stubToolkit{metadata: []byte(`<?xml version="1.0"?><EntityDescriptor/>`)}
	svc := testService(t, testConfig(t), memory.New(), &stubSessions{}, tk)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, samlauth.MetadataPath, nil)
	r.True(svc.Dispatch(rec, req, samlauth.ActionMetadata))

	r.Equal(http.StatusOK, rec.Code)
	r.Equal("text/xml", rec.Header().Get("Content-Type"))
	r.Equal(string(tk.metadata), rec.Body.String())
}

func Test_Service_IncompleteIdPConfig(t *testing.T) {
	r := require.New(t)

	cfg := testConfig(t)
	cfg.IdP = &samlauth.IdPConfig{} // nothing configured

	for _, action := range []samlauth.Action{
		samlauth.ActionLogin, samlauth.ActionACS, samlauth.ActionSLS, samlauth.ActionMetadata,
	} {
		svc := testService(t, cfg, memory.New(), &stubSessions{}, &stubToolkit{})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		r.True(svc.Dispatch(rec, req, action))

		r.Equal(http.StatusInternalServerError, rec.Code, "action %s", action)
		r.Contains(rec.Body.String(), "error #10", "action %s", action)
	}
}
