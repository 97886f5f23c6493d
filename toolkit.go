package samlauth

import "net/url"

// Attributes is the assertion's attribute bag: attribute name to the ordered
// list of values the IdP sent. Multi-valued attributes are common; unless a
// contract says otherwise the core always consumes the first value.
type Attributes map[string][]string

// First returns the first value of the named attribute, or "" when the
// attribute is absent or empty. Taking the first value of a multi-valued
// attribute is a deliberate, documented convention of this module.
func (a Attributes) First(name string) string {
	if vs, ok := a[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Clone returns a deep copy so hook callbacks can transform attributes
// without aliasing the toolkit's data.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, vs := range a {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// Assertion is the validated result of processing an IdP response. Its
// presence implies the toolkit already verified the signature and the
// assertion conditions; consumers must never re-derive trust from it, only
// consume it.
type Assertion struct {
	// SubjectID is the NameID of the authenticated subject.
	SubjectID string

	// Attributes holds the asserted attributes.
	Attributes Attributes
}

// LogoutBinding identifies how a single-logout message arrived.
type LogoutBinding int

const (
	// LogoutBindingPost carries a plain base64 encoded message in a form
	// post.
	LogoutBindingPost LogoutBinding = iota

	// LogoutBindingRedirect carries a deflated, base64 encoded message in a
	// query parameter.
	LogoutBindingRedirect
)

// Toolkit is the external SAML protocol collaborator: it builds redirects
// and metadata and performs all cryptographic and structural validation.
// Implementations are constructed per request from the configuration
// snapshots and must always validate strictly; no insecure mode is part of
// this contract.
type Toolkit interface {
	// BuildLoginRedirect returns the IdP SSO URL carrying a signed or plain
	// authentication request for the given relay state.
	BuildLoginRedirect(relayState string) (*url.URL, error)

	// ProcessResponse validates an encoded SAML response and returns the
	// assertion it carries. Failures are reported as *ValidationError.
	ProcessResponse(encodedResponse string) (*Assertion, error)

	// ProcessLogout validates an encoded single-logout request or response.
	// Failures are reported as *ValidationError.
	ProcessLogout(encodedMessage string, binding LogoutBinding) error

	// SPMetadata renders this SP's metadata document as XML.
	SPMetadata() ([]byte, error)

	// ValidateMetadata checks a rendered metadata document for
	// self-consistency against the SP configuration. A non-empty result
	// means the document must not be served and no login redirect may be
	// issued.
	ValidateMetadata(doc []byte) []error
}

// ToolkitFactory builds a Toolkit from per-request configuration snapshots.
type ToolkitFactory func(sp *SPConfig, idp *IdPConfig, opt ...Option) (Toolkit, error)
