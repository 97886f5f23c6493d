package samlauth

import (
	"fmt"
	"net/url"
	"strings"
)

// Fixed path suffixes appended to the base site URL when deriving the SP
// endpoint URLs. They are constants on purpose: endpoint URLs must never be
// assembled from user-supplied input.
const (
	LoginPath    = "/saml-login/"
	ACSPath      = "/saml-acs/"
	SLSPath      = "/saml-sls/"
	MetadataPath = "/saml-metadata/"
)

// DefaultNameIDFormat asks the IdP for an email address subject identifier.
const DefaultNameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"

// SPConfig describes this service provider. All URLs are derived from a
// single base site URL; the struct is treated as an immutable snapshot for
// the duration of a request.
type SPConfig struct {
	// EntityID is the globally unique identifier of this service provider.
	// It equals the metadata URL.
	EntityID *url.URL

	// ACSURL is where the IdP posts its authentication response.
	ACSURL *url.URL

	// SLOURL is where the IdP sends single-logout messages.
	SLOURL *url.URL

	// MetadataURL serves this SP's metadata document.
	MetadataURL *url.URL

	// HomeURL is where authenticated users are redirected after login and
	// logout.
	HomeURL *url.URL

	// NameIDFormat requested from the IdP. Defaults to DefaultNameIDFormat.
	NameIDFormat string

	// SigningCertPEM and SigningKeyPEM optionally hold the SP's own key
	// material, published in metadata and used to sign authn requests. When
	// empty an ephemeral key pair is generated at toolkit construction.
	SigningCertPEM []byte
	SigningKeyPEM  []byte
}

// NewSPConfig derives the SP endpoint URLs from a single absolute base site
// URL plus the fixed path suffixes.
func NewSPConfig(base *url.URL) (*SPConfig, error) {
	const op = "samlauth.NewSPConfig"

	if base == nil {
		return nil, fmt.Errorf("%s: missing base URL: %w", op, ErrInvalidParameter)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("%s: base URL %q is not absolute: %w", op, base.String(), ErrInvalidParameter)
	}

	metadata := base.JoinPath(MetadataPath)
	cfg := &SPConfig{
		EntityID:     metadata,
		ACSURL:       base.JoinPath(ACSPath),
		SLOURL:       base.JoinPath(SLSPath),
		MetadataURL:  metadata,
		HomeURL:      base,
		NameIDFormat: DefaultNameIDFormat,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// Validate validates the service provider configuration.
func (c *SPConfig) Validate() error {
	const op = "samlauth.SPConfig.Validate"

	if c == nil {
		return fmt.Errorf("%s: missing config: %w", op, ErrInvalidParameter)
	}
	if c.EntityID == nil {
		return fmt.Errorf("%s: entity ID not set: %w", op, ErrInvalidConfig)
	}
	if c.ACSURL == nil {
		return fmt.Errorf("%s: ACS URL not set: %w", op, ErrInvalidConfig)
	}
	if c.MetadataURL == nil {
		return fmt.Errorf("%s: metadata URL not set: %w", op, ErrInvalidConfig)
	}
	if c.HomeURL == nil {
		return fmt.Errorf("%s: home URL not set: %w", op, ErrInvalidConfig)
	}
	for _, u := range []*url.URL{c.EntityID, c.ACSURL, c.MetadataURL, c.HomeURL} {
		if !u.IsAbs() {
			return fmt.Errorf("%s: URL %q is not absolute: %w", op, u.String(), ErrInvalidConfig)
		}
	}
	if c.NameIDFormat == "" {
		return fmt.Errorf("%s: NameID format not set: %w", op, ErrInvalidConfig)
	}
	return nil
}

// IdPConfig describes the external identity provider this SP trusts.
type IdPConfig struct {
	// EntityID is the IdP's globally unique identifier. (required)
	EntityID string

	// SSOURL is the IdP's single sign-on endpoint. (required)
	SSOURL *url.URL

	// SLOURL is the IdP's single logout endpoint. (optional)
	SLOURL *url.URL

	// SigningCertificate is the PEM encoded X.509 certificate the IdP signs
	// assertions with. (required)
	SigningCertificate string
}

// Validate refuses incomplete IdP settings. A service must surface this as a
// configuration error rather than attempt any SAML exchange.
func (c *IdPConfig) Validate() error {
	const op = "samlauth.IdPConfig.Validate"

	if c == nil {
		return fmt.Errorf("%s: missing config: %w", op, ErrInvalidParameter)
	}
	if c.EntityID == "" {
		return fmt.Errorf("%s: IdP entity ID not set: %w", op, ErrInvalidConfig)
	}
	if c.SSOURL == nil {
		return fmt.Errorf("%s: IdP SSO URL not set: %w", op, ErrInvalidConfig)
	}
	if !c.SSOURL.IsAbs() {
		return fmt.Errorf("%s: IdP SSO URL %q is not absolute: %w", op, c.SSOURL.String(), ErrInvalidConfig)
	}
	if c.SLOURL != nil && !c.SLOURL.IsAbs() {
		return fmt.Errorf("%s: IdP SLO URL %q is not absolute: %w", op, c.SLOURL.String(), ErrInvalidConfig)
	}
	if c.SigningCertificate == "" {
		return fmt.Errorf("%s: IdP signing certificate not set: %w", op, ErrInvalidConfig)
	}
	if !strings.Contains(c.SigningCertificate, "BEGIN CERTIFICATE") {
		return fmt.Errorf("%s: IdP signing certificate is not PEM encoded: %w", op, ErrInvalidCertificate)
	}
	return nil
}

// CustomMapping copies one IdP attribute's first value into a named local
// metadata field during provisioning.
type CustomMapping struct {
	IdPAttribute string
	LocalField   string
}

// AttributeRules configures how IdP attributes project onto local profile
// fields. Custom pairs keep their configured order; when the same IdP
// attribute appears twice the later pair wins.
type AttributeRules struct {
	// FirstName, LastName and Group name the IdP attributes mapped onto the
	// corresponding profile fields. Empty means unmapped.
	FirstName string
	LastName  string
	Group     string

	// DefaultRole, when non-empty, is always assigned to newly provisioned
	// accounts and takes precedence over any group-derived role.
	DefaultRole string

	// Custom is the ordered list of additional attribute-to-metadata pairs.
	Custom []CustomMapping
}

// RegistrationPolicy governs whether an unmatched subject is provisioned.
type RegistrationPolicy struct {
	AllowAutoRegistration bool
}

// ConfigProvider supplies configuration snapshots. Implementations must
// return values that remain unchanged for the duration of a request; the
// core re-fetches per request and never mutates what it receives.
type ConfigProvider interface {
	SPConfig() (*SPConfig, error)
	IdPConfig() (*IdPConfig, error)
	MappingRules() (AttributeRules, error)
	Registration() (RegistrationPolicy, error)
}

// StaticConfig is a ConfigProvider backed by fixed values, suitable for
// deployments configured at process start.
type StaticConfig struct {
	SP     *SPConfig
	IdP    *IdPConfig
	Rules  AttributeRules
	Policy RegistrationPolicy
}

func (s *StaticConfig) SPConfig() (*SPConfig, error) {
	const op = "samlauth.StaticConfig.SPConfig"
	if err := s.SP.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.SP, nil
}

func (s *StaticConfig) IdPConfig() (*IdPConfig, error) {
	const op = "samlauth.StaticConfig.IdPConfig"
	if err := s.IdP.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.IdP, nil
}

func (s *StaticConfig) MappingRules() (AttributeRules, error) {
	return s.Rules, nil
}

func (s *StaticConfig) Registration() (RegistrationPolicy, error) {
	return s.Policy, nil
}
