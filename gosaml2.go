package samlauth

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-multierror"
	saml2 "github.com/russellhaering/gosaml2"
	saml2types "github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"
)

// metadataValidityHours bounds the validUntil stamp on generated SP metadata.
const metadataValidityHours = 24 * 7

// gosaml2Toolkit is the production Toolkit on
// github.com/russellhaering/gosaml2. It is built fresh per request from the
// configuration snapshots; strict validation is always on and no option can
// turn it off.
type gosaml2Toolkit struct {
	sp       *SPConfig
	internal *saml2.SAMLServiceProvider
}

// NewGosaml2Toolkit builds the production Toolkit from the given
// configuration snapshots. Supported options: WithClock.
func NewGosaml2Toolkit(sp *SPConfig, idp *IdPConfig, opt ...Option) (Toolkit, error) {
	const op = "samlauth.NewGosaml2Toolkit"

	if err := sp.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := idp.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getServiceOpts(opt...)

	certStore, err := parseCertStore(idp.SigningCertificate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	internal := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      idp.SSOURL.String(),
		IdentityProviderIssuer:      idp.EntityID,
		ServiceProviderIssuer:       sp.EntityID.String(),
		AssertionConsumerServiceURL: sp.ACSURL.String(),
		AudienceURI:                 sp.EntityID.String(),
		IDPCertificateStore:         certStore,
		NameIdFormat:                sp.NameIDFormat,
		Clock:                       dsig.NewFakeClock(opts.withClock),
	}
	if sp.SLOURL != nil {
		internal.ServiceProviderSLOURL = sp.SLOURL.String()
	}
	if idp.SLOURL != nil {
		internal.IdentityProviderSLOURL = idp.SLOURL.String()
	}

	if len(sp.SigningCertPEM) > 0 && len(sp.SigningKeyPEM) > 0 {
		keyPair, err := tls.X509KeyPair(sp.SigningCertPEM, sp.SigningKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%s: loading SP key pair: %w: %v", op, ErrInvalidCertificate, err)
		}
		internal.SPKeyStore = dsig.TLSCertKeyStore(keyPair)
		internal.SignAuthnRequests = true
	} else {
		// No configured key material: publishable metadata still needs a key
		// descriptor. Requests stay unsigned.
		ks, err := ephemeralSPKeyStore()
		if err != nil {
			return nil, fmt.Errorf("%s: generating ephemeral SP key pair: %w", op, err)
		}
		internal.SPKeyStore = ks
	}

	return &gosaml2Toolkit{sp: sp, internal: internal}, nil
}

type memoryKeyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (s *memoryKeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return s.key, s.cert, nil
}

// ephemeralSPKeyStore generates the fallback SP key pair once per process, so
// toolkits built on consecutive requests publish the same certificate in
// their metadata.
var ephemeralSPKeyStore = sync.OnceValues(func() (dsig.X509KeyStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "samlauth ephemeral signing key"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	cert, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &memoryKeyStore{key: key, cert: cert}, nil
})

func parseCertStore(certPEM string) (*dsig.MemoryX509CertificateStore, error) {
	const op = "samlauth.parseCertStore"

	store := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{}}
	rest := []byte(certPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: parsing IdP certificate: %w: %v", op, ErrInvalidCertificate, err)
		}
		store.Roots = append(store.Roots, cert)
	}
	if len(store.Roots) == 0 {
		return nil, fmt.Errorf("%s: no certificate found in IdP signing certificate PEM: %w", op, ErrInvalidCertificate)
	}
	return store, nil
}

func (t *gosaml2Toolkit) BuildLoginRedirect(relayState string) (*url.URL, error) {
	const op = "samlauth.gosaml2Toolkit.BuildLoginRedirect"

	raw, err := t.internal.BuildAuthURL(relayState)
	if err != nil {
		return nil, fmt.Errorf("%s: building authentication request: %w", op, err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (t *gosaml2Toolkit) ProcessResponse(encodedResponse string) (*Assertion, error) {
	info, err := t.internal.RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, &ValidationError{
			Errors: []error{err},
			Reason: "response rejected by validator",
		}
	}
	if info.WarningInfo.InvalidTime {
		return nil, &ValidationError{Reason: "assertion time conditions not met"}
	}
	if info.WarningInfo.NotInAudience {
		return nil, &ValidationError{Reason: "assertion audience does not include this SP"}
	}

	attrs := make(Attributes, len(info.Values))
	for name, attr := range info.Values {
		vals := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			vals = append(vals, v.Value)
		}
		attrs[name] = vals
	}
	return &Assertion{SubjectID: info.NameID, Attributes: attrs}, nil
}

func (t *gosaml2Toolkit) ProcessLogout(encodedMessage string, binding LogoutBinding) error {
	raw, err := base64.StdEncoding.DecodeString(encodedMessage)
	if err != nil {
		return &ValidationError{Errors: []error{err}, Reason: "logout message is not base64 encoded"}
	}

	// The HTTP-Redirect binding deflates the message before encoding; the
	// validators expect the plain encoded form, so inflate and re-encode.
	if binding == LogoutBindingRedirect {
		raw, err = io.ReadAll(flate.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return &ValidationError{Errors: []error{err}, Reason: "logout message failed to inflate"}
		}
		encodedMessage = base64.StdEncoding.EncodeToString(raw)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return &ValidationError{Errors: []error{err}, Reason: "logout message is not well-formed XML"}
	}
	root := doc.Root()
	if root == nil {
		return &ValidationError{Reason: "logout message has no root element"}
	}

	switch root.Tag {
	case "LogoutRequest":
		if _, err := t.internal.ValidateEncodedLogoutRequestPOST(encodedMessage); err != nil {
			return &ValidationError{Errors: []error{err}, Reason: "logout request rejected by validator"}
		}
	case "LogoutResponse":
		if _, err := t.internal.ValidateEncodedLogoutResponsePOST(encodedMessage); err != nil {
			return &ValidationError{Errors: []error{err}, Reason: "logout response rejected by validator"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unexpected logout message element %q", root.Tag)}
	}
	return nil
}

func (t *gosaml2Toolkit) SPMetadata() ([]byte, error) {
	const op = "samlauth.gosaml2Toolkit.SPMetadata"

	var (
		descriptor *saml2types.EntityDescriptor
		err        error
	)
	if t.internal.ServiceProviderSLOURL != "" {
		descriptor, err = t.internal.MetadataWithSLO(metadataValidityHours)
	} else {
		descriptor, err = t.internal.Metadata()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: generating metadata: %w", op, err)
	}

	body, err := xml.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return append([]byte(xml.Header), body...), nil
}

// ValidateMetadata checks the rendered document is well-formed and reflects
// this SP's configured entity ID and ACS URL. A non-empty result fails the
// login flow closed.
func (t *gosaml2Toolkit) ValidateMetadata(doc []byte) []error {
	var result *multierror.Error

	parsed := etree.NewDocument()
	if err := parsed.ReadFromBytes(doc); err != nil {
		return []error{fmt.Errorf("metadata is not well-formed XML: %w", err)}
	}
	root := parsed.Root()
	if root == nil {
		return []error{fmt.Errorf("metadata has no root element: %w", ErrInvalidMetadata)}
	}
	if root.Tag != "EntityDescriptor" {
		result = multierror.Append(result, fmt.Errorf("unexpected root element %q: %w", root.Tag, ErrInvalidMetadata))
	}
	if got := root.SelectAttrValue("entityID", ""); got != t.sp.EntityID.String() {
		result = multierror.Append(result, fmt.Errorf("entity ID %q does not match configured %q: %w", got, t.sp.EntityID.String(), ErrInvalidMetadata))
	}

	var acsFound bool
	for _, el := range root.FindElements("//AssertionConsumerService") {
		if el.SelectAttrValue("Location", "") == t.sp.ACSURL.String() {
			acsFound = true
			break
		}
	}
	if !acsFound {
		result = multierror.Append(result, fmt.Errorf("no assertion consumer service at configured ACS URL %q: %w", t.sp.ACSURL.String(), ErrInvalidMetadata))
	}

	if result == nil {
		return nil
	}
	return result.Errors
}
