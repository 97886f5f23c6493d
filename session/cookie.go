// Package session ships a stateless, signed-cookie SessionManager for hosts
// that have no session mechanism of their own. Sessions are JWTs signed with
// HMAC-SHA256; nothing is stored server side, so Destroy simply expires the
// cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/sitecraft/samlauth"
)

// DefaultCookieName carries the session token.
const DefaultCookieName = "samlauth_session"

// DefaultTTL bounds the session lifetime.
const DefaultTTL = 24 * time.Hour

// ErrNoSession is returned by Current when the request carries no valid
// session.
var ErrNoSession = errors.New("no valid session")

// CookieManager implements samlauth.SessionManager on a signed cookie.
type CookieManager struct {
	key    []byte
	name   string
	ttl    time.Duration
	secure bool
	clock  clockwork.Clock
}

var _ samlauth.SessionManager = (*CookieManager)(nil)

type options struct {
	withCookieName string
	withTTL        time.Duration
	withInsecure   bool
	withClock      clockwork.Clock
}

// Option configures a CookieManager.
type Option func(*options)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.withCookieName = name
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.withTTL = ttl
		}
	}
}

// WithInsecureCookie drops the Secure cookie attribute so local plain-HTTP
// development works. Never use it in production.
func WithInsecureCookie() Option {
	return func(o *options) {
		o.withInsecure = true
	}
}

// WithClock provides an optional clock. Mainly useful for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.withClock = c
		}
	}
}

func getOpts(opt ...Option) options {
	opts := options{
		withCookieName: DefaultCookieName,
		withTTL:        DefaultTTL,
		withClock:      clockwork.NewRealClock(),
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// NewCookieManager creates a CookieManager signing with the given key.
func NewCookieManager(key []byte, opt ...Option) (*CookieManager, error) {
	const op = "session.NewCookieManager"
	if len(key) == 0 {
		return nil, fmt.Errorf("%s: missing signing key: %w", op, samlauth.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &CookieManager{
		key:    key,
		name:   opts.withCookieName,
		ttl:    opts.withTTL,
		secure: !opts.withInsecure,
		clock:  opts.withClock,
	}, nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Establish signs a session token for the account and sets it as a cookie.
func (m *CookieManager) Establish(w http.ResponseWriter, _ *http.Request, acct *samlauth.Account) error {
	const op = "session.CookieManager.Establish"
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("%s: missing account: %w", op, samlauth.ErrInvalidParameter)
	}

	now := m.clock.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Username: acct.Username,
		Email:    acct.Email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return fmt.Errorf("%s: signing session token: %w", op, err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy expires the session cookie. Tokens are stateless, so there is
// nothing server side to tear down.
func (m *CookieManager) Destroy(w http.ResponseWriter, _ *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Current returns the account the request's session cookie was issued for,
// or ErrNoSession when the cookie is absent, expired, or fails verification.
func (m *CookieManager) Current(r *http.Request) (*samlauth.Account, error) {
	const op = "session.CookieManager.Current"

	cookie, err := r.Cookie(m.name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}

	parsed, err := jwt.ParseWithClaims(cookie.Value, &sessionClaims{},
		func(*jwt.Token) (interface{}, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}

	return &samlauth.Account{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}
