package samlauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
)

// Action is one of the four logical SP endpoint actions.
type Action string

const (
	ActionLogin    Action = "login"
	ActionACS      Action = "acs"
	ActionSLS      Action = "sls"
	ActionMetadata Action = "metadata"
)

// SessionManager is the host's session mechanism. Establish creates an
// authenticated session for the account; Destroy tears down whatever session
// accompanies the request. Both write their side effects to the response.
type SessionManager interface {
	Establish(w http.ResponseWriter, r *http.Request, acct *Account) error
	Destroy(w http.ResponseWriter, r *http.Request) error
}

// Service sequences the four SP actions. Each dispatch is independent: it
// re-fetches the configuration snapshots, builds a fresh toolkit, and runs
// the handler to a terminal outcome (redirect, document, or coded failure).
// No state is carried between requests.
type Service struct {
	config   ConfigProvider
	sessions SessionManager
	resolver *Resolver

	hooks   *Hooks
	logger  hclog.Logger
	clock   clockwork.Clock
	toolkit ToolkitFactory
}

// NewService creates a Service. Supported options: WithLogger, WithClock,
// WithHooks, WithToolkitFactory.
func NewService(config ConfigProvider, store IdentityStore, sessions SessionManager, opt ...Option) (*Service, error) {
	const op = "samlauth.NewService"

	if config == nil {
		return nil, fmt.Errorf("%s: missing config provider: %w", op, ErrInvalidParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: missing identity store: %w", op, ErrInvalidParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: missing session manager: %w", op, ErrInvalidParameter)
	}

	opts := getServiceOpts(opt...)
	resolver, err := NewResolver(store, WithLogger(opts.withLogger), WithHooks(opts.withHooks))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Service{
		config:   config,
		sessions: sessions,
		resolver: resolver,
		hooks:    opts.withHooks,
		logger:   opts.withLogger,
		clock:    opts.withClock,
		toolkit:  opts.withToolkit,
	}, nil
}

// Dispatch routes one request to the named action's handler. It reports
// false, writing nothing, when the action is not one this layer recognizes;
// the hosting application handles such requests itself. Handler panics are
// recovered here and converted into the generic internal failure.
func (s *Service) Dispatch(w http.ResponseWriter, r *http.Request, action Action) (handled bool) {
	var handler func(http.ResponseWriter, *http.Request)
	switch action {
	case ActionLogin:
		handler = s.handleLogin
	case ActionACS:
		handler = s.handleACS
	case ActionSLS:
		handler = s.handleSLS
	case ActionMetadata:
		handler = s.handleMetadata
	default:
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic while handling request", "action", action, "panic", p)
			s.fail(w, CodeInternal)
		}
	}()

	handler(w, r)
	return true
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	_, tk, ok := s.setup(w)
	if !ok {
		return
	}

	// Refuse to hand the user to the IdP when our own metadata does not
	// check out.
	doc, err := tk.SPMetadata()
	if err != nil {
		s.logger.Error("generating SP metadata", "error", err)
		s.fail(w, CodeInternal)
		return
	}
	if errs := tk.ValidateMetadata(doc); len(errs) > 0 {
		s.logger.Error("SP metadata failed self-check", "error", multierror.Append(nil, errs...))
		s.fail(w, CodeInternal)
		return
	}

	relayState, err := uuid.GenerateUUID()
	if err != nil {
		s.logger.Error("generating relay state", "error", err)
		s.fail(w, CodeInternal)
		return
	}
	dest, err := tk.BuildLoginRedirect(relayState)
	if err != nil {
		s.logger.Error("building login redirect", "error", err)
		s.fail(w, CodeInternal)
		return
	}

	s.logger.Debug("redirecting to IdP", "destination", dest.Host)
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

func (s *Service) handleACS(w http.ResponseWriter, r *http.Request) {
	s.hooks.fireBeforeProcessResponse(r)

	sp, tk, ok := s.setup(w)
	if !ok {
		return
	}
	rules, err := s.config.MappingRules()
	if err != nil {
		s.logger.Error("loading mapping rules", "error", err)
		s.fail(w, CodeInvalidConfig)
		return
	}
	policy, err := s.config.Registration()
	if err != nil {
		s.logger.Error("loading registration policy", "error", err)
		s.fail(w, CodeInvalidConfig)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.logger.Error("parsing ACS form", "error", err)
		s.fail(w, CodeValidationFailed)
		return
	}
	encoded := r.PostFormValue("SAMLResponse")
	if encoded == "" {
		s.logger.Error("ACS request carries no SAMLResponse")
		s.fail(w, CodeValidationFailed)
		return
	}

	assertion, err := tk.ProcessResponse(encoded)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			s.logger.Error("SAML response rejected",
				"reason", vErr.Reason,
				"errors", multierror.Append(nil, vErr.Errors...),
			)
			s.hooks.fireSAMLError(vErr.Errors, vErr.Reason)
			s.fail(w, CodeValidationFailed)
			return
		}
		s.logger.Error("processing SAML response", "error", err)
		s.fail(w, CodeInternal)
		return
	}

	attrs := s.hooks.transformAttributes(assertion.Attributes.Clone())
	email := DeriveEmail(assertion.SubjectID, attrs)

	identity, err := s.resolver.Resolve(r.Context(), email, attrs, rules, policy)
	if err != nil {
		s.logger.Error("identity resolution failed", "error", err)
		s.hooks.fireAuthenticationFailed(email, attrs)
		s.fail(w, CodeAuthenticationFailed)
		return
	}

	s.hooks.fireBeforeSetCurrentUser(identity.Account)
	if err := s.sessions.Establish(w, r, identity.Account); err != nil {
		s.logger.Error("establishing session", "account_id", identity.Account.ID, "error", err)
		s.fail(w, CodeInternal)
		return
	}
	s.hooks.fireAfterAuthentication(identity.Account)

	s.logger.Debug("authenticated", "account_id", identity.Account.ID, "new_account", identity.IsNew)
	http.Redirect(w, r, sp.HomeURL.String(), http.StatusFound)
}

func (s *Service) handleSLS(w http.ResponseWriter, r *http.Request) {
	s.hooks.fireBeforeLogout()

	sp, tk, ok := s.setup(w)
	if !ok {
		return
	}

	// A logout message may arrive by form post or deflated in the query
	// string. With no message at all this is a plain local logout.
	if msg, binding, found := logoutMessage(r); found {
		if err := tk.ProcessLogout(msg, binding); err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				s.logger.Error("logout message rejected",
					"reason", vErr.Reason,
					"errors", multierror.Append(nil, vErr.Errors...),
				)
				s.hooks.fireSAMLError(vErr.Errors, vErr.Reason)
				s.fail(w, CodeValidationFailed)
				return
			}
			s.logger.Error("processing logout message", "error", err)
			s.fail(w, CodeInternal)
			return
		}
	}

	s.hooks.fireBeforeLocalLogout()
	if err := s.sessions.Destroy(w, r); err != nil {
		s.logger.Error("destroying session", "error", err)
		s.fail(w, CodeInternal)
		return
	}
	s.hooks.fireAfterLocalLogout()

	http.Redirect(w, r, sp.HomeURL.String(), http.StatusFound)
}

func (s *Service) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	_, tk, ok := s.setup(w)
	if !ok {
		return
	}

	doc, err := tk.SPMetadata()
	if err != nil {
		s.logger.Error("generating SP metadata", "error", err)
		s.fail(w, CodeInternal)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	if _, err := w.Write(doc); err != nil {
		s.logger.Error("writing SP metadata", "error", err)
	}
}

// setup fetches the per-request configuration snapshots and builds a fresh
// toolkit from them. On failure it writes the coded response itself and
// reports !ok.
func (s *Service) setup(w http.ResponseWriter) (*SPConfig, Toolkit, bool) {
	sp, err := s.config.SPConfig()
	if err != nil {
		s.logger.Error("loading SP configuration", "error", err)
		s.fail(w, CodeInvalidConfig)
		return nil, nil, false
	}
	idp, err := s.config.IdPConfig()
	if err != nil {
		s.logger.Error("loading IdP configuration", "error", err)
		s.fail(w, CodeInvalidConfig)
		return nil, nil, false
	}

	tk, err := s.toolkit(sp, idp, WithClock(s.clock))
	if err != nil {
		s.logger.Error("building SAML toolkit", "error", err)
		if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidCertificate) {
			s.fail(w, CodeInvalidConfig)
		} else {
			s.fail(w, CodeInternal)
		}
		return nil, nil, false
	}
	return sp, tk, true
}

// fail writes the generic numbered failure for the given code. Protocol and
// validator detail never reaches the client; it lives in the server log
// only.
func (s *Service) fail(w http.ResponseWriter, code ErrorCode) {
	status := http.StatusInternalServerError
	switch code {
	case CodeAuthenticationFailed, CodeValidationFailed:
		status = http.StatusForbidden
	}
	http.Error(w, code.UserMessage(), status)
}

func logoutMessage(r *http.Request) (msg string, binding LogoutBinding, found bool) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return "", 0, false
		}
		for _, param := range []string{"SAMLRequest", "SAMLResponse"} {
			if v := r.PostFormValue(param); v != "" {
				return v, LogoutBindingPost, true
			}
		}
		return "", 0, false
	}
	q := r.URL.Query()
	for _, param := range []string{"SAMLRequest", "SAMLResponse"} {
		if v := q.Get(param); v != "" {
			return v, LogoutBindingRedirect, true
		}
	}
	return "", 0, false
}
