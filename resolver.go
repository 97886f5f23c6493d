package samlauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Account is a local user record as the identity store reports it.
type Account struct {
	// ID is the store's opaque account identifier.
	ID string

	Username string
	Email    string
}

// Metadata field names the resolver writes through IdentityStore.SetMetadata.
// First and last name are ordinary metadata fields; the raw group value is
// kept under its own field so host applications can key policy off it.
const (
	MetaFirstName = "first_name"
	MetaLastName  = "last_name"
	MetaSAMLGroup = "saml_group"
)

// IdentityStore is the host's user store. FindByEmail reports a missing
// account with ErrAccountNotFound; CreateAccount reports a uniqueness
// violation with ErrAccountExists and must be atomic (no partial account on
// failure). SetRole reports a role the host does not know with
// ErrUnknownRole.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, username, password, email string) (*Account, error)
	SetRole(ctx context.Context, accountID, role string) error
	SetMetadata(ctx context.Context, accountID, field, value string) error
}

// ResolvedIdentity is the outcome of a successful resolution.
type ResolvedIdentity struct {
	Email   string
	Account *Account
	IsNew   bool
}

// DeriveEmail picks the email candidate for identity resolution: the subject
// identifier when it looks like an email address, otherwise the first
// non-empty first value of the mail, email, and EmailAddress attributes, in
// that fixed order. The first non-empty value is the winner; when it is not
// email-like the subject stays unresolved and later attributes are not
// consulted. Returns "" when no candidate is found.
func DeriveEmail(subjectID string, attrs Attributes) string {
	if strings.Contains(subjectID, "@") {
		return subjectID
	}
	for _, name := range []string{"mail", "email", "EmailAddress"} {
		v := attrs.First(name)
		if v == "" {
			continue
		}
		if strings.Contains(v, "@") {
			return v
		}
		return ""
	}
	return ""
}

// Resolver maps a validated assertion to a local account: find by exact
// email match, or provision a new account when the registration policy
// allows it. Attribute mapping is applied to newly provisioned accounts
// only; existing accounts are returned unchanged.
type Resolver struct {
	store  IdentityStore
	hooks  *Hooks
	logger hclog.Logger
}

// NewResolver creates a Resolver backed by the given store. Supported
// options: WithLogger, WithHooks.
func NewResolver(store IdentityStore, opt ...Option) (*Resolver, error) {
	const op = "samlauth.NewResolver"
	if store == nil {
		return nil, fmt.Errorf("%s: missing identity store: %w", op, ErrInvalidParameter)
	}
	opts := getServiceOpts(opt...)
	return &Resolver{
		store:  store,
		hooks:  opts.withHooks,
		logger: opts.withLogger,
	}, nil
}

// Resolve finds or provisions the account for the given email candidate.
// An empty candidate, or a missing account while auto-registration is
// disabled, yields ErrIdentityUnresolved. Provisioning failures wrap
// ErrProvisioning together with the store's error; the caller must not
// retry (the store's uniqueness constraint is the source of truth). A
// failure while applying the mapped profile to a freshly created account
// also fails the login, but the account remains; the next login resolves it
// as existing with whatever profile fields were written before the failure,
// and the condition is logged at error level.
func (r *Resolver) Resolve(ctx context.Context, email string, attrs Attributes, rules AttributeRules, policy RegistrationPolicy) (*ResolvedIdentity, error) {
	const op = "samlauth.Resolver.Resolve"

	if email == "" {
		return nil, fmt.Errorf("%s: no email candidate in assertion: %w", op, ErrIdentityUnresolved)
	}

	acct, err := r.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		r.logger.Debug("resolved existing account", "account_id", acct.ID)
		return &ResolvedIdentity{Email: email, Account: acct}, nil
	case !errors.Is(err, ErrAccountNotFound):
		return nil, fmt.Errorf("%s: looking up account: %w", op, err)
	}

	if !policy.AllowAutoRegistration {
		return nil, fmt.Errorf("%s: no account for subject and auto-registration is disabled: %w", op, ErrIdentityUnresolved)
	}

	acct, err = r.provision(ctx, email, attrs, rules)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ResolvedIdentity{Email: acct.Email, Account: acct, IsNew: true}, nil
}

func (r *Resolver) provision(ctx context.Context, email string, attrs Attributes, rules AttributeRules) (*Account, error) {
	const op = "samlauth.Resolver.provision"

	r.hooks.fireBeforeRegistration(email, attrs)

	email = r.hooks.transformRegistrationEmail(email)
	username, _, _ := strings.Cut(email, "@")
	username = r.hooks.transformRegistrationUsername(username)

	password, err := generatePassword()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	password = r.hooks.transformRegistrationPassword(password)

	acct, err := r.store.CreateAccount(ctx, username, password, email)
	if err != nil {
		return nil, fmt.Errorf("%s: creating account for %q: %w: %w", op, email, ErrProvisioning, err)
	}
	r.logger.Debug("provisioned account", "account_id", acct.ID, "username", username)

	plan := MapAttributes(attrs, rules)
	if err := r.applyPlan(ctx, acct, plan); err != nil {
		// The account already exists at this point and later logins resolve
		// it as existing, so the missing profile fields are never revisited.
		r.logger.Error("account created but profile application failed; profile stays incomplete",
			"account_id", acct.ID, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.hooks.fireAfterRegistration(acct, attrs)
	return acct, nil
}

func (r *Resolver) applyPlan(ctx context.Context, acct *Account, plan ProfilePlan) error {
	const op = "samlauth.Resolver.applyPlan"

	assignments := make([]MetadataAssignment, 0, len(plan.Metadata)+3)
	if plan.FirstName != "" {
		assignments = append(assignments, MetadataAssignment{Field: MetaFirstName, Value: plan.FirstName})
	}
	if plan.LastName != "" {
		assignments = append(assignments, MetadataAssignment{Field: MetaLastName, Value: plan.LastName})
	}
	if plan.Group != "" {
		assignments = append(assignments, MetadataAssignment{Field: MetaSAMLGroup, Value: plan.Group})
	}
	assignments = append(assignments, plan.Metadata...)

	for _, m := range assignments {
		v := r.hooks.transformRegistrationValue(m.Value, m.Field)
		if v == "" {
			continue
		}
		if err := r.store.SetMetadata(ctx, acct.ID, m.Field, v); err != nil {
			return fmt.Errorf("%s: setting metadata field %q: %w", op, m.Field, err)
		}
	}

	if plan.Role != "" {
		if err := r.store.SetRole(ctx, acct.ID, plan.Role); err != nil {
			if errors.Is(err, ErrUnknownRole) {
				// Fail soft on a role the host does not know.
				r.logger.Warn("skipping unknown role", "role", plan.Role, "account_id", acct.ID)
				return nil
			}
			return fmt.Errorf("%s: assigning role %q: %w", op, plan.Role, err)
		}
	}
	return nil
}

// generatePassword returns a random credential for accounts whose only login
// path is SSO. It is never surfaced to the user.
func generatePassword() (string, error) {
	const op = "samlauth.generatePassword"
	b, err := uuid.GenerateRandomBytes(24)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
