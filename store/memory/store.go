// Package memory provides an in-memory samlauth.IdentityStore with atomic
// create-if-absent semantics. It backs tests and the demo server; production
// deployments use the postgres store or the host's own user store.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sitecraft/samlauth"
)

type record struct {
	account  samlauth.Account
	password string
	role     string
	metadata map[string]string
}

// Store is a mutex-guarded map store. Emails and usernames are unique;
// concurrent CreateAccount calls for the same subject serialize on the lock
// and the loser receives samlauth.ErrAccountExists.
type Store struct {
	mu sync.Mutex

	byEmail    map[string]*record
	byUsername map[string]string // username -> email

	// roles, when non-nil, is the set of assignable roles; SetRole rejects
	// anything else with samlauth.ErrUnknownRole. A nil set accepts any role.
	roles map[string]struct{}
}

var _ samlauth.IdentityStore = (*Store)(nil)

// New creates an empty Store accepting any role.
func New() *Store {
	return &Store{
		byEmail:    make(map[string]*record),
		byUsername: make(map[string]string),
	}
}

// WithRoles restricts SetRole to the given role names and returns the store.
func (s *Store) WithRoles(roles ...string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = make(map[string]struct{}, len(roles))
	for _, r := range roles {
		s.roles[strings.ToLower(r)] = struct{}{}
	}
	return s
}

func (s *Store) FindByEmail(_ context.Context, email string) (*samlauth.Account, error) {
	const op = "memory.Store.FindByEmail"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, email, samlauth.ErrAccountNotFound)
	}
	acct := rec.account
	return &acct, nil
}

func (s *Store) CreateAccount(_ context.Context, username, password, email string) (*samlauth.Account, error) {
	const op = "memory.Store.CreateAccount"

	if username == "" || email == "" {
		return nil, fmt.Errorf("%s: missing username or email: %w", op, samlauth.ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, fmt.Errorf("%s: email %q: %w", op, email, samlauth.ErrAccountExists)
	}
	if _, ok := s.byUsername[username]; ok {
		return nil, fmt.Errorf("%s: username %q: %w", op, username, samlauth.ErrAccountExists)
	}

	rec := &record{
		account: samlauth.Account{
			ID:       uuid.NewString(),
			Username: username,
			Email:    email,
		},
		password: password,
		metadata: make(map[string]string),
	}
	s.byEmail[email] = rec
	s.byUsername[username] = email

	acct := rec.account
	return &acct, nil
}

func (s *Store) SetRole(_ context.Context, accountID, role string) error {
	const op = "memory.Store.SetRole"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.roles != nil {
		// Role names compare case-insensitively, matching WithRoles.
		if _, ok := s.roles[strings.ToLower(role)]; !ok {
			return fmt.Errorf("%s: role %q: %w", op, role, samlauth.ErrUnknownRole)
		}
	}
	rec.role = role
	return nil
}

func (s *Store) SetMetadata(_ context.Context, accountID, field, value string) error {
	const op = "memory.Store.SetMetadata"

	if field == "" {
		return fmt.Errorf("%s: missing field name: %w", op, samlauth.ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rec.metadata[field] = value
	return nil
}

// Role reports the role assigned to an account. Test helper.
func (s *Store) Role(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, err := s.lookup(accountID); err == nil {
		return rec.role
	}
	return ""
}

// Metadata reports a copy of an account's metadata fields. Test helper.
func (s *Store) Metadata(accountID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(accountID)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(rec.metadata))
	for k, v := range rec.metadata {
		out[k] = v
	}
	return out
}

// lookup must be called with the mutex held.
func (s *Store) lookup(accountID string) (*record, error) {
	for _, rec := range s.byEmail {
		if rec.account.ID == accountID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", accountID, samlauth.ErrAccountNotFound)
}
