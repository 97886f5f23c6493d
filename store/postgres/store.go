// Package postgres provides a samlauth.IdentityStore on PostgreSQL. Account
// uniqueness is enforced by the schema, so concurrent provisioning of the
// same subject resolves in the database: the loser gets a clean
// samlauth.ErrAccountExists. The schema lives in embedded migrations (see
// migrate.go).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecraft/samlauth"
)

// Store implements samlauth.IdentityStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ samlauth.IdentityStore = (*Store)(nil)

// New creates a Store on an existing pool. The caller owns the pool's
// lifecycle.
func New(pool *pgxpool.Pool) (*Store, error) {
	const op = "postgres.New"
	if pool == nil {
		return nil, fmt.Errorf("%s: missing connection pool: %w", op, samlauth.ErrInvalidParameter)
	}
	return &Store{pool: pool}, nil
}

// Open connects to the database and returns a Store owning the pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	const op = "postgres.Open"
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: connecting: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: pinging database: %w", op, err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*samlauth.Account, error) {
	const op = "postgres.Store.FindByEmail"

	var acct samlauth.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email FROM accounts WHERE email = $1`,
		email,
	).Scan(&acct.ID, &acct.Username, &acct.Email)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%s: %q: %w", op, email, samlauth.ErrAccountNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, username, password, email string) (*samlauth.Account, error) {
	const op = "postgres.Store.CreateAccount"

	if username == "" || email == "" {
		return nil, fmt.Errorf("%s: missing username or email: %w", op, samlauth.ErrInvalidParameter)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash) VALUES ($1, $2, $3, $4)`,
		id, username, email, hash,
	)
	if err != nil {
		if isPgErr(err, pgerrcode.UniqueViolation) {
			return nil, fmt.Errorf("%s: %q: %w", op, email, samlauth.ErrAccountExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &samlauth.Account{ID: id, Username: username, Email: email}, nil
}

func (s *Store) SetRole(ctx context.Context, accountID, role string) error {
	const op = "postgres.Store.SetRole"

	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET role = $2 WHERE id = $1`,
		accountID, role,
	)
	if err != nil {
		if isPgErr(err, pgerrcode.ForeignKeyViolation) {
			return fmt.Errorf("%s: role %q: %w", op, role, samlauth.ErrUnknownRole)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: account %q: %w", op, accountID, samlauth.ErrAccountNotFound)
	}
	return nil
}

func (s *Store) SetMetadata(ctx context.Context, accountID, field, value string) error {
	const op = "postgres.Store.SetMetadata"

	if field == "" {
		return fmt.Errorf("%s: missing field name: %w", op, samlauth.ErrInvalidParameter)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_metadata (account_id, field, value) VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, field) DO UPDATE SET value = EXCLUDED.value`,
		accountID, field, value,
	)
	if err != nil {
		if isPgErr(err, pgerrcode.ForeignKeyViolation) {
			return fmt.Errorf("%s: account %q: %w", op, accountID, samlauth.ErrAccountNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
