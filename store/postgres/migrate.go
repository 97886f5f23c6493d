package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrator builds a migrate runner on the embedded migration files.
func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	const op = "postgres.newMigrator"

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("%s: loading embedded migrations: %w", op, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgxURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("%s: creating migrate runner: %w", op, err)
	}
	return m, nil
}

// pgxURL rewrites a postgres:// URL to the scheme golang-migrate's pgx/v5
// driver registers under.
func pgxURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

// MigrateUp applies all pending schema migrations.
func MigrateUp(databaseURL string) error {
	const op = "postgres.MigrateUp"

	m, err := newMigrator(databaseURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: applying migrations: %w", op, err)
	}
	return nil
}

// MigrateDown rolls back the given number of migration steps.
func MigrateDown(databaseURL string, steps int) error {
	const op = "postgres.MigrateDown"

	if steps <= 0 {
		return fmt.Errorf("%s: steps must be positive", op)
	}
	m, err := newMigrator(databaseURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeMigrator(m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: rolling back migrations: %w", op, err)
	}
	return nil
}

// MigrateForce force-sets the schema version without running migrations.
func MigrateForce(databaseURL string, version int) error {
	const op = "postgres.MigrateForce"

	m, err := newMigrator(databaseURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeMigrator(m)

	if err := m.Force(version); err != nil {
		return fmt.Errorf("%s: forcing version: %w", op, err)
	}
	return nil
}

func closeMigrator(m *migrate.Migrate) {
	m.Close()
}
