// Package migrations applies the embedded schema of the access store and the
// audit event store with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql mysql/*.sql
var migrationFS embed.FS

// Target names a schema managed by this package.
type Target string

const (
	// TargetPostgres is the access code, ledger and session schema.
	TargetPostgres Target = "postgres"
	// TargetMySQL is the audit event schema.
	TargetMySQL Target = "mysql"
)

// Direction is the migration direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ErrNoChange is returned by Version when no migration has been applied.
var ErrNoChange = migrate.ErrNoChange

// ParseTarget validates a target name.
func ParseTarget(name string) (Target, error) {
	switch Target(strings.ToLower(name)) {
	case TargetPostgres:
		return TargetPostgres, nil
	case TargetMySQL:
		return TargetMySQL, nil
	default:
		return "", fmt.Errorf("unknown migration target %q, want postgres or mysql", name)
	}
}

// ParseDirection validates a direction name.
func ParseDirection(name string) (Direction, error) {
	switch Direction(name) {
	case Up, Down:
		return Direction(name), nil
	default:
		return "", fmt.Errorf("direction must be up or down, got %q", name)
	}
}

// Files lists the embedded migration files of target.
func Files(target Target) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, string(target))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s migrations: %w", target, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// DatabaseURL returns the golang-migrate URL for a driver DSN. MySQL DSNs
// are given the mysql:// scheme; postgres URLs are returned unchanged.
func DatabaseURL(target Target, dsn string) string {
	if target == TargetMySQL && !strings.HasPrefix(dsn, "mysql://") {
		return "mysql://" + dsn
	}
	return dsn
}

// Run applies the migrations of target in direction. An already current
// schema is not an error.
func Run(target Target, databaseURL string, direction Direction) error {
	if databaseURL == "" {
		return errors.New("database URL is not set")
	}
	if _, err := ParseDirection(string(direction)); err != nil {
		return err
	}

	m, err := open(target, databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %s %s: %w", target, direction, err)
	}
	return nil
}

// Version reports the applied version of target and whether it is dirty.
func Version(target Target, databaseURL string) (uint, bool, error) {
	m, err := open(target, databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, ErrNoChange
	}
	return version, dirty, err
}

func open(target Target, databaseURL string) (*migrate.Migrate, error) {
	if _, err := ParseTarget(string(target)); err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationFS, string(target))
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, DatabaseURL(target, databaseURL))
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}
