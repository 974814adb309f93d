package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate runs the schema migrations of backend on db and returns the
// resulting version.
//   - If target < 0, it migrates to the latest version.
//   - If target == 0, it rolls back all migrations.
//   - If target > 0, it migrates to that version.
//
// The migrate instance is not closed since closing it closes db.
func Migrate(db *sql.DB, backend string, target int) (uint, error) {
	var driver database.Driver
	var err error
	switch backend {
	case store.BackendSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case store.BackendPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return 0, fmt.Errorf("migrations are not supported for backend %s", backend)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create %s migrate driver: %w", backend, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+backend)
	if err != nil {
		return 0, fmt.Errorf("failed to access migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "lifelog", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		return current, fmt.Errorf("database is in a dirty state at version %d, fix manually or force the version", current)
	}

	switch {
	case target < 0:
		err = m.Up()
	case target == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(target))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return current, fmt.Errorf("failed to migrate %s schema: %w", backend, err)
	}

	version, _, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return current, fmt.Errorf("failed to read migration version: %w", verr)
	}

	logger := logging.Global().With("component", "sqlstore", "backend", backend)
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("Schema already up to date", "version", version)
	} else {
		logger.Info("Schema migrated", "from", current, "to", version)
	}
	return version, nil
}
