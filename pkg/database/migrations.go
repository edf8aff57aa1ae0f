package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationSet selects which embedded migration directory applies to a
// database file. The catalog database holds the project registry; each
// project database holds the domain tables.
type MigrationSet string

// Migration sets.
const (
	CatalogMigrations MigrationSet = "catalog"
	ProjectMigrations MigrationSet = "project"
)

// schemaMetaTable is where the migration version lives. Forward-only: each
// migration bumps the version, and every database file stays self-contained
// and movable.
const schemaMetaTable = "schema_meta"

// Migrate applies all pending migrations from the given set to db.
func Migrate(db *sql.DB, set MigrationSet) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: schemaMetaTable,
	})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(set))
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(set), driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source. Closing the instance would also close the
	// database driver, which closes the shared *sql.DB.
	if err := source.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

// OpenAndMigrate opens the database at path and brings its schema up to date.
func OpenAndMigrate(path string, set MigrationSet) (*sql.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, set); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
