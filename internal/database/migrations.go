package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// withMigrator runs fn against the migrations in migrationsPath. The db handle
// is owned by the migrator and closed when fn returns.
func withMigrator(db *sql.DB, migrationsPath string, fn func(*migrate.Migrate) error) error {
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "pgx5", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("load migrations from %s: %w", migrationsPath, err)
	}
	defer m.Close()
	return fn(m)
}

// RunMigrations applies every pending up migration.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	return withMigrator(db, migrationsPath, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(db *sql.DB, migrationsPath string) error {
	return withMigrator(db, migrationsPath, func(m *migrate.Migrate) error {
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// GetMigrationVersion returns the applied version and whether it is dirty.
// A database without migrations reports version 0.
func GetMigrationVersion(db *sql.DB, migrationsPath string) (uint, bool, error) {
	var version uint
	var dirty bool
	err := withMigrator(db, migrationsPath, func(m *migrate.Migrate) error {
		var err error
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			version, dirty = 0, false
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		return nil
	})
	return version, dirty, err
}
