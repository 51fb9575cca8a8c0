// internal/deploy/migrate.go
//
// SQL migrations for deployed apps.
//
// Context
// -------
// An app ships *.sql files under database/migrations/.  sql-migrate applies
// them against the tenant's default connection (MySQL or SQLite) and records
// each applied file in schema_migrations so a redeploy only runs new files.
//
// Notes
// -----
//   - Files may carry sql-migrate annotations ("-- +migrate Up", "Down",
//     "StatementBegin/End" for triggers and procedure bodies).  A file
//     without an Up annotation is treated as Up in its entirety.
//   - Files are ordered by their numeric prefix, then by name.
//   - Each file runs in its own transaction.  MySQL commits DDL implicitly,
//     so a MySQL file that fails half-way is not rolled back; it is not
//     recorded and runs again next deploy.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/yanizio/hostbus/internal/connection"
	"github.com/yanizio/hostbus/internal/database"
)

// MigrationsTable records applied migration files in the tenant database.
const MigrationsTable = "schema_migrations"

// SQLMigrator implements Migrator with sql-migrate.
type SQLMigrator struct {
	// Open connects to a descriptor.  Defaults to database.OpenDescriptor.
	Open func(ctx context.Context, d connection.Descriptor) (*sqlx.DB, error)
}

// Migrate applies pending files from dir and returns how many ran.
func (m SQLMigrator) Migrate(ctx context.Context, dir string, conn connection.Descriptor) (int, error) {
	src, err := loadMigrations(dir)
	if err != nil {
		return 0, err
	}
	if len(src.Migrations) == 0 {
		return 0, nil
	}

	open := m.Open
	if open == nil {
		open = database.OpenDescriptor
	}
	db, err := open(ctx, conn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	dialect, err := migrationDialect(db.DriverName())
	if err != nil {
		return 0, fmt.Errorf("connection %s: %w", conn.Name, err)
	}
	set := migrate.MigrationSet{TableName: MigrationsTable}
	return set.ExecContext(ctx, db.DB, dialect, src, migrate.Up)
}

// loadMigrations parses every *.sql file in dir.
func loadMigrations(dir string) (*migrate.MemoryMigrationSource, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	src := &migrate.MemoryMigrationSource{}
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		if !bytes.Contains(body, []byte("+migrate Up")) {
			body = append([]byte("-- +migrate Up\n"), body...)
		}
		mig, err := migrate.ParseMigration(filepath.Base(f), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(f), err)
		}
		src.Migrations = append(src.Migrations, mig)
	}
	return src, nil
}

// migrationDialect maps a database/sql driver name onto sql-migrate's.
func migrationDialect(driver string) (string, error) {
	switch driver {
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("%w: %s", connection.ErrUnsupportedDriver, driver)
	}
}
