// Package database centralises sqlx connection helpers.  The central store
// uses go-sql-driver/mysql, which also works with MariaDB when configured
// for the MySQL wire protocol.  Tenant connections may also be SQLite files,
// opened through modernc.org/sqlite (driver name "sqlite", no cgo).
//
// Public entry points:
//
//	Open(ctx, dsn)                     – central store, conservative pool.
//	OpenWithOptions(ctx, driver, dsn, opts) – fine-grained control.
//	OpenDescriptor(ctx, desc)          – one tenant connection.
//
// All helpers Ping the database before returning so callers can fail fast.
// Callers should Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/yanizio/hostbus/internal/connection"
)

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         int
	RetryBackoff    time.Duration
}

// CentralOptions sizes the process-wide pool for the central store.
var CentralOptions = Options{
	MaxOpenConns:    15,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
	Retries:         3,
	RetryBackoff:    time.Second,
}

// TenantOptions keeps per-tenant resource usage small; tenant pools are
// short-lived (one migration run or one request scope).
var TenantOptions = Options{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 30 * time.Minute,
	Retries:         1,
	RetryBackoff:    500 * time.Millisecond,
}

// Open connects to the central store.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, "mysql", dsn, CentralOptions)
}

// OpenDescriptor connects to one tenant connection.
func OpenDescriptor(ctx context.Context, d connection.Descriptor) (*sqlx.DB, error) {
	driver, dsn, err := d.DSN()
	if err != nil {
		return nil, err
	}
	db, err := OpenWithOptions(ctx, driver, dsn, TenantOptions)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", d.Name, err)
	}
	return db, nil
}

// OpenWithOptions opens and pings a pool, retrying the ping opts.Retries
// times with a fixed backoff.
func OpenWithOptions(ctx context.Context, driver, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	for attempt := 0; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if attempt >= opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(opts.RetryBackoff):
		}
	}
	_ = db.Close()
	return nil, err
}
