// internal/deploy/locker.go
//
// Per-app admission locks.
//
// Context
// -------
// cmd/web, cmd/hostctl, and the cron job each build their own Engine over
// one central store and one apps/ directory.  The in-process locker keeps
// goroutines of one Engine apart; the shared Locker keeps Engines in
// different processes apart.  An attempt holds both for its whole run.
//
// Notes
// -----
//   - MySQLLocker uses GET_LOCK with a zero timeout on a pinned connection.
//     The lock lives as long as that session, so a crashed process frees
//     its apps as soon as MySQL drops the connection.
//   - Lock names are capped at 64 characters by MySQL; long app names are
//     hashed.
package deploy

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Locker grants exclusive ownership of an app across processes.  TryLock
// never waits; ok is false when another holder has app.
type Locker interface {
	TryLock(ctx context.Context, app string) (release func(), ok bool, err error)
}

// locker grants at most one holder per app name.  It never blocks.
type locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocker() *locker { return &locker{held: make(map[string]struct{})} }

// TryLock claims app, returning false when it is already held.
func (l *locker) TryLock(app string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[app]; busy {
		return false
	}
	l.held[app] = struct{}{}
	return true
}

// Unlock releases app.
func (l *locker) Unlock(app string) {
	l.mu.Lock()
	delete(l.held, app)
	l.mu.Unlock()
}

// Held reports whether app is currently claimed.
func (l *locker) Held(app string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[app]
	return ok
}

const lockPrefix = "hostbus:deploy:"

// MySQLLocker implements Locker with MySQL named locks on the central
// store.
type MySQLLocker struct {
	db *sqlx.DB
}

// NewMySQLLocker returns a Locker backed by db.
func NewMySQLLocker(db *sqlx.DB) *MySQLLocker { return &MySQLLocker{db: db} }

// TryLock takes the named lock for app on a dedicated connection.  The
// connection returns to the pool when release runs.
func (l *MySQLLocker) TryLock(ctx context.Context, app string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	name := LockName(app)

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("get lock %s: %w", name, err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var released sql.NullInt64
			if err := conn.QueryRowContext(rctx, `SELECT RELEASE_LOCK(?)`, name).Scan(&released); err != nil {
				zap.S().Warnw("release deploy lock", "lock", name, "error", err)
			}
			_ = conn.Close()
		})
	}
	return release, true, nil
}

// LockName is the MySQL named lock guarding app.
func LockName(app string) string {
	name := lockPrefix + app
	if len(name) <= 64 {
		return name
	}
	sum := sha1.Sum([]byte(app))
	return lockPrefix + hex.EncodeToString(sum[:])
}
