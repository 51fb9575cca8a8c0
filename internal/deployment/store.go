// internal/deployment/store.go
//
// Deployment history persistence.
//
// Context
// -------
// The deployment engine is the only writer.  It inserts a pending row at
// admission and later calls exactly one of MarkSuccess or MarkFailed.  Both
// updates carry `AND status = 'pending'` so a terminal row can never be
// rewritten; a zero row count surfaces as ErrNotPending.
//
// Readers are the admin API (List, Recent, ByID) and the engine's admission
// and boot-time recovery (PendingByApp, Pending).
//
// Notes
// -----
//   - List orders newest-first by deployed_at, then id for ties.
//   - Limit defaults to DefaultLimit and is capped at MaxLimit.
package deployment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

var (
	// ErrNotFound is returned when no deployment matches the lookup.
	ErrNotFound = errors.New("deployment not found")

	// ErrNotPending is returned when a terminal transition targets a row
	// that already left `pending`.
	ErrNotPending = errors.New("deployment is not pending")
)

const columns = `id, site_id, app_name, git_commit, status, deployed_by,
               deployed_at, error_message, deployment_notes, created_at, updated_at`

// Store reads and writes deployments.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps a central-store pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts r as a pending row and fills ID and timestamps.
func (s *Store) Create(ctx context.Context, r *Record) error {
	now := s.now().UTC()
	if r.DeployedAt.IsZero() {
		r.DeployedAt = now
	}
	r.Status = StatusPending
	r.ErrorMessage = nil

	res, err := s.db.ExecContext(ctx, `INSERT INTO deployments
        (site_id, app_name, git_commit, status, deployed_by, deployed_at,
         deployment_notes, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SiteID, r.AppName, r.GitCommit, StatusPending, r.DeployedBy, r.DeployedAt,
		r.DeploymentNotes, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = uint64(id)
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

// MarkSuccess moves a pending row to success, recording the deployed
// commit when known.
func (s *Store) MarkSuccess(ctx context.Context, id uint64, commit *string) error {
	return s.finish(ctx, `UPDATE deployments
        SET status = 'success', git_commit = COALESCE(?, git_commit), updated_at = ?
        WHERE id = ? AND status = 'pending'`, commit, s.now().UTC(), id)
}

// MarkFailed moves a pending row to failed with a one-line reason.
func (s *Store) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return s.finish(ctx, `UPDATE deployments
        SET status = 'failed', error_message = ?, updated_at = ?
        WHERE id = ? AND status = 'pending'`, reason, s.now().UTC(), id)
}

// ByID fetches one deployment.
func (s *Store) ByID(ctx context.Context, id uint64) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT `+columns+` FROM deployments WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns the newest deployments, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.List(ctx, Filter{Limit: limit})
}

// PendingByApp returns the non-terminal deployments of app.
func (s *Store) PendingByApp(ctx context.Context, app string) ([]Record, error) {
	return s.List(ctx, Filter{Status: StatusPending, AppName: app, Limit: MaxLimit})
}

// List applies f and returns rows newest-first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AppName != "" {
		where = append(where, "app_name = ?")
		args = append(args, f.AppName)
	}
	if f.SiteID != nil {
		where = append(where, "site_id = ?")
		args = append(args, *f.SiteID)
	}
	if !f.From.IsZero() {
		where = append(where, "deployed_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "deployed_at <= ?")
		args = append(args, f.To)
	}

	q := `SELECT ` + columns + ` FROM deployments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY deployed_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(f.Limit))

	rows := make([]Record, 0, 16)
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// Pending returns every non-terminal deployment, oldest first.
func (s *Store) Pending(ctx context.Context) ([]Record, error) {
	rows := make([]Record, 0, 4)
	err := s.db.SelectContext(ctx, &rows, `SELECT `+columns+` FROM deployments
        WHERE status = 'pending' ORDER BY deployed_at, id`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes one terminal deployment.  Pending rows are kept so the
// per-app invariant cannot be bypassed.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ? AND status <> 'pending'`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) finish(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}
