// internal/site/store.go
//
// `managed_sites` query helpers.
//
// Context
// -------
// The Store is the SiteRegistry: it is consulted by the host resolver
// (ByDomain), the deployment engine (ByAppName), the auto-deploy scheduler
// (AutoDeployable), and the admin API (All, ByID, Create, Update, Delete).
//
// Workflow
// --------
//  1. Callers supply a *sqlx.DB connected to the central store.
//  2. Each helper executes one parameterised statement (Delete uses a
//     transaction to detach deployment history first).
//  3. Rows are scanned into Record; sql.ErrNoRows becomes ErrNotFound.
//
// Notes
// -----
//   - Column list matches the fields in Record; update both together.
//   - Deleting a site never deletes its deployments.  They keep app_name
//     and lose site_id.
package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no site matches the lookup.
	ErrNotFound = errors.New("site not found")

	// ErrDuplicate is returned when domain or app_name is already taken.
	ErrDuplicate = errors.New("site domain or app name already exists")
)

const columns = `id, domain, app_name, site_title, theme_color, status,
               app_repository, app_branch, auto_deploy, notes,
               created_at, updated_at`

// Store reads and writes managed_sites.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps a central-store pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ByID fetches one site.
func (s *Store) ByID(ctx context.Context, id uint64) (*Record, error) {
	return s.one(ctx, `SELECT `+columns+` FROM managed_sites WHERE id = ? LIMIT 1`, id)
}

// ByDomain fetches the site serving host.
func (s *Store) ByDomain(ctx context.Context, domain string) (*Record, error) {
	return s.one(ctx, `SELECT `+columns+` FROM managed_sites WHERE domain = ? LIMIT 1`, domain)
}

// ByAppName fetches the site that owns app.
func (s *Store) ByAppName(ctx context.Context, app string) (*Record, error) {
	return s.one(ctx, `SELECT `+columns+` FROM managed_sites WHERE app_name = ? LIMIT 1`, app)
}

// All returns every site ordered by domain.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	return s.many(ctx, `SELECT `+columns+` FROM managed_sites ORDER BY domain`)
}

// ByStatus returns the sites in one status.
func (s *Store) ByStatus(ctx context.Context, status string) ([]Record, error) {
	return s.many(ctx, `SELECT `+columns+` FROM managed_sites WHERE status = ? ORDER BY domain`, status)
}

// AutoDeployable returns active sites flagged for automatic deployment that
// declare a repository.
func (s *Store) AutoDeployable(ctx context.Context) ([]Record, error) {
	return s.many(ctx, `SELECT `+columns+` FROM managed_sites
        WHERE status = 'active' AND auto_deploy = 1 AND app_repository IS NOT NULL
        ORDER BY app_name`)
}

// Create validates and inserts r, filling ID and timestamps.
func (s *Store) Create(ctx context.Context, r *Record) error {
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO managed_sites
        (domain, app_name, site_title, theme_color, status, app_repository,
         app_branch, auto_deploy, notes, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Domain, r.AppName, r.SiteTitle, r.ThemeColor, r.Status, r.AppRepository,
		r.AppBranch, r.AutoDeploy, r.Notes, now, now)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = uint64(id)
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

// Update validates and rewrites every mutable column of r.
func (s *Store) Update(ctx context.Context, r *Record) error {
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE managed_sites
        SET domain = ?, app_name = ?, site_title = ?, theme_color = ?, status = ?,
            app_repository = ?, app_branch = ?, auto_deploy = ?, notes = ?,
            updated_at = ?
        WHERE id = ?`,
		r.Domain, r.AppName, r.SiteTitle, r.ThemeColor, r.Status,
		r.AppRepository, r.AppBranch, r.AutoDeploy, r.Notes, now, r.ID)
	if err != nil {
		return translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	r.UpdatedAt = now
	return nil
}

// Delete removes a site after detaching its deployment history.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE deployments SET site_id = NULL WHERE site_id = ?`, id); err != nil {
		return fmt.Errorf("detach deployments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM managed_sites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

//
// helpers
//

func (s *Store) one(ctx context.Context, q string, args ...any) (*Record, error) {
	var rec Record
	if err := s.db.GetContext(ctx, &rec, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) many(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows := make([]Record, 0, 16)
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// translate maps MySQL duplicate-key errors (1062) onto ErrDuplicate.
func translate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return fmt.Errorf("%w: %s", ErrDuplicate, me.Message)
	}
	return err
}
