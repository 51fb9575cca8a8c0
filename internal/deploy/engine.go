// internal/deploy/engine.go
//
// Deployment engine.
//
// Context
// -------
// An attempt takes one site from "whatever is in apps/<app>" to "the head
// of its branch, verified and set up", and records the outcome as exactly
// one deployments row.
//
// Workflow
// --------
//  1. Admission.  The per-app lock is claimed without waiting, first in
//     this process and then through the shared Locker.  A held lock, or a
//     live pending row for the app, is a BusyError and no row is written.
//  2. A pending row is created (site_id by app name, deployed_by operator
//     or the system user).
//  3. Checkout.  Missing tree → clone; existing tree → fetch, checkout,
//     pull.  First failing step ends the attempt with a VcsError.
//  4. Verify routes.yaml and resources/views/.  Missing → StructureError.
//     The tree is left in place for inspection.
//  5. Setup.  Migrations under database/migrations/ run against the default
//     connection and only warn on failure.  setup.sh failures are fatal.
//  6. The row is marked success (with HEAD) or failed (with Message(err)).
//
// Notes
// -----
//   - The context is checked between steps.  Cancellation marks the row
//     failed with a CancelledError and leaves the tree as it is.
//   - Terminal writes use a context detached from the caller so a cancelled
//     request still records its outcome.
//   - A pending row is orphaned once nobody can be running it: the shared
//     lock is ours, or it is older than Timeout plus orphanGrace.  Orphans
//     are failed with InterruptedReason at admission and at boot.
//   - Oxford commas, two spaces after periods.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/metrics"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

// App layout consulted during setup.
const (
	MigrationsDir = "database/migrations"
	SetupScript   = "setup.sh"
)

// InterruptedReason is written by RecoverInterrupted.
const InterruptedReason = "interrupted by restart"

// orphanGrace is added to Config.Timeout before a pending row is presumed
// abandoned by its process.
const orphanGrace = 5 * time.Minute

// Config carries the engine's paths and limits.
type Config struct {
	AppsDir      string
	BackupsDir   string
	Workers      int           // DeployMany pool size
	Timeout      time.Duration // per attempt; 0 disables
	SystemUserID int64         // deployed_by when no operator is known
}

// Deps are the engine's collaborators.  All are required except Locks and
// Logger.  Without Locks, exclusivity is only guaranteed inside this
// process.
type Deps struct {
	Vcs      VcsClient
	Archiver Archiver
	Migrator Migrator
	Scripts  ScriptRunner
	Store    Store
	Sites    SiteLookup
	Tenants  ConnectionSource
	Locks    Locker
	Logger   *zap.SugaredLogger
}

// Options describe who asked for an attempt.
type Options struct {
	Operator *int64 // nil → Config.SystemUserID
	Notes    string // stored in deployment_notes when non-empty
}

// Request is one element of a DeployMany batch.
type Request struct {
	Site    site.Record
	Options Options
}

// Outcome reports one DeployMany element.
type Outcome struct {
	AppName    string             `json:"app"`
	Succeeded  bool               `json:"success"`
	Deployment *deployment.Record `json:"deployment,omitempty"`
	Err        error              `json:"-"`
}

// Engine runs deployments.  Safe for concurrent use.
type Engine struct {
	cfg   Config
	deps  Deps
	log   *zap.SugaredLogger
	locks *locker
	now   func() time.Time

	// Background attempts started by Trigger.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New wires an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	log := deps.Logger
	if log == nil {
		log = zap.S()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		log:    log.With("component", "deploy"),
		locks:  newLocker(),
		now:    time.Now,
		base:   base,
		cancel: cancel,
	}
}

// Deploy runs one attempt synchronously.  On a fatal error the returned
// record (when admission succeeded) is already marked failed.
func (e *Engine) Deploy(ctx context.Context, s site.Record, opts Options) (*deployment.Record, error) {
	rec, release, err := e.admission(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	return e.run(ctx, s, rec)
}

// Trigger admits an attempt synchronously and runs the pipeline in the
// background.  The returned record is the pending row.  After Close it
// returns ErrClosed.
func (e *Engine) Trigger(ctx context.Context, s site.Record, opts Options) (*deployment.Record, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	rec, release, err := e.admission(ctx, s, opts)
	if err != nil {
		e.wg.Done()
		return nil, err
	}
	pending := *rec

	go func() {
		defer e.wg.Done()
		defer release()

		bctx, cancel := e.base, context.CancelFunc(func() {})
		if e.cfg.Timeout > 0 {
			bctx, cancel = context.WithTimeout(e.base, e.cfg.Timeout)
		}
		defer cancel()
		_, _ = e.run(bctx, s, rec)
	}()
	return &pending, nil
}

// DeployMany runs a batch on a bounded pool.  Outcomes are in input order.
// Entries naming the same app run one after another; distinct apps run in
// parallel, and no entry's failure affects another.
func (e *Engine) DeployMany(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))

	serial := make(map[string]*sync.Mutex, len(reqs))
	for _, r := range reqs {
		if _, ok := serial[r.Site.AppName]; !ok {
			serial[r.Site.AppName] = &sync.Mutex{}
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, r := range reqs {
		g.Go(func() error {
			mu := serial[r.Site.AppName]
			mu.Lock()
			defer mu.Unlock()

			rec, err := e.Deploy(ctx, r.Site, r.Options)
			out[i] = Outcome{AppName: r.Site.AppName, Succeeded: err == nil, Deployment: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Backup archives apps/<app> to
// <BackupsDir>/apps/<app>/<2006-01-02_15-04-05>.tar.gz and returns the path.
func (e *Engine) Backup(ctx context.Context, app string) (string, error) {
	dir := filepath.Join(e.cfg.AppsDir, app)
	if !site.ValidAppName(app) || !isDir(dir) {
		return "", &NotFoundError{App: app, Path: dir}
	}
	release, err := e.acquire(ctx, app)
	if err != nil {
		return "", err
	}
	defer release()

	destDir := filepath.Join(e.cfg.BackupsDir, "apps", app)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", &ArchiveError{App: app, Err: err}
	}
	dest := filepath.Join(destDir, e.now().Format("2006-01-02_15-04-05")+".tar.gz")

	base := filepath.Dir(filepath.Clean(e.cfg.AppsDir))
	rel := filepath.Join(filepath.Base(filepath.Clean(e.cfg.AppsDir)), app)
	if err := e.deps.Archiver.Archive(ctx, base, rel, dest); err != nil {
		_ = os.Remove(dest)
		return "", &ArchiveError{App: app, Err: err}
	}
	e.log.Infow("backup written", "app", app, "path", dest)
	return dest, nil
}

// RecoverInterrupted fails pending rows left by a dead process.  Apps
// whose lock is held, here or by another process, are skipped: their row
// belongs to a live attempt.  Call once at boot.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int64, error) {
	rows, err := e.deps.Store.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted deployments: %w", err)
	}
	byApp := make(map[string][]deployment.Record)
	for _, r := range rows {
		byApp[r.AppName] = append(byApp[r.AppName], r)
	}

	var n int64
	for _, app := range slices.Sorted(maps.Keys(byApp)) {
		release, err := e.acquire(ctx, app)
		var be *BusyError
		if errors.As(err, &be) {
			e.log.Infow("pending deployment still running; left alone", "app", app)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("recover interrupted deployments: %w", err)
		}
		for _, r := range byApp[app] {
			if e.failOrphan(ctx, r) {
				n++
			}
		}
		release()
	}
	if n > 0 {
		e.log.Warnw("marked interrupted deployments failed", "count", n)
	}
	return n, nil
}

// Busy reports whether an attempt in this process currently holds app.
func (e *Engine) Busy(app string) bool { return e.locks.Held(app) }

// Close stops accepting Trigger calls, cancels background attempts, and
// waits for them to record their outcome.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// acquire claims app in this process and then through the shared Locker.
// A holder anywhere is a BusyError.
func (e *Engine) acquire(ctx context.Context, app string) (func(), error) {
	if !e.locks.TryLock(app) {
		return nil, &BusyError{App: app}
	}
	if e.deps.Locks == nil {
		return func() { e.locks.Unlock(app) }, nil
	}
	release, ok, err := e.deps.Locks.TryLock(ctx, app)
	if err != nil {
		e.locks.Unlock(app)
		return nil, fmt.Errorf("lock %s: %w", app, err)
	}
	if !ok {
		e.locks.Unlock(app)
		return nil, &BusyError{App: app}
	}
	return func() {
		release()
		e.locks.Unlock(app)
	}, nil
}

// admission takes the app lock and writes the pending row.  On success the
// caller owns release.
func (e *Engine) admission(ctx context.Context, s site.Record, opts Options) (*deployment.Record, func(), error) {
	release, err := e.acquire(ctx, s.AppName)
	if err == nil {
		var rec *deployment.Record
		if rec, err = e.admit(ctx, s, opts); err == nil {
			return rec, release, nil
		}
		release()
	}
	var be *BusyError
	if errors.As(err, &be) {
		metrics.DeploymentsRejectedTotal.Inc()
	}
	return nil, nil, err
}

// orphaned reports whether no live attempt can own r.  Called with the
// app lock held.
func (e *Engine) orphaned(r deployment.Record) bool {
	if e.deps.Locks != nil {
		return true
	}
	return e.cfg.Timeout > 0 && e.now().Sub(r.DeployedAt) > e.cfg.Timeout+orphanGrace
}

// failOrphan marks r failed with InterruptedReason and reports whether the
// row changed.
func (e *Engine) failOrphan(ctx context.Context, r deployment.Record) bool {
	err := e.deps.Store.MarkFailed(ctx, r.ID, InterruptedReason)
	switch {
	case err == nil:
		metrics.DeploymentsTotal.WithLabelValues(deployment.StatusFailed).Inc()
		return true
	case !errors.Is(err, deployment.ErrNotPending):
		e.log.Warnw("fail interrupted deployment", "app", r.AppName, "deployment_id", r.ID, "error", err)
	}
	return false
}

//
// pipeline
//

func (e *Engine) admit(ctx context.Context, s site.Record, opts Options) (*deployment.Record, error) {
	if !site.ValidAppName(s.AppName) {
		return nil, fmt.Errorf("invalid app name %q", s.AppName)
	}

	// The lock is ours; a pending row is either a live attempt in a process
	// without the shared Locker, or an orphan.
	pending, err := e.deps.Store.PendingByApp(ctx, s.AppName)
	if err != nil {
		return nil, fmt.Errorf("check pending deployments: %w", err)
	}
	for _, p := range pending {
		if !e.orphaned(p) {
			return nil, &BusyError{App: s.AppName}
		}
		e.failOrphan(ctx, p)
	}

	rec := &deployment.Record{AppName: s.AppName, Status: deployment.StatusPending}

	if e.deps.Sites != nil {
		owner, err := e.deps.Sites.ByAppName(ctx, s.AppName)
		switch {
		case err == nil:
			id := owner.ID
			rec.SiteID = &id
		case !errors.Is(err, site.ErrNotFound):
			e.log.Warnw("site lookup failed; recording without site_id", "app", s.AppName, "error", err)
		}
	}

	by := e.cfg.SystemUserID
	if opts.Operator != nil {
		by = *opts.Operator
	}
	rec.DeployedBy = &by
	if opts.Notes != "" {
		notes := opts.Notes
		rec.DeploymentNotes = &notes
	}

	if err := e.deps.Store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create deployment record: %w", err)
	}
	return rec, nil
}

func (e *Engine) run(ctx context.Context, s site.Record, rec *deployment.Record) (*deployment.Record, error) {
	log := e.log.With("app", s.AppName, "deployment_id", rec.ID)
	start := time.Now()
	metrics.DeploymentsInFlight.Inc()
	defer metrics.DeploymentsInFlight.Dec()
	defer func() { metrics.DeploymentDuration.Observe(time.Since(start).Seconds()) }()

	log.Infow("deployment started", "branch", s.Branch())
	commit, err := e.pipeline(ctx, s, log)

	// Outcome writes must land even when ctx is done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err != nil {
		msg := Message(err)
		if mErr := e.deps.Store.MarkFailed(wctx, rec.ID, msg); mErr != nil {
			log.Errorw("record failure", "error", mErr)
		}
		rec.Status = deployment.StatusFailed
		rec.ErrorMessage = &msg
		metrics.DeploymentsTotal.WithLabelValues(deployment.StatusFailed).Inc()
		log.Errorw("deployment failed", "error", msg)
		return rec, err
	}

	if mErr := e.deps.Store.MarkSuccess(wctx, rec.ID, commit); mErr != nil {
		err := fmt.Errorf("record success: %w", mErr)
		msg := Message(err)
		log.Errorw("record success", "error", mErr)
		if fErr := e.deps.Store.MarkFailed(wctx, rec.ID, msg); fErr != nil {
			log.Errorw("record failure", "error", fErr)
		} else {
			rec.Status = deployment.StatusFailed
			rec.ErrorMessage = &msg
		}
		metrics.DeploymentsTotal.WithLabelValues(deployment.StatusFailed).Inc()
		return rec, err
	}
	rec.Status = deployment.StatusSuccess
	if commit != nil {
		rec.GitCommit = commit
	}
	metrics.DeploymentsTotal.WithLabelValues(deployment.StatusSuccess).Inc()
	log.Infow("deployment succeeded", "commit", deref(commit), "took", time.Since(start).Round(time.Millisecond))
	return rec, nil
}

func (e *Engine) pipeline(ctx context.Context, s site.Record, log *zap.SugaredLogger) (*string, error) {
	target := s.AppPath(e.cfg.AppsDir)

	if err := checkpoint(ctx, "checkout"); err != nil {
		return nil, err
	}
	if err := e.checkout(ctx, s, target); err != nil {
		return nil, cancelled(ctx, "checkout", err)
	}

	if err := checkpoint(ctx, "verify"); err != nil {
		return nil, err
	}
	if err := Verify(s.AppName, target); err != nil {
		return nil, err
	}

	if err := checkpoint(ctx, "setup"); err != nil {
		return nil, err
	}
	if err := e.setup(ctx, s.AppName, target, log); err != nil {
		return nil, cancelled(ctx, "setup", err)
	}

	head, err := e.deps.Vcs.Head(ctx, target)
	if err != nil {
		log.Warnw("could not read HEAD", "error", err)
		return nil, nil
	}
	return &head, nil
}

func (e *Engine) checkout(ctx context.Context, s site.Record, target string) error {
	_, err := os.Stat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		repo := s.Repository()
		if repo == "" {
			return &VcsError{Command: "git clone", Err: ErrNoRepository}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return vcsStep("git clone", e.deps.Vcs.Clone(ctx, repo, s.Branch(), target))
	case err != nil:
		return err
	}

	if err := vcsStep("git fetch", e.deps.Vcs.Fetch(ctx, target)); err != nil {
		return err
	}
	if err := vcsStep("git checkout", e.deps.Vcs.Checkout(ctx, target, s.Branch())); err != nil {
		return err
	}
	return vcsStep("git pull", e.deps.Vcs.Pull(ctx, target, s.Branch()))
}

func (e *Engine) setup(ctx context.Context, app, target string, log *zap.SugaredLogger) error {
	migrations := filepath.Join(target, MigrationsDir)
	script := filepath.Join(target, SetupScript)
	hasMigrations, hasScript := isDir(migrations), isFile(script)
	if !hasMigrations && !hasScript {
		return nil
	}

	tc, err := e.deps.Tenants.Resolve(ctx, app, false)
	if err != nil {
		if hasScript {
			return &SetupError{Step: "tenant environment", Err: err}
		}
		e.warnMigration(log, &MigrationWarning{App: app, Err: err})
		return nil
	}

	if hasMigrations {
		if conn, ok := tc.Default(); ok {
			n, err := e.deps.Migrator.Migrate(ctx, migrations, conn)
			if err != nil {
				e.warnMigration(log, &MigrationWarning{App: app, Connection: conn.Name, Err: err})
			} else {
				log.Infow("migrations applied", "connection", conn.Name, "count", n)
			}
		} else {
			log.Infow("no default connection; migrations skipped")
		}
	}

	if err := checkpoint(ctx, "setup script"); err != nil {
		return err
	}
	if hasScript {
		if err := e.deps.Scripts.Run(ctx, target, SetupScript, tc.Env); err != nil {
			return &SetupError{Step: SetupScript, Err: err}
		}
		log.Infow("setup script finished")
	}
	return nil
}

func (e *Engine) warnMigration(log *zap.SugaredLogger, w *MigrationWarning) {
	metrics.MigrationWarningsTotal.Inc()
	log.Warnw("migration failed; continuing", "error", w)
}

//
// helpers
//

// Verify checks the files a deployed app must provide.
func Verify(app, target string) error {
	var missing []string
	if !isFile(filepath.Join(target, tenant.ManifestFile)) {
		missing = append(missing, tenant.ManifestFile)
	}
	if !isDir(filepath.Join(target, tenant.ViewsDir)) {
		missing = append(missing, tenant.ViewsDir+"/")
	}
	if len(missing) > 0 {
		return &StructureError{App: app, Missing: missing}
	}
	return nil
}

// vcsStep names a failed git step unless the client already did.
func vcsStep(step string, err error) error {
	if err == nil {
		return nil
	}
	var ve *VcsError
	if errors.As(err, &ve) {
		return err
	}
	return &VcsError{Command: step, Err: err}
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{Stage: stage, Err: err}
	}
	return nil
}

// cancelled rewrites err as a CancelledError when ctx ended during stage.
func cancelled(ctx context.Context, stage string, err error) error {
	if ctx.Err() == nil {
		return err
	}
	var ce *CancelledError
	if errors.As(err, &ce) {
		return err
	}
	return &CancelledError{Stage: stage, Err: errors.Join(ctx.Err(), err)}
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
