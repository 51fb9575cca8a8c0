package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/hostbus/internal/connection"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

//
// VCS
//

// fakeVcs writes files into the target on clone and pull.
type fakeVcs struct {
	mu    sync.Mutex
	calls []string
	files map[string]string // relative path → body
	fail  map[string]error  // step → error
	head  string

	// onClone runs before Clone returns; used to block or cancel.
	onClone func(ctx context.Context) error
}

func newFakeVcs() *fakeVcs {
	return &fakeVcs{
		files: map[string]string{
			tenant.ManifestFile:            "routes:\n  - path: /\n    view: home.html\n",
			tenant.ViewsDir + "/home.html": "<h1>home</h1>",
		},
		fail: map[string]error{},
		head: "0123456789abcdef0123456789abcdef01234567",
	}
}

func (f *fakeVcs) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	step, _, _ := strings.Cut(call, " ")
	return f.fail[step]
}

func (f *fakeVcs) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVcs) write(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rel, body := range f.files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeVcs) Clone(ctx context.Context, repo, branch, dir string) error {
	if err := f.record(fmt.Sprintf("clone %s %s", branch, repo)); err != nil {
		return err
	}
	if f.onClone != nil {
		if err := f.onClone(ctx); err != nil {
			return err
		}
	}
	return f.write(dir)
}

func (f *fakeVcs) Fetch(_ context.Context, _ string) error { return f.record("fetch origin") }

func (f *fakeVcs) Checkout(_ context.Context, _, branch string) error {
	return f.record("checkout " + branch)
}

func (f *fakeVcs) Pull(_ context.Context, dir, branch string) error {
	if err := f.record("pull " + branch); err != nil {
		return err
	}
	return f.write(dir)
}

func (f *fakeVcs) Head(context.Context, string) (string, error) { return f.head, nil }

//
// Store
//

// memStore enforces the pending → terminal transition like the SQL does.
type memStore struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*deployment.Record

	successErr error // returned by MarkSuccess when set
}

func newMemStore() *memStore { return &memStore{rows: map[uint64]*deployment.Record{}} }

func (s *memStore) Create(_ context.Context, r *deployment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	r.Status = deployment.StatusPending
	r.DeployedAt = time.Now()
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *memStore) finish(id uint64, fn func(*deployment.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != deployment.StatusPending {
		return deployment.ErrNotPending
	}
	fn(r)
	return nil
}

func (s *memStore) MarkSuccess(_ context.Context, id uint64, commit *string) error {
	if s.successErr != nil {
		return s.successErr
	}
	return s.finish(id, func(r *deployment.Record) {
		r.Status = deployment.StatusSuccess
		if commit != nil {
			c := *commit
			r.GitCommit = &c
		}
	})
}

func (s *memStore) MarkFailed(_ context.Context, id uint64, reason string) error {
	return s.finish(id, func(r *deployment.Record) {
		r.Status = deployment.StatusFailed
		r.ErrorMessage = &reason
	})
}

func (s *memStore) PendingByApp(_ context.Context, app string) ([]deployment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []deployment.Record
	for _, r := range s.rows {
		if r.Status == deployment.StatusPending && r.AppName == app {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) Pending(_ context.Context) ([]deployment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []deployment.Record
	for id := range s.nextID {
		if r, ok := s.rows[id+1]; ok && r.Status == deployment.StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

// backdate moves a row's deployed_at into the past.
func (s *memStore) backdate(id uint64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].DeployedAt = s.rows[id].DeployedAt.Add(-d)
}

func (s *memStore) Get(t *testing.T, id uint64) deployment.Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	require.True(t, ok, "row %d", id)
	return *r
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

//
// Sites and tenants
//

type fakeSites map[string]site.Record

func (f fakeSites) ByAppName(_ context.Context, app string) (*site.Record, error) {
	r, ok := f[app]
	if !ok {
		return nil, site.ErrNotFound
	}
	return &r, nil
}

type fakeTenants struct {
	env map[string]map[string]string
	err error
}

func (f fakeTenants) Resolve(_ context.Context, app string, _ bool) (*tenant.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	env := f.env[app]
	tc := &tenant.Context{AppName: app, Env: env, Connections: connection.Parse(env)}
	if name, ok := connection.ResolveDefault(tc.Connections, env[connection.DefaultKey]); ok {
		tc.DefaultConnection = name
	}
	return tc, nil
}

//
// Setup collaborators
//

type fakeMigrator struct {
	mu    sync.Mutex
	calls []string // connection names
	err   error
}

func (f *fakeMigrator) Migrate(_ context.Context, _ string, conn connection.Descriptor) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conn.Name)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type fakeScripts struct {
	mu   sync.Mutex
	envs []map[string]string
	err  error
}

func (f *fakeScripts) Run(_ context.Context, _, _ string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return f.err
}

type mockArchiver struct{ mock.Mock }

func (m *mockArchiver) Archive(ctx context.Context, baseDir, rel, dest string) error {
	return m.Called(ctx, baseDir, rel, dest).Error(0)
}

//
// Shared lock
//

// sharedLocks stands in for the central store's named locks: every Engine
// given the same instance competes for the same apps.
type sharedLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newSharedLocks() *sharedLocks { return &sharedLocks{held: map[string]bool{}} }

func (l *sharedLocks) TryLock(_ context.Context, app string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[app] {
		return nil, false, nil
	}
	l.held[app] = true
	return func() {
		l.mu.Lock()
		delete(l.held, app)
		l.mu.Unlock()
	}, true, nil
}

func (l *sharedLocks) Held(app string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[app]
}

//
// fixture
//

type fixture struct {
	engine   *Engine
	vcs      *fakeVcs
	store    *memStore
	migrator *fakeMigrator
	scripts  *fakeScripts
	archiver *mockArchiver
	appsDir  string
	backups  string
}

func newFixture(t *testing.T, tenants fakeTenants) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		vcs:      newFakeVcs(),
		store:    newMemStore(),
		migrator: &fakeMigrator{},
		scripts:  &fakeScripts{},
		archiver: &mockArchiver{},
		appsDir:  filepath.Join(root, "apps"),
		backups:  filepath.Join(root, "storage", "backups"),
	}
	f.engine = New(Config{
		AppsDir:      f.appsDir,
		BackupsDir:   f.backups,
		Workers:      4,
		Timeout:      time.Minute,
		SystemUserID: 1,
	}, Deps{
		Vcs:      f.vcs,
		Archiver: f.archiver,
		Migrator: f.migrator,
		Scripts:  f.scripts,
		Store:    f.store,
		Sites:    fakeSites{"blog": {ID: 7, AppName: "blog"}},
		Tenants:  tenants,
	})
	t.Cleanup(f.engine.Close)
	return f
}

// sibling builds a second Engine over f's store and apps directory, the
// way cmd/web and cmd/hostctl share them.
func (f *fixture) sibling(t *testing.T, vcs *fakeVcs, locks Locker) *Engine {
	t.Helper()
	e := New(f.engine.cfg, Deps{
		Vcs:      vcs,
		Archiver: f.archiver,
		Migrator: &fakeMigrator{},
		Scripts:  &fakeScripts{},
		Store:    f.store,
		Sites:    fakeSites{"blog": {ID: 7, AppName: "blog"}},
		Tenants:  fakeTenants{},
		Locks:    locks,
	})
	t.Cleanup(e.Close)
	return e
}

func siteFor(app string) site.Record {
	repo := "https://git.example.com/" + app + ".git"
	return site.Record{AppName: app, Domain: app + ".example.com", AppRepository: &repo, AppBranch: "main"}
}

var errBoom = errors.New("boom")

func writeTestFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
