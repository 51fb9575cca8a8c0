package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/tenant"
)

func TestDeploy_FreshCloneSucceeds(t *testing.T) {
	f := newFixture(t, fakeTenants{})

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusSuccess, rec.Status)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusSuccess, row.Status)
	assert.Equal(t, f.vcs.head, *row.GitCommit)
	assert.Nil(t, row.ErrorMessage)
	require.NotNil(t, row.SiteID)
	assert.Equal(t, uint64(7), *row.SiteID)
	require.NotNil(t, row.DeployedBy)
	assert.Equal(t, int64(1), *row.DeployedBy, "system user when no operator")

	assert.Equal(t, []string{"clone main https://git.example.com/blog.git"}, f.vcs.Calls())
	assert.FileExists(t, filepath.Join(f.appsDir, "blog", tenant.ManifestFile))
	assert.False(t, f.engine.Busy("blog"))
}

func TestDeploy_OperatorAndNotesRecorded(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	op := int64(42)

	rec, err := f.engine.Deploy(context.Background(), siteFor("shop"), Options{Operator: &op, Notes: "Firefox 126 on Linux"})
	require.NoError(t, err)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, int64(42), *row.DeployedBy)
	assert.Equal(t, "Firefox 126 on Linux", *row.DeploymentNotes)
	assert.Nil(t, row.SiteID, "no site registered for shop")
}

func TestDeploy_CloneFailureRecordsCommand(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.vcs.fail["clone"] = &VcsError{
		Command: "git clone -b main https://git.example.com/blog.git /srv/apps/blog",
		Output:  "fatal: repository 'https://git.example.com/blog.git/' not found",
	}

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	var ve *VcsError
	require.ErrorAs(t, err, &ve)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusFailed, row.Status)
	assert.Nil(t, row.GitCommit)
	assert.Contains(t, *row.ErrorMessage, "git clone -b main")
	assert.Contains(t, *row.ErrorMessage, "not found")
}

func TestDeploy_PlainVcsErrorNamesTheStep(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	require.NoError(t, os.MkdirAll(filepath.Join(f.appsDir, "blog"), 0o755))
	f.vcs.fail["fetch"] = errBoom

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, "git fetch failed: boom", *f.store.Get(t, rec.ID).ErrorMessage)
	assert.Equal(t, []string{"fetch origin"}, f.vcs.Calls(), "stops at first failing step")
}

func TestDeploy_ExistingTreeIsUpdatedInOrder(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	s := siteFor("blog")
	s.AppBranch = "release"

	first, err := f.engine.Deploy(context.Background(), s, Options{})
	require.NoError(t, err)
	second, err := f.engine.Deploy(context.Background(), s, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, deployment.StatusSuccess, f.store.Get(t, second.ID).Status)
	assert.Equal(t, []string{
		"clone release https://git.example.com/blog.git",
		"fetch origin",
		"checkout release",
		"pull release",
	}, f.vcs.Calls())
}

func TestDeploy_NoRepository(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	s := siteFor("blog")
	s.AppRepository = nil

	rec, err := f.engine.Deploy(context.Background(), s, Options{})
	assert.ErrorIs(t, err, ErrNoRepository)
	assert.Equal(t, deployment.StatusFailed, f.store.Get(t, rec.ID).Status)
	assert.Empty(t, f.vcs.Calls())
}

func TestDeploy_StructureErrorLeavesTree(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.vcs.files = map[string]string{tenant.ManifestFile: "routes: []\n"}

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	var se *StructureError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{tenant.ViewsDir + "/"}, se.Missing)

	assert.Contains(t, *f.store.Get(t, rec.ID).ErrorMessage, "resources/views/")
	assert.DirExists(t, filepath.Join(f.appsDir, "blog"))
}

func TestDeploy_MigrationFailureIsOnlyAWarning(t *testing.T) {
	f := newFixture(t, fakeTenants{env: map[string]map[string]string{
		"blog": {
			"DOMAIN_DB_DEFAULT":                      "blog_main",
			"DOMAIN_DB_CONNECTIONS_BLOG_MAIN_DRIVER": "mysql",
		},
	}})
	f.vcs.files[MigrationsDir+"/001_posts.sql"] = "CREATE TABLE posts (id INT);"
	f.migrator.err = errBoom

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusSuccess, f.store.Get(t, rec.ID).Status)
	assert.Equal(t, []string{"blog_main"}, f.migrator.calls)
}

func TestDeploy_MigrationsSkippedWithoutDefaultConnection(t *testing.T) {
	f := newFixture(t, fakeTenants{env: map[string]map[string]string{
		"blog": {"DOMAIN_DB_DEFAULT": "nope"},
	}})
	f.vcs.files[MigrationsDir+"/001_posts.sql"] = "CREATE TABLE posts (id INT);"

	_, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Empty(t, f.migrator.calls)
}

func TestDeploy_SetupScriptFailureIsFatal(t *testing.T) {
	env := map[string]string{"DOMAIN_APP_NAME": "blog"}
	f := newFixture(t, fakeTenants{env: map[string]map[string]string{"blog": env}})
	f.vcs.files[SetupScript] = "exit 3\n"
	f.scripts.err = errors.New("sh setup.sh: exit 3")

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SetupScript, se.Step)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusFailed, row.Status)
	assert.Contains(t, *row.ErrorMessage, "exit 3")
	require.Len(t, f.scripts.envs, 1)
	assert.Equal(t, env, f.scripts.envs[0])
}

func TestDeploy_BusyRejectedWithoutRow(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	entered, release := make(chan struct{}), make(chan struct{})
	f.vcs.onClone = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
		done <- err
	}()
	<-entered

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	var be *BusyError
	require.ErrorAs(t, err, &be)
	assert.Nil(t, rec)
	assert.Equal(t, 1, f.store.Len())
	assert.True(t, f.engine.Busy("blog"))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.engine.Busy("blog"))
}

func TestDeploy_CancelledMidCheckout(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	ctx, cancel := context.WithCancel(context.Background())
	f.vcs.onClone = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	rec, err := f.engine.Deploy(ctx, siteFor("blog"), Options{})
	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, context.Canceled)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusFailed, row.Status)
	assert.True(t, strings.HasPrefix(*row.ErrorMessage, "cancelled:"), *row.ErrorMessage)
}

func TestDeployMany_IsolatesFailuresAndKeepsOrder(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	bad := siteFor("broken")
	bad.AppRepository = nil

	out := f.engine.DeployMany(context.Background(), []Request{
		{Site: siteFor("alpha")},
		{Site: bad},
		{Site: siteFor("gamma")},
	})

	require.Len(t, out, 3)
	assert.Equal(t, []string{"alpha", "broken", "gamma"}, []string{out[0].AppName, out[1].AppName, out[2].AppName})
	assert.True(t, out[0].Succeeded)
	assert.False(t, out[1].Succeeded)
	assert.ErrorIs(t, out[1].Err, ErrNoRepository)
	assert.True(t, out[2].Succeeded)
	assert.Equal(t, deployment.StatusFailed, out[1].Deployment.Status)
}

func TestDeployMany_SerialisesDuplicates(t *testing.T) {
	f := newFixture(t, fakeTenants{})

	out := f.engine.DeployMany(context.Background(), []Request{
		{Site: siteFor("blog")},
		{Site: siteFor("blog")},
		{Site: siteFor("blog")},
	})
	for i, o := range out {
		assert.True(t, o.Succeeded, "entry %d: %v", i, o.Err)
	}
	assert.Equal(t, 3, f.store.Len())
}

func TestDeployMany_ParallelAcrossApps(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	f.vcs.onClone = func(context.Context) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	reqs := []Request{{Site: siteFor("a1")}, {Site: siteFor("a2")}, {Site: siteFor("a3")}, {Site: siteFor("a4")}}
	for _, o := range f.engine.DeployMany(context.Background(), reqs) {
		assert.True(t, o.Succeeded)
	}
	assert.Greater(t, maxSeen, 1)
	assert.LessOrEqual(t, maxSeen, 4)
}

func TestTrigger_ReturnsPendingThenCompletes(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	release := make(chan struct{})
	f.vcs.onClone = func(context.Context) error {
		<-release
		return nil
	}

	rec, err := f.engine.Trigger(context.Background(), siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusPending, rec.Status)

	_, err = f.engine.Trigger(context.Background(), siteFor("blog"), Options{})
	var be *BusyError
	assert.ErrorAs(t, err, &be)

	close(release)
	assert.Eventually(t, func() bool {
		return f.store.Get(t, rec.ID).Status == deployment.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrigger_CloseCancelsBackgroundAttempt(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.vcs.onClone = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	rec, err := f.engine.Trigger(context.Background(), siteFor("blog"), Options{})
	require.NoError(t, err)
	f.engine.Close()

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusFailed, row.Status)
	assert.True(t, strings.HasPrefix(*row.ErrorMessage, "cancelled:"))
}

func TestBackup(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.engine.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 15, 0, time.UTC) }

	_, err := f.engine.Backup(context.Background(), "ghost")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, os.MkdirAll(filepath.Join(f.appsDir, "blog"), 0o755))
	want := filepath.Join(f.backups, "apps", "blog", "2026-10-19_08-30-15.tar.gz")
	f.archiver.On("Archive", mock.Anything, filepath.Dir(f.appsDir), filepath.Join("apps", "blog"), want).
		Return(nil).Once()

	path, err := f.engine.Backup(context.Background(), "blog")
	require.NoError(t, err)
	assert.Equal(t, want, path)
	f.archiver.AssertExpectations(t)
}

func TestBackup_ArchiverFailure(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	require.NoError(t, os.MkdirAll(filepath.Join(f.appsDir, "blog"), 0o755))
	f.archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errBoom)

	_, err := f.engine.Backup(context.Background(), "blog")
	var ae *ArchiveError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, errBoom)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	require.NoError(t, f.store.Create(context.Background(), &deployment.Record{AppName: "blog"}))
	require.NoError(t, f.store.Create(context.Background(), &deployment.Record{AppName: "shop"}))

	n, err := f.engine.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, InterruptedReason, *f.store.Get(t, 1).ErrorMessage)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "a | b", Message(errors.New("a\n  b\n")))
	long := Message(errors.New(strings.Repeat("x", MaxMessage*2)))
	assert.Len(t, long, MaxMessage)
}

func TestDeploy_SecondEngineSeesPendingRow(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	entered, release := make(chan struct{}), make(chan struct{})
	f.vcs.onClone = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}
	other := f.sibling(t, newFakeVcs(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
		done <- err
	}()
	<-entered

	rec, err := other.Deploy(context.Background(), siteFor("blog"), Options{})
	var be *BusyError
	require.ErrorAs(t, err, &be)
	assert.Nil(t, rec)
	assert.Equal(t, 1, f.store.Len())
	assert.False(t, other.Busy("blog"), "a rejected attempt must release its local lock")

	close(release)
	require.NoError(t, <-done)
}

func TestDeploy_SharedLockSpansEngines(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	locks := newSharedLocks()
	slow := newFakeVcs()
	entered, release := make(chan struct{}), make(chan struct{})
	slow.onClone = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}
	web := f.sibling(t, slow, locks)
	cli := f.sibling(t, newFakeVcs(), locks)

	done := make(chan error, 1)
	go func() {
		_, err := web.Deploy(context.Background(), siteFor("blog"), Options{})
		done <- err
	}()
	<-entered

	_, err := cli.Deploy(context.Background(), siteFor("blog"), Options{})
	var be *BusyError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, f.store.Len())

	_, err = cli.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusPending, f.store.Get(t, 1).Status)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, locks.Held("blog"))
	assert.Equal(t, deployment.StatusSuccess, f.store.Get(t, 1).Status)
}

func TestDeploy_SharedLockFailsOrphanedRow(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &deployment.Record{AppName: "blog"}))
	e := f.sibling(t, newFakeVcs(), newSharedLocks())

	rec, err := e.Deploy(ctx, siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.ID)

	orphan := f.store.Get(t, 1)
	assert.Equal(t, deployment.StatusFailed, orphan.Status)
	assert.Equal(t, InterruptedReason, *orphan.ErrorMessage)
}

func TestDeploy_PendingRowAgeWithoutSharedLock(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &deployment.Record{AppName: "blog"}))

	_, err := f.engine.Deploy(ctx, siteFor("blog"), Options{})
	var be *BusyError
	require.ErrorAs(t, err, &be)

	f.store.backdate(1, time.Hour)
	rec, err := f.engine.Deploy(ctx, siteFor("blog"), Options{})
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusSuccess, rec.Status)
	assert.Equal(t, InterruptedReason, *f.store.Get(t, 1).ErrorMessage)
}

func TestRecoverInterrupted_SkipsAppsLockedElsewhere(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	ctx := context.Background()
	locks := newSharedLocks()
	held, ok, err := locks.TryLock(ctx, "blog")
	require.NoError(t, err)
	require.True(t, ok)
	defer held()

	require.NoError(t, f.store.Create(ctx, &deployment.Record{AppName: "blog"}))
	require.NoError(t, f.store.Create(ctx, &deployment.Record{AppName: "shop"}))

	n, err := f.sibling(t, newFakeVcs(), locks).RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, deployment.StatusPending, f.store.Get(t, 1).Status)
	assert.Equal(t, deployment.StatusFailed, f.store.Get(t, 2).Status)
	assert.True(t, locks.Held("blog"))
	assert.False(t, locks.Held("shop"))
}

func TestDeploy_SuccessWriteFailureFailsRow(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.store.successErr = errBoom

	rec, err := f.engine.Deploy(context.Background(), siteFor("blog"), Options{})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, deployment.StatusFailed, rec.Status)

	row := f.store.Get(t, rec.ID)
	assert.Equal(t, deployment.StatusFailed, row.Status)
	assert.Equal(t, "record success: boom", *row.ErrorMessage)
}

func TestTrigger_AfterCloseIsRejected(t *testing.T) {
	f := newFixture(t, fakeTenants{})
	f.engine.Close()

	rec, err := f.engine.Trigger(context.Background(), siteFor("blog"), Options{})
	require.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, rec)
	assert.Zero(t, f.store.Len())
	assert.False(t, f.engine.Busy("blog"))
}
