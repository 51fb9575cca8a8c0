package deploy

import (
	"context"

	"github.com/yanizio/hostbus/internal/connection"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

// VcsClient drives the working tree under apps/<app>.
type VcsClient interface {
	Clone(ctx context.Context, repo, branch, dir string) error
	Fetch(ctx context.Context, dir string) error
	Checkout(ctx context.Context, dir, branch string) error
	Pull(ctx context.Context, dir, branch string) error
	Head(ctx context.Context, dir string) (string, error)
}

// Archiver writes a compressed archive of baseDir/rel to dest.
type Archiver interface {
	Archive(ctx context.Context, baseDir, rel, dest string) error
}

// Migrator applies the migrations in dir against conn and reports how many
// ran.
type Migrator interface {
	Migrate(ctx context.Context, dir string, conn connection.Descriptor) (int, error)
}

// ScriptRunner executes script inside dir with env as its environment
// additions.
type ScriptRunner interface {
	Run(ctx context.Context, dir, script string, env map[string]string) error
}

// Store is the DeploymentStore subset the engine writes through.
type Store interface {
	Create(ctx context.Context, r *deployment.Record) error
	MarkSuccess(ctx context.Context, id uint64, commit *string) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
	PendingByApp(ctx context.Context, app string) ([]deployment.Record, error)
	Pending(ctx context.Context) ([]deployment.Record, error)
}

// SiteLookup links attempts to their site row.
type SiteLookup interface {
	ByAppName(ctx context.Context, app string) (*site.Record, error)
}

// ConnectionSource yields the tenant context (env snapshot and
// connections) used during setup.
type ConnectionSource interface {
	Resolve(ctx context.Context, appID string, builtin bool) (*tenant.Context, error)
}
