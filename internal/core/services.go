// internal/core/services.go
//
// Process-wide service graph.
//
// Context
// -------
// cmd/web and cmd/hostctl need the same collaborators: the central store,
// the site and deployment stores, the tenant resolver, and the deployment
// engine.  Build wires them once from a loaded Config so both binaries
// agree on paths, pools, and secrets.
//
// Workflow
// --------
//  1. Open the central store and ensure its schema (plus the system user
//     that unattended deployments are recorded under).
//  2. Start the Vault client when `vault.enabled` is set.
//  3. Build the tenant resolver over domains/<app>.env and apps/.
//  4. Register the builtin admin app and build the engine.  The engine
//     locks apps through MySQL named locks so every process sharing the
//     central store sees the same holders.
//
// Notes
// -----
// • Close releases the engine before the database so background attempts
//   can still record their outcome.
// • Oxford commas, two spaces after periods.
package core

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/hostbus/components/admin"
	"github.com/yanizio/hostbus/internal/acl"
	"github.com/yanizio/hostbus/internal/app"
	"github.com/yanizio/hostbus/internal/auth"
	"github.com/yanizio/hostbus/internal/config"
	"github.com/yanizio/hostbus/internal/database"
	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/shell"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
	"github.com/yanizio/hostbus/internal/vault"
	"github.com/yanizio/hostbus/internal/view"
)

// Services bundles the wired collaborators.
type Services struct {
	Config      *config.Config
	DB          *sqlx.DB
	Sites       *site.Store
	Deployments *deployment.Store
	Roles       *acl.Store
	Apps        *app.Registry
	Resolver    *tenant.Resolver
	Hosts       *tenant.HostResolver
	Engine      *deploy.Engine
	Views       *view.Engine
}

// Build opens the central store and wires every service.  ctx bounds
// start-up work and the lifetime of the Vault renewal loop.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Services, error) {
	if log == nil {
		log = zap.S()
	}

	db, err := database.Open(ctx, cfg.Database.CentralDSN)
	if err != nil {
		return nil, fmt.Errorf("connect central store: %w", err)
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := database.SeedSystemUser(ctx, db, cfg.Deploy.SystemUserID); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed system user: %w", err)
	}

	var secrets tenant.SecretResolver
	if cfg.Vault.Enabled {
		vc, err := vault.New(ctx, cfg.Vault.CacheTTL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("vault: %w", err)
		}
		secrets = vc
	}

	s := &Services{
		Config:      cfg,
		DB:          db,
		Sites:       site.NewStore(db),
		Deployments: deployment.NewStore(db),
		Roles:       acl.NewStore(db),
		Apps:        app.NewRegistry(),
		Views:       view.New(view.DefaultCapacity),
	}

	paths := cfg.Paths
	s.Resolver = tenant.NewResolver(
		paths.Abs(paths.AppsDir),
		tenant.DotenvSource{Dir: paths.Abs(paths.DomainsDir), Secrets: secrets},
		s.Apps,
	)
	s.Hosts = tenant.NewHostResolver(s.Resolver, s.Sites, cfg.Admin.Domain)

	runner := shell.Runner{}
	s.Engine = deploy.New(deploy.Config{
		AppsDir:      paths.Abs(paths.AppsDir),
		BackupsDir:   paths.Abs(paths.BackupsDir),
		Workers:      cfg.Deploy.Workers,
		Timeout:      cfg.Deploy.Timeout,
		SystemUserID: cfg.Deploy.SystemUserID,
	}, deploy.Deps{
		Vcs:      deploy.GitClient{Runner: runner},
		Archiver: deploy.TarArchiver{Runner: runner},
		Migrator: deploy.SQLMigrator{},
		Scripts:  deploy.ShellScriptRunner{Runner: runner},
		Store:    s.Deployments,
		Sites:    s.Sites,
		Tenants:  s.Resolver,
		Locks:    deploy.NewMySQLLocker(db),
		Logger:   log,
	})

	s.Apps.RegisterBuiltin(admin.New(admin.Config{
		ViewRoot: paths.Abs(paths.AdminViews),
		Async:    cfg.Deploy.Async,
		Auth: auth.Options{
			Token:          cfg.Admin.Token,
			AllowAnonymous: cfg.Admin.AllowAnonymous,
			SystemUserID:   cfg.Deploy.SystemUserID,
		},
	}, admin.Deps{
		Sites:       s.Sites,
		Deployments: s.Deployments,
		Engine:      s.Engine,
		Roles:       s.Roles,
		Views:       s.Views,
	}))

	log.Infow("services ready", "apps_dir", paths.Abs(paths.AppsDir), "vault", cfg.Vault.Enabled)
	return s, nil
}

// Close stops background deployments and releases the central store.
func (s *Services) Close() {
	s.Engine.Close()
	if err := s.DB.Close(); err != nil {
		zap.S().Warnw("close central store", "error", err)
	}
}
