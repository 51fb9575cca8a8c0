// components/admin/admin.go
//
// Admin app – management surface served on admin.domain.
//
// Context
// -------
// The admin app is a builtin: the host resolver maps the configured admin
// domain to it without consulting managed_sites, and its views ship with
// the binary instead of living under apps/.
//
// Routes
// ------
//
//	GET  /                              dashboard (HTML)
//	GET  /api/sites                     all managed sites
//	GET  /api/sites/{id}                one site
//	POST /api/sites/{id}/deploy         deploy (also /sites/{id}/deploy)
//	POST /api/sites/{id}/backup         backup (also /sites/{id}/backup)
//	GET  /api/deployments               newest first, filterable
//	GET  /api/deployments/{id}          one deployment
//	POST /api/deploy-batch              several sites, ordered outcomes
//
// Every route sits behind auth.Middleware.  Reads need acl.ActionRead,
// deploys acl.ActionDeploy, and backups acl.ActionBackup.
//
// Notes
// -----
// • Routes() is built once and reused; the tenant router asks for it on
//   every request.
// • Oxford commas, two spaces after periods.

package admin

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/yanizio/hostbus/internal/acl"
	"github.com/yanizio/hostbus/internal/app"
	"github.com/yanizio/hostbus/internal/auth"
	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

// Compile-time assertions.
var (
	_ app.App          = (*App)(nil)
	_ app.ViewProvider = (*App)(nil)
)

// Sites is the part of site.Store the admin app reads.
type Sites interface {
	ByID(ctx context.Context, id uint64) (*site.Record, error)
	All(ctx context.Context) ([]site.Record, error)
}

// Deployments is the part of deployment.Store the admin app reads.
type Deployments interface {
	ByID(ctx context.Context, id uint64) (*deployment.Record, error)
	List(ctx context.Context, f deployment.Filter) ([]deployment.Record, error)
}

// Deployer runs attempts.  *deploy.Engine implements it.
type Deployer interface {
	Deploy(ctx context.Context, s site.Record, opts deploy.Options) (*deployment.Record, error)
	Trigger(ctx context.Context, s site.Record, opts deploy.Options) (*deployment.Record, error)
	DeployMany(ctx context.Context, reqs []deploy.Request) []deploy.Outcome
	Backup(ctx context.Context, app string) (string, error)
}

// Config tunes the admin app.
type Config struct {
	ViewRoot string       // directory holding dashboard.html
	Async    bool         // deploy requests return once the row is pending
	Auth     auth.Options // bearer token, anonymous access, system user
}

// Deps are the admin app's collaborators.
type Deps struct {
	Sites       Sites
	Deployments Deployments
	Engine      Deployer
	Roles       acl.RoleSource
	Views       tenant.Renderer
}

// App implements app.App for the admin domain.
type App struct {
	cfg      Config
	deps     Deps
	validate *validator.Validate

	once   sync.Once
	router chi.Router
}

// New builds the admin app.
func New(cfg Config, deps Deps) *App {
	return &App{cfg: cfg, deps: deps, validate: validator.New()}
}

// Name returns the builtin app key.
func (a *App) Name() string { return tenant.AdminApp }

// ViewRoot points the renderer at the shipped templates.
func (a *App) ViewRoot() string { return a.cfg.ViewRoot }

// Routes builds and returns the admin router.
func (a *App) Routes() chi.Router {
	a.once.Do(func() { a.router = a.routes() })
	return a.router
}

func (a *App) routes() chi.Router {
	read := acl.RequirePermission(a.deps.Roles, acl.ActionRead)
	deploys := acl.RequirePermission(a.deps.Roles, acl.ActionDeploy)
	backups := acl.RequirePermission(a.deps.Roles, acl.ActionBackup)

	r := chi.NewRouter()
	r.Use(auth.Middleware(a.cfg.Auth))

	r.With(read).Get("/", a.handleDashboard)
	r.With(deploys).Post("/sites/{id}/deploy", a.handleDeploy)
	r.With(backups).Post("/sites/{id}/backup", a.handleBackup)

	r.Route("/api", func(api chi.Router) {
		api.With(read).Get("/sites", a.handleSites)
		api.With(read).Get("/sites/{id}", a.handleSite)
		api.With(deploys).Post("/sites/{id}/deploy", a.handleDeploy)
		api.With(backups).Post("/sites/{id}/backup", a.handleBackup)
		api.With(read).Get("/deployments", a.handleDeployments)
		api.With(read).Get("/deployments/{id}", a.handleDeployment)
		api.With(deploys).Post("/deploy-batch", a.handleBatch)
	})
	return r
}
