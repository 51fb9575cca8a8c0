// internal/tenant/resolver.go
//
// App → *Context resolution.
//
// Context
// -------
// Resolve assembles everything a request or a deployment needs to know
// about one app:
//
//  1. View root and routes.  Builtin apps take both from the app registry.
//     Deployed apps use apps/<app>/resources/views and apps/<app>/routes.yaml
//     (absent manifest tolerated), plus any Go plugin registered under the
//     same name.
//  2. Environment snapshot from the EnvSource.
//  3. Connection registry parsed from the snapshot, and the default
//     connection when DOMAIN_DB_DEFAULT names a known descriptor.
//
// Notes
// -----
//   - Resolve is idempotent.  Two calls with unchanged files return equal
//     Contexts; neither mutates process state.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/yanizio/hostbus/internal/app"
	"github.com/yanizio/hostbus/internal/connection"
	"github.com/yanizio/hostbus/internal/site"
)

var (
	// ErrNotFound is returned for unknown hosts, inactive sites, and
	// unregistered builtin apps.
	ErrNotFound = errors.New("tenant not found")

	// ErrMaintenance is returned for sites in maintenance status.
	ErrMaintenance = errors.New("tenant in maintenance")

	// ErrInvalidApp is returned for app names that are unsafe as paths.
	ErrInvalidApp = errors.New("invalid app name")
)

// Resolver builds Contexts.  Safe for concurrent use.
type Resolver struct {
	appsDir string
	env     EnvSource
	apps    *app.Registry
}

// NewResolver wires a Resolver.  apps may be nil when no Go apps exist.
func NewResolver(appsDir string, env EnvSource, apps *app.Registry) *Resolver {
	if apps == nil {
		apps = app.NewRegistry()
	}
	return &Resolver{appsDir: appsDir, env: env, apps: apps}
}

// Resolve returns a fresh Context for appID.
func (r *Resolver) Resolve(ctx context.Context, appID string, builtin bool) (*Context, error) {
	if !site.ValidAppName(appID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidApp, appID)
	}

	tc := &Context{AppName: appID, Builtin: builtin}

	if builtin {
		a, ok := r.apps.Builtin(appID)
		if !ok {
			return nil, fmt.Errorf("%w: builtin app %q", ErrNotFound, appID)
		}
		tc.Plugin = a
		if vp, ok := a.(app.ViewProvider); ok {
			tc.ViewRoot = vp.ViewRoot()
		}
	} else {
		base := filepath.Join(r.appsDir, appID)
		tc.ViewRoot = filepath.Join(base, ViewsDir)

		routes, err := LoadManifest(filepath.Join(base, ManifestFile))
		switch {
		case err == nil:
			tc.Routes = routes
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
		if p, ok := r.apps.Plugin(appID); ok {
			tc.Plugin = p
		}
	}

	env, err := r.env.Snapshot(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("env snapshot %s: %w", appID, err)
	}
	tc.Env = env
	tc.Connections = connection.Parse(env)
	if name, ok := connection.ResolveDefault(tc.Connections, env[connection.DefaultKey]); ok {
		tc.DefaultConnection = name
	}

	tc.Title = env[KeySiteTitle]
	if tc.Title == "" {
		tc.Title = appID
	}
	tc.Theme = env[KeyThemeColor]
	if tc.Theme == "" {
		tc.Theme = site.DefaultThemeColor
	}
	return tc, nil
}
