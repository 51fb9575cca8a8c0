// internal/app/registry.go
//
// App registry (cycle-free).
//
// Context
// -------
// Two kinds of app are served:
//
//   - Deployed apps live under apps/<name> and are described by their
//     routes.yaml manifest.  A Go plugin may additionally register under the
//     same name to contribute handlers the manifest cannot express.
//   - Builtin apps (the admin subsystem) ship inside the binary.  Their routes
//     and view root come from here, never from apps/.
//
// Notes
// -----
//   - Register is normally called from main() once dependencies exist, or
//     from an init() for plugins without dependencies.
//   - Registering the same name twice is a programming error and panics.
//   - Oxford commas, two spaces after periods.
package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
)

// App contract.
//
// Routes() mounts both page and API endpoints, e.g.
//
//	r := chi.NewRouter()
//	r.Get("/", index)
//	r.Route("/api", func(api chi.Router) { ... })
//	return r
type App interface {
	Name() string
	Routes() chi.Router
}

// ViewProvider is optional.  Builtin apps implementing it get their
// templates from ViewRoot() instead of apps/<name>/resources/views.
type ViewProvider interface {
	ViewRoot() string
}

type entry struct {
	app     App
	builtin bool
}

// Registry maps app names to Go implementations.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]entry)}
}

// Register adds a plugin for a deployed app.
func (r *Registry) Register(a App) { r.add(a, false) }

// RegisterBuiltin adds an app that ships with the binary.
func (r *Registry) RegisterBuiltin(a App) { r.add(a, true) }

func (r *Registry) add(a App, builtin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.apps[a.Name()]; dup {
		panic(fmt.Sprintf("app: %q registered twice", a.Name()))
	}
	r.apps[a.Name()] = entry{app: a, builtin: builtin}
}

// Plugin returns the non-builtin plugin registered for name.
func (r *Registry) Plugin(name string) (App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.apps[name]
	if !ok || e.builtin {
		return nil, false
	}
	return e.app, true
}

// Builtin returns the builtin app registered for name.
func (r *Registry) Builtin(name string) (App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.apps[name]
	if !ok || !e.builtin {
		return nil, false
	}
	return e.app, true
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.apps))
	for n := range r.apps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

//
// package-level default
//

// Default is the registry used by cmd/web.
var Default = NewRegistry()

// Register adds a plugin to Default.
func Register(a App) { Default.Register(a) }

// RegisterBuiltin adds a builtin app to Default.
func RegisterBuiltin(a App) { Default.RegisterBuiltin(a) }
