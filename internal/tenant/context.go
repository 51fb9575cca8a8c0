// context.go defines the per-call tenant Context.  Handlers, templates, and
// the deployment engine read from it; nothing writes to it after Resolve
// returns.
package tenant

import (
	"context"

	"github.com/yanizio/hostbus/internal/app"
	"github.com/yanizio/hostbus/internal/connection"
)

// Context is built fresh by every Resolve call and never shared across
// tenants.
type Context struct {
	AppName  string
	Domain   string // empty when resolved by app name
	Title    string
	Theme    string // theme color, "#rrggbb"
	ViewRoot string
	Builtin  bool

	Routes []Route
	Plugin app.App // nil when no Go plugin is registered

	Connections       connection.Registry
	DefaultConnection string // "" means the central store

	Env map[string]string // read-only snapshot
}

// Default returns the default connection descriptor, if one is selected.
func (c *Context) Default() (connection.Descriptor, bool) {
	if c.DefaultConnection == "" {
		return connection.Descriptor{}, false
	}
	d, ok := c.Connections[c.DefaultConnection]
	return d, ok
}

type ctxKey struct{}

// WithContext attaches tc to ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the Context stored by WithContext, or nil.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(ctxKey{}).(*Context)
	return v
}
