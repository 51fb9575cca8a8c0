// internal/tenant/handler.go
//
// Root HTTP handler: resolve the host, attach the Context, and dispatch to a
// router built from the app's manifest and plugin.
//
// Manifest routes win over plugin routes for the same pattern; anything the
// manifest does not match falls through to the plugin, then to 404.

package tenant

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/requestinfo"
)

// HostSource resolves a request host.  *HostResolver satisfies it.
type HostSource interface {
	ResolveHost(ctx context.Context, host string) (*Context, error)
}

// Renderer executes a view under a view root.
type Renderer interface {
	Render(w io.Writer, root, view string, data any) error
}

// Page is the data handed to every manifest view.
type Page struct {
	Tenant *Context
	Path   string
	Query  url.Values
	Params map[string]string
	Client string // short client description
}

// Handler serves every tenant host.
func Handler(hosts HostSource, views Renderer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := hosts.ResolveHost(r.Context(), r.Host)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidApp):
			http.NotFound(w, r)
			return
		case errors.Is(err, ErrMaintenance):
			w.Header().Set("Retry-After", "120")
			http.Error(w, "Site under maintenance", http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		ctx := WithContext(r.Context(), tc)
		Router(tc, views).ServeHTTP(w, r.WithContext(ctx))
	})
}

// Router builds the chi router for one resolved Context.
func Router(tc *Context, views Renderer) http.Handler {
	r := chi.NewRouter()
	r.Use(requestinfo.Enrich)

	for _, rt := range tc.Routes {
		r.Method(rt.Method, rt.Path, viewHandler(tc, rt, views))
	}

	if tc.Plugin != nil {
		r.NotFound(tc.Plugin.Routes().ServeHTTP)
	}
	return r
}

func viewHandler(tc *Context, rt Route, views Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := Page{
			Tenant: tc,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Params: routeParams(r),
		}
		if info := requestinfo.FromContext(r.Context()); info != nil {
			page.Client = info.Describe()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.Render(w, tc.ViewRoot, rt.View, page); err != nil {
			zap.L().Error("render view",
				zap.String("app", tc.AppName),
				zap.String("view", rt.View),
				zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func routeParams(r *http.Request) map[string]string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return nil
	}
	out := make(map[string]string, len(rc.URLParams.Keys))
	for i, k := range rc.URLParams.Keys {
		out[k] = rc.URLParams.Values[i]
	}
	return out
}
