// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/yanizio/hostbus/internal/tenant"
)

// HostSource reports whether a host is served.  *tenant.HostResolver
// implements it.
type HostSource interface {
	ResolveHost(ctx context.Context, host string) (*tenant.Context, error)
}

// ForceHTTPS wraps h.  If the request is plain HTTP, the host is not
// "localhost", and hosts confirms the site exists, the wrapper issues a
// 308 Permanent Redirect to the HTTPS version of the same URL.  Otherwise it
// calls the next handler unchanged.
func ForceHTTPS(hosts HostSource, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := tenant.NormaliseHost(r.Host)

		// Already HTTPS, proxied HTTPS, or dev host → continue.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" || host == "localhost" {
			h.ServeHTTP(w, r)
			return
		}

		// Only redirect if the host resolves.  Maintenance still redirects;
		// the HTTPS request gets the 503.
		if _, err := hosts.ResolveHost(r.Context(), host); err == nil || errors.Is(err, tenant.ErrMaintenance) {
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		// Unknown host → keep normal flow (likely 404 later).
		h.ServeHTTP(w, r)
	})
}
