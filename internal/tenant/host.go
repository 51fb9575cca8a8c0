// internal/tenant/host.go
//
// Host header → *Context.
//
// Context
// -------
// The admin domain maps to the builtin "admin" app.  Every other host is
// looked up in managed_sites and resolved as a deployed app, with the
// site's title and theme color taking precedence over the env snapshot.
//
// Concurrent requests for the same cold host share one lookup through
// singleflight.  Nothing is retained once the flight lands, so a site edit
// or redeploy is visible on the next request.
package tenant

import (
	"context"
	"errors"
	"maps"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/hostbus/internal/metrics"
	"github.com/yanizio/hostbus/internal/site"
)

// AdminApp is the builtin app served on the admin domain.
const AdminApp = "admin"

// SiteSource is the SiteRegistry subset needed for host lookups.
type SiteSource interface {
	ByDomain(ctx context.Context, domain string) (*site.Record, error)
}

// HostResolver resolves request hosts.
type HostResolver struct {
	resolver    *Resolver
	sites       SiteSource
	adminDomain string
	sfg         singleflight.Group
}

// NewHostResolver wires a HostResolver.  adminDomain may be empty to
// disable the admin surface.
func NewHostResolver(r *Resolver, sites SiteSource, adminDomain string) *HostResolver {
	return &HostResolver{
		resolver:    r,
		sites:       sites,
		adminDomain: NormaliseHost(adminDomain),
	}
}

// ResolveHost returns a Context for host.  The caller owns the result.
func (h *HostResolver) ResolveHost(ctx context.Context, host string) (*Context, error) {
	host = NormaliseHost(host)
	if host == "" {
		return nil, ErrNotFound
	}

	v, err, _ := h.sfg.Do(host, func() (any, error) {
		return h.load(context.WithoutCancel(ctx), host)
	})
	if err != nil {
		metrics.TenantResolveErrorsTotal.Inc()
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMaintenance) {
			zap.L().Error("tenant resolve", zap.String("host", host), zap.Error(err))
		}
		return nil, err
	}
	metrics.TenantResolveTotal.Inc()

	// Callers sharing a flight each get their own copy.
	tc := *v.(*Context)
	tc.Env = maps.Clone(tc.Env)
	return &tc, nil
}

// IsAdmin reports whether host is the admin domain.
func (h *HostResolver) IsAdmin(host string) bool {
	return h.adminDomain != "" && NormaliseHost(host) == h.adminDomain
}

func (h *HostResolver) load(ctx context.Context, host string) (*Context, error) {
	if h.adminDomain != "" && host == h.adminDomain {
		tc, err := h.resolver.Resolve(ctx, AdminApp, true)
		if err != nil {
			return nil, err
		}
		tc.Domain = host
		return tc, nil
	}

	rec, err := h.sites.ByDomain(ctx, host)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	switch rec.Status {
	case site.StatusActive:
	case site.StatusMaintenance:
		return nil, ErrMaintenance
	default:
		return nil, ErrNotFound
	}

	tc, err := h.resolver.Resolve(ctx, rec.AppName, false)
	if err != nil {
		return nil, err
	}
	tc.Domain = host
	if rec.SiteTitle != "" {
		tc.Title = rec.SiteTitle
	}
	if rec.ThemeColor != "" {
		tc.Theme = rec.ThemeColor
	}
	return tc, nil
}

// NormaliseHost lower-cases h and removes any :port and trailing dot.
func NormaliseHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if strings.HasPrefix(h, "[") {
		if i := strings.IndexByte(h, ']'); i != -1 {
			return h[1:i]
		}
	}
	if i := strings.LastIndexByte(h, ':'); i != -1 && strings.Count(h, ":") == 1 {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ".")
}
