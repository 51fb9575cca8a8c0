package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanizio/hostbus/internal/tenant"
)

type hostMap map[string]error

func (m hostMap) ResolveHost(_ context.Context, host string) (*tenant.Context, error) {
	err, ok := m[host]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant.Context{Domain: host}, nil
}

func TestForceHTTPS(t *testing.T) {
	hosts := hostMap{"blog.example.com": nil, "fixing.example.com": tenant.ErrMaintenance}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := ForceHTTPS(hosts, next)

	cases := []struct {
		name     string
		host     string
		tls      bool
		proto    string
		code     int
		location string
	}{
		{"known host redirects", "blog.example.com", false, "", http.StatusPermanentRedirect, "https://blog.example.com/p?q=1"},
		{"maintenance redirects", "fixing.example.com", false, "", http.StatusPermanentRedirect, "https://fixing.example.com/p?q=1"},
		{"unknown host passes", "nope.example.com", false, "", http.StatusTeapot, ""},
		{"localhost passes", "localhost:8080", false, "", http.StatusTeapot, ""},
		{"tls passes", "blog.example.com", true, "", http.StatusTeapot, ""},
		{"proxied https passes", "blog.example.com", false, "https", http.StatusTeapot, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p?q=1", nil)
			req.Host = c.host
			if c.tls {
				req.TLS = &tls.ConnectionState{}
			}
			if c.proto != "" {
				req.Header.Set("X-Forwarded-Proto", c.proto)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, c.code, rec.Code)
			assert.Equal(t, c.location, rec.Header().Get("Location"))
		})
	}
}

func TestSecurity(t *testing.T) {
	h := Security(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
