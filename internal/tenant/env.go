// internal/tenant/env.go
//
// Per-app environment snapshots.
//
// Context
// -------
// Each app's settings live in <domainsDir>/<app>.env, a dotenv file such as
//
//	DOMAIN_APP_NAME=blog
//	DOMAIN_SITE_TITLE=The Blog
//	DOMAIN_DB_DEFAULT=blog_main
//	DOMAIN_DB_CONNECTIONS_BLOG_MAIN_DRIVER=mysql
//	DOMAIN_DB_CONNECTIONS_BLOG_MAIN_PASSWORD=vault:secret/hostbus/blog#db
//
// The file is read into a fresh map on every call.  The process environment
// is never touched, so two tenants resolved concurrently cannot observe each
// other's values.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/yanizio/hostbus/internal/vault"
)

// Well-known snapshot keys.
const (
	KeyAppName    = "DOMAIN_APP_NAME"
	KeySiteTitle  = "DOMAIN_SITE_TITLE"
	KeyThemeColor = "DOMAIN_THEME_COLOR"
)

// EnvSource yields an app's environment snapshot.  A missing source is an
// empty snapshot, not an error.
type EnvSource interface {
	Snapshot(ctx context.Context, app string) (map[string]string, error)
}

// SecretResolver turns vault:<mount>/<path>#<key> references into values.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// DotenvSource reads <Dir>/<app>.env.
type DotenvSource struct {
	Dir     string
	Secrets SecretResolver // nil disables reference resolution
}

// Snapshot implements EnvSource.
func (s DotenvSource) Snapshot(ctx context.Context, app string) (map[string]string, error) {
	path := filepath.Join(s.Dir, app+".env")
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	for k, v := range env {
		if !vault.IsRef(v) {
			continue
		}
		if s.Secrets == nil {
			return nil, fmt.Errorf("%s: %s references vault but vault is disabled", path, k)
		}
		val, err := s.Secrets.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, k, err)
		}
		env[k] = val
	}
	return env, nil
}

// MapSource serves fixed snapshots.  Each call returns a copy.
type MapSource map[string]map[string]string

// Snapshot implements EnvSource.
func (m MapSource) Snapshot(_ context.Context, app string) (map[string]string, error) {
	out := make(map[string]string, len(m[app]))
	for k, v := range m[app] {
		out[k] = v
	}
	return out, nil
}
