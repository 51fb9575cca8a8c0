// internal/config/model.go
//
// Typed configuration model for hostbus.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `HOSTBUS_`-prefixed environment overrides – highest precedence.
//
// Validation happens immediately after unmarshal; the binary fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • `Paths.Root` is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.

package config

import (
	"path/filepath"
	"time"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Database section
//

// Database points at the central store holding sites, deployments, and
// operators.  Tenant connections never appear here; they live in each
// domain's env snapshot.
type Database struct {
	CentralDSN string `koanf:"central_dsn" validate:"required"`
}

//
// Paths section
//

// Paths locates the on-disk layout.  Relative entries resolve against Root.
type Paths struct {
	Root       string `koanf:"-"`
	AppsDir    string `koanf:"apps_dir"    validate:"required"`
	DomainsDir string `koanf:"domains_dir" validate:"required"`
	BackupsDir string `koanf:"backups_dir" validate:"required"`
	AdminViews string `koanf:"admin_views" validate:"required"`
}

// Abs joins p onto Root unless p is already absolute.
func (p Paths) Abs(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.Root, dir)
}

//
// Admin section
//

// Admin configures the built-in management surface.
type Admin struct {
	Domain         string `koanf:"domain"          validate:"required,hostname_rfc1123"`
	Token          string `koanf:"token"`
	AllowAnonymous bool   `koanf:"allow_anonymous"`
}

//
// Deploy section
//

// Deploy tunes the deployment engine.
type Deploy struct {
	Workers      int           `koanf:"workers"        validate:"min=1,max=64"`
	Timeout      time.Duration `koanf:"timeout"`
	Async        bool          `koanf:"async"`
	SystemUserID int64         `koanf:"system_user_id" validate:"min=1"`
	AutoCron     string        `koanf:"auto_cron"`
}

//
// Vault section
//

// Vault toggles resolution of `vault:` references in tenant env files.
// Address and token come from VAULT_ADDR / VAULT_TOKEN.
type Vault struct {
	Enabled  bool          `koanf:"enabled"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Paths    Paths    `koanf:"paths"`
	Admin    Admin    `koanf:"admin"`
	Deploy   Deploy   `koanf:"deploy"`
	Vault    Vault    `koanf:"vault"`
}

// defaults seeds values the YAML file may omit.
func defaults() map[string]any {
	return map[string]any{
		"http.listen_addr":      ":8080",
		"paths.apps_dir":        "apps",
		"paths.domains_dir":     "domains",
		"paths.backups_dir":     "storage/backups",
		"paths.admin_views":     "components/admin/views",
		"deploy.workers":        4,
		"deploy.timeout":        "10m",
		"deploy.async":          true,
		"deploy.system_user_id": 1,
		"vault.cache_ttl":       "5m",
	}
}
