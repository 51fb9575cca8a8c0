// internal/site/model.go
//
// `managed_sites` table row model.
//
// Context
// -------
// A Site maps one public domain to one deployable app under `apps/`.  It is
// read by the host resolver on every cold request and by the deployment
// engine before each attempt.
//
// Schema reference
//
//	CREATE TABLE managed_sites (
//	    id             BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    domain         VARCHAR(255) NOT NULL UNIQUE,
//	    app_name       VARCHAR(100) NOT NULL UNIQUE,
//	    site_title     VARCHAR(255) NOT NULL,
//	    theme_color    VARCHAR(7)   NOT NULL DEFAULT '#6366f1',
//	    status         VARCHAR(20)  NOT NULL DEFAULT 'active',
//	    app_repository VARCHAR(500) NULL,
//	    app_branch     VARCHAR(100) NOT NULL DEFAULT 'main',
//	    auto_deploy    TINYINT(1)   NOT NULL DEFAULT 0,
//	    notes          TEXT NULL,
//	    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
// • Nullable columns are pointers; callers must nil-check before use.
// • JSON tags keep the snake_case field names the admin API has always
//   returned.
package site

import (
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status values.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
)

// DefaultBranch is used when a site does not name one.
const DefaultBranch = "main"

// DefaultThemeColor matches the column default.
const DefaultThemeColor = "#6366f1"

// Record mirrors one row in `managed_sites`.
type Record struct {
	ID            uint64    `db:"id"             json:"id"`
	Domain        string    `db:"domain"         json:"domain"      validate:"required,hostname_rfc1123,max=255"`
	AppName       string    `db:"app_name"       json:"app_name"    validate:"required,appname,max=100"`
	SiteTitle     string    `db:"site_title"     json:"site_title"  validate:"required,max=255"`
	ThemeColor    string    `db:"theme_color"    json:"theme_color" validate:"required,hexcolor"`
	Status        string    `db:"status"         json:"status"      validate:"required,oneof=active inactive maintenance"`
	AppRepository *string   `db:"app_repository" json:"app_repository"`
	AppBranch     string    `db:"app_branch"     json:"app_branch"  validate:"required,max=100"`
	AutoDeploy    bool      `db:"auto_deploy"    json:"auto_deploy"`
	Notes         *string   `db:"notes"          json:"notes"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Repository returns the git remote or "" when none is configured.
func (r Record) Repository() string {
	if r.AppRepository == nil {
		return ""
	}
	return *r.AppRepository
}

// Branch returns AppBranch or DefaultBranch.
func (r Record) Branch() string {
	if r.AppBranch == "" {
		return DefaultBranch
	}
	return r.AppBranch
}

// AppPath is the working tree of this site's app under appsDir.
func (r Record) AppPath(appsDir string) string {
	return filepath.Join(appsDir, r.AppName)
}

// ApplyDefaults fills the columns that carry SQL defaults so Validate and
// Create agree on what gets stored.
func (r *Record) ApplyDefaults() {
	if r.ThemeColor == "" {
		r.ThemeColor = DefaultThemeColor
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.AppBranch == "" {
		r.AppBranch = DefaultBranch
	}
}

//
// validation
//

var (
	appNameRx = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	validate  = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("appname", func(fl validator.FieldLevel) bool {
		return appNameRx.MatchString(fl.Field().String())
	})
	return v
}

// ValidAppName reports whether name is safe to use as a directory under
// apps/.
func ValidAppName(name string) bool { return appNameRx.MatchString(name) }

// Validate checks the record against the column constraints.
func (r *Record) Validate() error {
	return validate.Struct(r)
}
