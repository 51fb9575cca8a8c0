// internal/deployment/model.go
//
// `deployments` table row model.
//
// Context
// -------
// One Record is written per deployment attempt.  It starts `pending` and
// reaches exactly one terminal status, `success` or `failed`, after which
// it never changes again.  `app_name` is denormalised so history survives
// the deletion of its site (`site_id` becomes NULL).
//
// Schema reference
//
//	CREATE TABLE deployments (
//	    id               BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    site_id          BIGINT UNSIGNED NULL,
//	    app_name         VARCHAR(100) NOT NULL,
//	    git_commit       VARCHAR(40)  NULL,
//	    status           VARCHAR(20)  NOT NULL DEFAULT 'pending',
//	    deployed_by      BIGINT UNSIGNED NULL,
//	    deployed_at      TIMESTAMP    NOT NULL,
//	    error_message    TEXT NULL,
//	    deployment_notes TEXT NULL,
//	    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    FOREIGN KEY (site_id) REFERENCES managed_sites(id) ON DELETE SET NULL
//	);
package deployment

import "time"

// Status values.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record mirrors one row in `deployments`.
type Record struct {
	ID              uint64    `db:"id"               json:"id"`
	SiteID          *uint64   `db:"site_id"          json:"site_id"`
	AppName         string    `db:"app_name"         json:"app_name"`
	GitCommit       *string   `db:"git_commit"       json:"git_commit"`
	Status          string    `db:"status"           json:"status"`
	DeployedBy      *int64    `db:"deployed_by"      json:"deployed_by"`
	DeployedAt      time.Time `db:"deployed_at"      json:"deployed_at"`
	ErrorMessage    *string   `db:"error_message"    json:"error_message"`
	DeploymentNotes *string   `db:"deployment_notes" json:"deployment_notes"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// Terminal reports whether the record has left `pending`.
func (r Record) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Filter narrows List.  Zero values mean "no constraint".
type Filter struct {
	Status  string
	AppName string
	SiteID  *uint64
	From    time.Time
	To      time.Time
	Limit   int
}
