package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// centralSchema creates the management tables in the central store.
// Statements are idempotent and run in order; the deployments FK keeps
// history when a site is deleted.
var centralSchema = []string{
	`CREATE TABLE IF NOT EXISTS system_users (
        id         BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
        username   VARCHAR(100) NOT NULL UNIQUE,
        email      VARCHAR(255) NOT NULL UNIQUE,
        role       VARCHAR(50)  NOT NULL DEFAULT 'developer',
        is_active  TINYINT(1)   NOT NULL DEFAULT 1,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        INDEX idx_role_active (role, is_active)
    )`,
	`CREATE TABLE IF NOT EXISTS managed_sites (
        id             BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
        domain         VARCHAR(255) NOT NULL UNIQUE,
        app_name       VARCHAR(100) NOT NULL UNIQUE,
        site_title     VARCHAR(255) NOT NULL,
        theme_color    VARCHAR(7)   NOT NULL DEFAULT '#6366f1',
        status         VARCHAR(20)  NOT NULL DEFAULT 'active',
        app_repository VARCHAR(500) NULL,
        app_branch     VARCHAR(100) NOT NULL DEFAULT 'main',
        auto_deploy    TINYINT(1)   NOT NULL DEFAULT 0,
        notes          TEXT NULL,
        created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        INDEX idx_status_auto (status, auto_deploy)
    )`,
	`CREATE TABLE IF NOT EXISTS deployments (
        id               BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
        site_id          BIGINT UNSIGNED NULL,
        app_name         VARCHAR(100) NOT NULL,
        git_commit       VARCHAR(40)  NULL,
        status           VARCHAR(20)  NOT NULL DEFAULT 'pending',
        deployed_by      BIGINT UNSIGNED NULL,
        deployed_at      TIMESTAMP    NOT NULL,
        error_message    TEXT NULL,
        deployment_notes TEXT NULL,
        created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        INDEX idx_status_deployed (status, deployed_at),
        INDEX idx_app_deployed (app_name, deployed_at),
        INDEX idx_deployed (deployed_at),
        CONSTRAINT fk_deployments_site FOREIGN KEY (site_id)
            REFERENCES managed_sites(id) ON DELETE SET NULL,
        CONSTRAINT fk_deployments_user FOREIGN KEY (deployed_by)
            REFERENCES system_users(id) ON DELETE SET NULL
    )`,
}

// EnsureSchema applies centralSchema.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range centralSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i+1, err)
		}
	}
	return nil
}

// SeedSystemUser makes sure the operator id used for unattended
// deployments exists, so the deployed_by FK holds.
func SeedSystemUser(ctx context.Context, db *sqlx.DB, id int64) error {
	_, err := db.ExecContext(ctx, `INSERT IGNORE INTO system_users
        (id, username, email, role) VALUES (?, 'system', 'system@localhost', 'admin')`, id)
	return err
}
