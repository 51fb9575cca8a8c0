// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// `Load()` calls `validateStruct` immediately after it unmarshals the merged
// Koanf tree into a `Config` instance.  Any tag mismatch or validation error
// aborts startup, so the binary never runs with partial configuration.
//
// One cross-field rule lives here as well: `deploy.auto_cron`, when set,
// must parse as a standard five-field cron expression.

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Deploy.AutoCron != "" {
		if _, err := cron.ParseStandard(c.Deploy.AutoCron); err != nil {
			return fmt.Errorf("deploy.auto_cron: %w", err)
		}
	}
	return nil
}
