// internal/acl/store.go
//
// Role lookups for admin access control.
//
// Context
// -------
// Operators live in the central store's system_users table.  Each row has a
// single role name and an is_active flag:
//
//	system_users (id PK, username, email, role, is_active)
//
// Middleware needs answers to two questions:
//  1. What role does operator X have?            → `Store.UserRole()`
//  2. May that role perform action A?            → `RoleAllowed()`
//
// Roles and the actions they grant are fixed in code.  The table only binds
// operators to role names.
//
// Notes
// -----
// • Inactive or unknown operators have no role (ErrNoRole).
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package acl

import (
	"context"
	"database/sql"
	"errors"
	"slices"

	"github.com/jmoiron/sqlx"
)

// Role names stored in system_users.role.
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
)

// Actions checked by RequirePermission.
const (
	ActionRead   = "read"
	ActionDeploy = "deploy"
	ActionBackup = "backup"
)

// ErrNoRole is returned for unknown or inactive operators.
var ErrNoRole = errors.New("acl: operator has no active role")

// grants maps each action to the roles that may perform it.
var grants = map[string][]string{
	ActionRead:   {RoleAdmin, RoleManager, RoleDeveloper, RoleViewer},
	ActionDeploy: {RoleAdmin, RoleManager},
	ActionBackup: {RoleAdmin, RoleManager},
}

// RoleSource resolves an operator's role.  *Store implements it.
type RoleSource interface {
	UserRole(ctx context.Context, userID int64) (string, error)
}

// Store reads roles from the central store.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// UserRole returns the role bound to userID.
func (s *Store) UserRole(ctx context.Context, userID int64) (string, error) {
	const q = `SELECT role
                 FROM system_users
                WHERE id = ? AND is_active = 1`

	var role string
	err := s.db.GetContext(ctx, &role, q, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRole
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// RoleAllowed reports whether role may perform action.  Unknown actions are
// denied.
func RoleAllowed(role, action string) bool {
	return slices.Contains(grants[action], role)
}
