// internal/auth/context.go
//
// Operator identity carried on the request context.
//
// Usage
// -----
//     // Attach operator 123 once the request is authenticated.
//     ctx = auth.WithUser(ctx, 123)
//
//     // Downstream code retrieves the ID.
//     id, ok := auth.UserID(ctx)   // 123, true
//
// Notes
// -----
// • The ID is a system_users.id.  It becomes deployments.deployed_by.
// • Oxford commas, two spaces after periods.

package auth

import "context"

// userKey is unexported to avoid context-key collisions.
type userKey struct{}

// WithUser returns a new context carrying the given operator ID.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID extracts the operator ID from ctx.  It returns (0, false) if none
// is set.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}

// Operator returns a pointer form of UserID for APIs that treat "unknown"
// as nil.
func Operator(ctx context.Context) *int64 {
	if id, ok := UserID(ctx); ok {
		return &id
	}
	return nil
}
