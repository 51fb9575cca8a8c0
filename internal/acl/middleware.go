// internal/acl/middleware.go
//
// Chi middleware helpers that enforce role checks on the admin surface.

package acl

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/auth"
)

// RequireRole ensures the current operator holds ANY of the supplied roles.
func RequireRole(src RoleSource, names ...string) func(http.Handler) http.Handler {
	if len(names) == 0 {
		panic("acl.RequireRole: at least one role name must be supplied")
	}
	allowSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowSet[n] = struct{}{}
	}
	return guard(src, func(role string) bool {
		_, ok := allowSet[role]
		return ok
	})
}

// RequirePermission verifies that the operator's role grants action.
func RequirePermission(src RoleSource, action string) func(http.Handler) http.Handler {
	return guard(src, func(role string) bool { return RoleAllowed(role, action) })
}

func guard(src RoleSource, allow func(role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := auth.UserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			role, err := src.UserRole(r.Context(), uid)
			switch {
			case errors.Is(err, ErrNoRole):
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			case err != nil:
				zap.L().Error("acl user role", zap.Int64("operator", uid), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if !allow(role) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
