// internal/auth/middleware.go
//
// Bearer-token authentication for the admin surface.
//
// Context
// -------
// The admin API is called by scripts and by the dashboard's own fetches.
// Both present the shared `admin.token` as `Authorization: Bearer <token>`
// and name the acting operator in `X-Operator-ID`.
//
// Workflow
// --------
//  1. No token configured and anonymous access disabled → every request is
//     rejected.  An unconfigured admin surface stays closed.
//  2. Matching bearer token → the operator ID (when present and numeric) is
//     attached with WithUser.
//  3. No Authorization header and `admin.allow_anonymous` → the request runs
//     as the system user.
//  4. Anything else → 401.
//
// Notes
// -----
// • Token comparison is constant-time.
// • Oxford commas, two spaces after periods.

package auth

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// OperatorHeader names the acting operator.
const OperatorHeader = "X-Operator-ID"

// Options configures Middleware.
type Options struct {
	Token          string
	AllowAnonymous bool
	SystemUserID   int64
}

// Middleware authenticates requests according to opts.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if header == "" && opts.AllowAnonymous {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), opts.SystemUserID)))
				return
			}

			token, ok := bearer(header)
			if !ok || opts.Token == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(opts.Token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hostbus"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if raw := r.Header.Get(OperatorHeader); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id < 1 {
					zap.L().Debug("bad operator header", zap.String("value", raw))
					http.Error(w, "invalid "+OperatorHeader, http.StatusBadRequest)
					return
				}
				ctx = WithUser(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
