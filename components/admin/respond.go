package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/deploy"
)

// result is the body of every mutating endpoint.
type result struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	DeploymentID *uint64 `json:"deployment_id,omitempty"`
	Path         string  `json:"path,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("admin: encode response", zap.Error(err))
	}
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, result{Message: msg})
}

// statusFor maps pipeline errors onto HTTP codes.
func statusFor(err error) int {
	var (
		busy *deploy.BusyError
		nf   *deploy.NotFoundError
	)
	switch {
	case errors.As(err, &busy):
		return http.StatusConflict
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, deploy.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// idParam parses the {id} URL parameter.
func idParam(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
