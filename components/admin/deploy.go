package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/auth"
	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/requestinfo"
	"github.com/yanizio/hostbus/internal/site"
)

// batchRequest is the body of POST /api/deploy-batch.
type batchRequest struct {
	SiteIDs []uint64 `json:"site_ids" validate:"required,min=1,max=100,dive,min=1"`
}

// batchItem reports one batch element.
type batchItem struct {
	App          string  `json:"app"`
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	DeploymentID *uint64 `json:"deployment_id,omitempty"`
}

func (a *App) handleDeploy(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSite(w, r)
	if !ok {
		return
	}
	opts := a.options(r)

	if a.cfg.Async {
		rec, err := a.deps.Engine.Trigger(r.Context(), *s, opts)
		if err != nil {
			fail(w, statusFor(err), deploy.Message(err))
			return
		}
		writeJSON(w, http.StatusOK, result{
			Success:      true,
			Message:      "deployment of " + s.AppName + " started",
			DeploymentID: &rec.ID,
		})
		return
	}

	rec, err := a.deps.Engine.Deploy(r.Context(), *s, opts)
	if err != nil {
		res := result{Message: deploy.Message(err)}
		if rec != nil {
			res.DeploymentID = &rec.ID
		}
		writeJSON(w, statusFor(err), res)
		return
	}

	msg := "deployed " + s.AppName
	if rec.GitCommit != nil && len(*rec.GitCommit) >= 7 {
		msg += " at " + (*rec.GitCommit)[:7]
	}
	writeJSON(w, http.StatusOK, result{Success: true, Message: msg, DeploymentID: &rec.ID})
}

func (a *App) handleBackup(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSite(w, r)
	if !ok {
		return
	}
	path, err := a.deps.Engine.Backup(r.Context(), s.AppName)
	if err != nil {
		fail(w, statusFor(err), deploy.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, result{Success: true, Message: "backup of " + s.AppName + " written", Path: path})
}

func (a *App) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		fail(w, http.StatusBadRequest, "site_ids must list between 1 and 100 site ids")
		return
	}

	opts := a.options(r)
	reqs := make([]deploy.Request, 0, len(req.SiteIDs))
	for _, id := range req.SiteIDs {
		s, err := a.deps.Sites.ByID(r.Context(), id)
		switch {
		case errors.Is(err, site.ErrNotFound):
			fail(w, http.StatusNotFound, fmt.Sprintf("site %d not found", id))
			return
		case err != nil:
			zap.L().Error("admin: batch site lookup", zap.Uint64("id", id), zap.Error(err))
			fail(w, http.StatusInternalServerError, "could not load sites")
			return
		}
		reqs = append(reqs, deploy.Request{Site: *s, Options: opts})
	}

	outcomes := a.deps.Engine.DeployMany(r.Context(), reqs)
	items := make([]batchItem, len(outcomes))
	all := true
	for i, o := range outcomes {
		items[i] = batchItem{App: o.AppName, Success: o.Succeeded, Message: "deployed"}
		if o.Deployment != nil {
			items[i].DeploymentID = &o.Deployment.ID
		}
		if !o.Succeeded {
			all = false
			items[i].Message = deploy.Message(o.Err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": all, "results": items})
}

// loadSite resolves {id} or writes the error response.
func (a *App) loadSite(w http.ResponseWriter, r *http.Request) (*site.Record, bool) {
	id, ok := idParam(r)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid site id")
		return nil, false
	}
	s, err := a.deps.Sites.ByID(r.Context(), id)
	switch {
	case errors.Is(err, site.ErrNotFound):
		fail(w, http.StatusNotFound, "site not found")
		return nil, false
	case err != nil:
		zap.L().Error("admin: site by id", zap.Uint64("id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, "could not load site")
		return nil, false
	}
	return s, true
}

// options records the operator and a short client description.
func (a *App) options(r *http.Request) deploy.Options {
	opts := deploy.Options{Operator: auth.Operator(r.Context())}
	info := requestinfo.FromContext(r.Context())
	if info == nil {
		info = requestinfo.New(r)
	}
	opts.Notes = "admin: " + info.Describe()
	return opts
}
