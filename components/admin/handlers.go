package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/requestinfo"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

// dashboardPage feeds dashboard.html.
type dashboardPage struct {
	Title       string
	Sites       []site.Record
	Deployments []deployment.Record
	Client      string
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := a.deps.Sites.All(ctx)
	if err != nil {
		zap.L().Error("admin: list sites", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	recent, err := a.deps.Deployments.List(ctx, deployment.Filter{Limit: deployment.DefaultLimit})
	if err != nil {
		zap.L().Error("admin: recent deployments", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	page := dashboardPage{Title: "Sites", Sites: sites, Deployments: recent}
	if tc := tenant.FromContext(ctx); tc != nil && tc.Title != "" {
		page.Title = tc.Title
	}
	if info := requestinfo.FromContext(ctx); info != nil {
		page.Client = info.Describe()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := a.deps.Views.Render(w, a.cfg.ViewRoot, "dashboard.html", page); err != nil {
		zap.L().Error("admin: render dashboard", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (a *App) handleSites(w http.ResponseWriter, r *http.Request) {
	sites, err := a.deps.Sites.All(r.Context())
	if err != nil {
		zap.L().Error("admin: list sites", zap.Error(err))
		fail(w, http.StatusInternalServerError, "could not list sites")
		return
	}
	if sites == nil {
		sites = []site.Record{}
	}
	writeJSON(w, http.StatusOK, sites)
}

func (a *App) handleSite(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid site id")
		return
	}
	s, err := a.deps.Sites.ByID(r.Context(), id)
	switch {
	case errors.Is(err, site.ErrNotFound):
		fail(w, http.StatusNotFound, "site not found")
		return
	case err != nil:
		zap.L().Error("admin: site by id", zap.Uint64("id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, "could not load site")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) handleDeployments(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := a.deps.Deployments.List(r.Context(), f)
	if err != nil {
		zap.L().Error("admin: list deployments", zap.Error(err))
		fail(w, http.StatusInternalServerError, "could not list deployments")
		return
	}
	if rows == nil {
		rows = []deployment.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *App) handleDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	d, err := a.deps.Deployments.ByID(r.Context(), id)
	switch {
	case errors.Is(err, deployment.ErrNotFound):
		fail(w, http.StatusNotFound, "deployment not found")
		return
	case err != nil:
		zap.L().Error("admin: deployment by id", zap.Uint64("id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, "could not load deployment")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// parseFilter reads status, app, site_id, from, to, and limit.  Times are
// RFC 3339.
func parseFilter(r *http.Request) (deployment.Filter, error) {
	q := r.URL.Query()
	f := deployment.Filter{
		Status:  q.Get("status"),
		AppName: q.Get("app"),
	}

	switch f.Status {
	case "", deployment.StatusPending, deployment.StatusSuccess, deployment.StatusFailed:
	default:
		return f, errors.New("status must be pending, success, or failed")
	}

	if v := q.Get("site_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, errors.New("site_id must be a positive integer")
		}
		f.SiteID = &id
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New(p.name + " must be an RFC 3339 timestamp")
			}
			*p.dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}
