// internal/tenant/manifest.go
//
// routes.yaml loader.
//
// A deployed app declares its pages in apps/<app>/routes.yaml:
//
//	routes:
//	  - path: /
//	    view: home.html
//	  - method: GET
//	    path: /posts/{slug}
//	    view: post.html
//
// Every view is relative to resources/views.  Dynamic behaviour belongs in
// a Go plugin registered under the app's name.
package tenant

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Layout of a deployed app.
const (
	ManifestFile = "routes.yaml"
	ViewsDir     = "resources/views"
)

// Route maps one method and chi pattern to a template.
type Route struct {
	Method string `koanf:"method" json:"method"`
	Path   string `koanf:"path"   json:"path"`
	View   string `koanf:"view"   json:"view"`
}

// LoadManifest parses a routes.yaml file.  Method defaults to GET.
func LoadManifest(name string) ([]Route, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(name), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	var routes []Route
	if err := k.Unmarshal("routes", &routes); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	for i := range routes {
		if err := normalise(&routes[i]); err != nil {
			return nil, fmt.Errorf("%s: route %d: %w", name, i, err)
		}
	}
	return routes, nil
}

func normalise(r *Route) error {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		return fmt.Errorf("method %q not allowed for a view route", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.View == "" {
		return fmt.Errorf("path %s has no view", r.Path)
	}
	// Rooting before Clean confines ".." to the views directory.
	r.View = strings.TrimPrefix(path.Clean("/"+r.View), "/")
	if r.View == "" {
		return fmt.Errorf("path %s has an empty view", r.Path)
	}
	return nil
}
