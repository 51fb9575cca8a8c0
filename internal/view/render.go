// internal/view/render.go
//
// View engine: template lookup under a tenant's view root, func-map
// injection, and an LRU of parsed *template.Template* sets.
//
// Lookup
// ------
// A view name such as "blog/post.html" resolves to <root>/blog/post.html.
// Every *.html file in the same directory is parsed into one set so
// sub-templates ({{ template "row" . }}) work out-of-the-box.
//
// Cache
// -----
// Sets are keyed by directory, view, and the newest modification time in
// that directory.  A redeploy that rewrites any template produces a new key,
// so stale sets simply age out of the LRU.
//
// Style
// -----
// • Oxford commas, two spaces after periods.

package view

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanizio/hostbus/internal/cache"
)

// DefaultCapacity bounds the number of parsed sets kept in memory.
const DefaultCapacity = 1024

type key struct {
	dir, view string
	mod       time.Time
}

// Engine renders views.  Safe for concurrent use.
type Engine struct {
	lru *cache.LRU[key, *template.Template]
}

// New returns an Engine caching up to capacity template sets.
func New(capacity int) *Engine {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Engine{lru: cache.New[key, *template.Template](capacity)}
}

// Render executes view under root and writes the result to w.
func (e *Engine) Render(w io.Writer, root, view string, data any) error {
	if root == "" {
		return fmt.Errorf("view %s: app has no view root", view)
	}
	full := filepath.Join(root, filepath.FromSlash(view))
	if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		return fmt.Errorf("view %s escapes %s", view, root)
	}
	t, err := e.load(full)
	if err != nil {
		return err
	}
	return t.ExecuteTemplate(w, execName(t, filepath.Base(full)), data)
}

func (e *Engine) load(full string) (*template.Template, error) {
	if _, err := os.Stat(full); err != nil {
		return nil, err
	}
	dir := filepath.Dir(full)
	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(full, ".html") {
		files = append(files, full)
	}

	k := key{dir: dir, view: full, mod: newest(files)}
	if t, ok := e.lru.Get(k); ok {
		return t, nil
	}

	t, err := template.New(filepath.Base(full)).Funcs(funcMap()).ParseFiles(files...)
	if err != nil {
		return nil, err
	}
	e.lru.Add(k, t)
	return t, nil
}

func newest(files []string) time.Time {
	var latest time.Time
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}

//
// helpers
//

// execName picks the template name to execute.
//
// Priority:
//  1. If the set has the file name ("post.html"), run that.
//  2. Otherwise, fall back to the bare name ("post") defined via {{ define }}.
func execName(t *template.Template, file string) string {
	if t.Lookup(file) != nil {
		return file
	}
	return strings.TrimSuffix(file, filepath.Ext(file))
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"dict":  dict,
		"upper": strings.ToUpper,
		"year":  func() int { return time.Now().Year() },
	}
}

// dict builds a map in templates: {{ dict "k" 1 "k2" "v" }}.
func dict(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		m[key] = kv[i+1]
	}
	return m
}
