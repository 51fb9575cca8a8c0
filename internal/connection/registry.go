// internal/connection/registry.go
//
// Per-tenant database connection descriptors.
//
// Context
// -------
// A tenant's env snapshot may declare any number of database connections
// using a flat, structured key space:
//
//	DOMAIN_DB_CONNECTIONS_SITE1_SQLITE_DRIVER   = sqlite
//	DOMAIN_DB_CONNECTIONS_SITE1_SQLITE_DATABASE = /srv/db/site1.sqlite
//	DOMAIN_DB_DEFAULT                           = site1_sqlite
//
// The two tokens following the prefix name the connection ("site1_sqlite")
// and every remaining token forms the parameter name ("database",
// "foreign_key_constraints").  Parse folds the flat keys into Descriptors.
//
// Notes
// -----
//   - Parse is pure.  It never reads the process environment.
//   - A tenant with no matching keys is valid; it uses the central store.
//   - Keys that differ only in the case of their tokens name the same
//     parameter.  Parse walks keys in sorted order and keeps the first.
//   - Oxford commas, two spaces after periods.
package connection

import (
	"sort"
	"strings"
)

const (
	// Prefix marks the structured connection keys.
	Prefix = "DOMAIN_DB_CONNECTIONS_"

	// DefaultKey names the env key that holds the requested default
	// connection name.
	DefaultKey = "DOMAIN_DB_DEFAULT"
)

// Param is one parameter of a connection, e.g. driver=mysql.
type Param struct {
	Name  string
	Value string
}

// Descriptor describes one named connection.  Params are sorted by name so
// two Parse calls over the same snapshot produce identical descriptors.
type Descriptor struct {
	Name   string
	Params []Param
}

// Get returns the value of a parameter and whether it was declared.
func (d Descriptor) Get(name string) (string, bool) {
	i := sort.Search(len(d.Params), func(i int) bool { return d.Params[i].Name >= name })
	if i < len(d.Params) && d.Params[i].Name == name {
		return d.Params[i].Value, true
	}
	return "", false
}

// Map copies the params into a plain map.
func (d Descriptor) Map() map[string]string {
	out := make(map[string]string, len(d.Params))
	for _, p := range d.Params {
		out[p.Name] = p.Value
	}
	return out
}

// Key reassembles the upper-case env key that declares param.
func (d Descriptor) Key(param string) string {
	return strings.ToUpper(Prefix + d.Name + "_" + param)
}

// Registry maps connection name → Descriptor.
type Registry map[string]Descriptor

// Names returns the connection names in sorted order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Parse groups every structured key in env into Descriptors.  Keys outside
// the grammar are ignored; an empty registry is returned when nothing
// matches.
func Parse(env map[string]string) Registry {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	grouped := make(map[string]map[string]string)
	for _, key := range keys {
		name, param, ok := splitKey(key)
		if !ok {
			continue
		}
		params, seen := grouped[name]
		if !seen {
			params = make(map[string]string, 4)
			grouped[name] = params
		}
		// Keys differing only in token case fold to one pair; the
		// byte-wise smallest key (the upper-case spelling) wins.
		if _, dup := params[param]; dup {
			continue
		}
		params[param] = env[key]
	}

	reg := make(Registry, len(grouped))
	for name, params := range grouped {
		if len(params) == 0 {
			continue
		}
		d := Descriptor{Name: name, Params: make([]Param, 0, len(params))}
		for p, v := range params {
			d.Params = append(d.Params, Param{Name: p, Value: v})
		}
		sort.Slice(d.Params, func(i, j int) bool { return d.Params[i].Name < d.Params[j].Name })
		reg[name] = d
	}
	return reg
}

// ResolveDefault returns requested only when it names a connection in reg.
// The caller falls back to the central store when ok is false.
func ResolveDefault(reg Registry, requested string) (name string, ok bool) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return "", false
	}
	if _, hit := reg[requested]; !hit {
		return "", false
	}
	return requested, true
}

// splitKey applies the <PREFIX><T1>_<T2>_<PARAM...> grammar.  The prefix
// must match exactly; the tokens after it are folded to lower case.
func splitKey(key string) (name, param string, ok bool) {
	if len(key) <= len(Prefix) || !strings.HasPrefix(key, Prefix) {
		return "", "", false
	}
	tokens := strings.Split(key[len(Prefix):], "_")
	if len(tokens) < 3 {
		return "", "", false
	}
	for _, t := range tokens {
		if t == "" {
			return "", "", false
		}
	}
	name = strings.ToLower(tokens[0] + "_" + tokens[1])
	param = strings.ToLower(strings.Join(tokens[2:], "_"))
	return name, param, true
}
