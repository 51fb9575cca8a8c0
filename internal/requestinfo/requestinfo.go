//
//  internal/requestinfo/requestinfo.go
//
//  Per-request client metadata: user-agent fingerprint, client IP, URL, and
//  timestamp.  The admin API records Describe() in deployment_notes so the
//  history shows where a deploy was triggered from.  These structs are
//  inert and safe to log or JSON-encode.
//
//  Dependencies
//  • github.com/avct/uasurfer  (UA parsing)
//

package requestinfo

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
)

// UA holds the parsed user-agent properties.
type UA struct {
	Raw         string // Entire User-Agent header
	Browser     string // "Chrome", "Firefox", "Safari", etc.
	Version     string // "124"
	OS          string // "macOS", "Windows", "Linux", etc.
	OSVersion   string // "14.5"
	Device      string // "Desktop", "Phone", "Tablet", ...
	Platform    string // "Mac", "Windows", "Linux", ...
	IsBot       bool
	PrimaryLang string // First tag from Accept-Language ("en", "es", ...)
}

// RequestInfo is stored in the request context by Enrich.
type RequestInfo struct {
	UA        UA
	IP        net.IP
	URL       *url.URL // read-only
	Timestamp time.Time
}

// Describe renders a one-line summary such as
// "Firefox 126 on Linux (Desktop) from 10.0.0.7".  Non-browser clients
// (curl, CI runners) fall back to the raw User-Agent.
func (ri *RequestInfo) Describe() string {
	if ri == nil {
		return ""
	}
	var b strings.Builder
	switch {
	case ri.UA.Browser != "" && ri.UA.Browser != "Unknown":
		b.WriteString(ri.UA.Browser)
		if ri.UA.Version != "0" {
			b.WriteString(" " + ri.UA.Version)
		}
		if ri.UA.OS != "" && ri.UA.OS != "Unknown" {
			b.WriteString(" on " + ri.UA.OS)
		}
		b.WriteString(" (" + ri.UA.Device + ")")
	case ri.UA.Raw != "":
		b.WriteString(truncate(ri.UA.Raw, 80))
	default:
		b.WriteString("unknown client")
	}
	if ri.IP != nil {
		b.WriteString(" from " + ri.IP.String())
	}
	return b.String()
}

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer previously stored by Enrich, or nil.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

//
//  -----------------------------
//  Internal helpers
//  -----------------------------
//

// parseUA converts a raw header into our UA struct using uasurfer.
func parseUA(uaHeader, acceptLang string) UA {
	u := uasurfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	return UA{
		Raw:         uaHeader,
		Browser:     strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version:     trimVersion(u.Browser.Version),
		OS:          osName,
		OSVersion:   trimVersion(u.OS.Version),
		Device:      deviceName(u.DeviceType),
		Platform:    strings.TrimPrefix(u.OS.Platform.String(), "Platform"),
		IsBot:       u.IsBot(),
		PrimaryLang: primaryLang(acceptLang),
	}
}

// trimVersion builds "major.minor.patch" and drops trailing zero parts.
func trimVersion(v uasurfer.Version) string {
	parts := []string{strconv.Itoa(v.Major), strconv.Itoa(v.Minor), strconv.Itoa(v.Patch)}
	for len(parts) > 1 && parts[len(parts)-1] == "0" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

func deviceName(dt uasurfer.DeviceType) string {
	switch dt {
	case uasurfer.DeviceComputer:
		return "Desktop"
	case uasurfer.DevicePhone:
		return "Phone"
	case uasurfer.DeviceTablet:
		return "Tablet"
	case uasurfer.DeviceConsole:
		return "Console"
	case uasurfer.DeviceWearable:
		return "Wearable"
	case uasurfer.DeviceTV:
		return "TV"
	default:
		return "Unknown"
	}
}

// primaryLang extracts the first language subtag before any ";q=" rule.
func primaryLang(al string) string {
	if al == "" {
		return ""
	}
	tag, _, _ := strings.Cut(al, ",")
	tag, _, _ = strings.Cut(strings.TrimSpace(tag), ";")
	tag, _, _ = strings.Cut(tag, "-")
	return strings.ToLower(tag)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
