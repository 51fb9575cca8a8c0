// internal/deploy/errors.go
//
// Pipeline error types.
//
// Every fatal error ends the attempt, is stored in error_message as a single
// line (see Message), and maps onto an HTTP status in the admin API.
// MigrationWarning is never returned.  It is only logged.

package deploy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoRepository is wrapped by VcsError when a site without a repository
// has no working tree to update.
var ErrNoRepository = errors.New("site has no repository configured")

// ErrClosed is returned by Trigger once the engine is shutting down.
var ErrClosed = errors.New("deployment engine is shutting down")

// VcsError reports a failed git step.  Command is the command line as run.
type VcsError struct {
	Command string
	Output  string
	Err     error
}

func (e *VcsError) Error() string {
	switch {
	case e.Output != "":
		return e.Command + " failed: " + e.Output
	case e.Err != nil:
		return e.Command + " failed: " + e.Err.Error()
	default:
		return e.Command + " failed"
	}
}

func (e *VcsError) Unwrap() error { return e.Err }

// StructureError lists the required paths missing after checkout.
type StructureError struct {
	App     string
	Missing []string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("app %s is missing required files: %s", e.App, strings.Join(e.Missing, ", "))
}

// SetupError reports a failed setup step.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string { return "setup " + e.Step + ": " + e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// MigrationWarning is logged when migrations fail.  The attempt continues.
type MigrationWarning struct {
	App        string
	Connection string
	Err        error
}

func (e *MigrationWarning) Error() string {
	return fmt.Sprintf("migrations for %s on %s: %v", e.App, e.Connection, e.Err)
}
func (e *MigrationWarning) Unwrap() error { return e.Err }

// BusyError rejects a deploy while another attempt holds the app.
type BusyError struct{ App string }

func (e *BusyError) Error() string { return "deployment already in progress for " + e.App }

// NotFoundError reports a missing app directory.
type NotFoundError struct {
	App  string
	Path string
}

func (e *NotFoundError) Error() string { return "app " + e.App + " not found at " + e.Path }

// ArchiveError reports a failed backup.
type ArchiveError struct {
	App string
	Err error
}

func (e *ArchiveError) Error() string { return "backup of " + e.App + " failed: " + e.Err.Error() }
func (e *ArchiveError) Unwrap() error { return e.Err }

// CancelledError reports an attempt stopped by its context.  The working
// tree is left as it was when the current step returned.
type CancelledError struct {
	Stage string
	Err   error
}

func (e *CancelledError) Error() string { return "cancelled: during " + e.Stage + ": " + e.Err.Error() }
func (e *CancelledError) Unwrap() error { return e.Err }

// MaxMessage bounds error_message.
const MaxMessage = 2000

var spaceRx = regexp.MustCompile(`\s*\n\s*`)

// Message renders err as one line suitable for error_message and API
// responses.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := spaceRx.ReplaceAllString(strings.TrimSpace(err.Error()), " | ")
	if len(msg) > MaxMessage {
		msg = strings.ToValidUTF8(msg[:MaxMessage-3], "") + "..."
	}
	return msg
}
