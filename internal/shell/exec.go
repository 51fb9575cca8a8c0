// Package shell runs external commands (git, tar, sh) and captures their
// output for error reporting.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Cmd describes one command invocation.
type Cmd struct {
	Name string
	Args []string
	Env  []string // appended to the parent environment
	Dir  string
}

// String renders the command line the way an operator would type it.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ExitError is returned when the command ran and exited non-zero, or could
// not be started at all (Code -1).
type ExitError struct {
	Cmd    Cmd
	Code   int
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: exit %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s: exit %d: %s", e.Cmd, e.Code, e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes commands.  The zero value is ready to use.
type Runner struct{}

// Run executes cmd and returns its trimmed stdout.  Stderr is folded into
// ExitError.Output on failure.  A cancelled ctx kills the process.
func (Runner) Run(ctx context.Context, cmd Cmd) (string, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	zap.L().Debug("exec", zap.String("dir", cmd.Dir), zap.String("cmd", cmd.String()))

	err := c.Run()
	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return out, nil
	}

	code := -1
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	}
	combined := strings.TrimSpace(strings.Join(nonEmpty(out, strings.TrimSpace(stderr.String())), "\n"))
	if ctx.Err() != nil {
		err = errors.Join(ctx.Err(), err)
	}
	return out, &ExitError{Cmd: cmd, Code: code, Output: combined, Err: err}
}

func nonEmpty(ss ...string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
