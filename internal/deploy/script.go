package deploy

import (
	"context"
	"sort"

	"github.com/yanizio/hostbus/internal/shell"
)

// ShellScriptRunner implements ScriptRunner with sh.
type ShellScriptRunner struct {
	Runner shell.Runner
}

// Run executes `sh <script>` in dir.  env is added on top of the process
// environment, so DOMAIN_* values are visible to the script.
func (s ShellScriptRunner) Run(ctx context.Context, dir, script string, env map[string]string) error {
	_, err := s.Runner.Run(ctx, shell.Cmd{
		Name: "sh",
		Args: []string{script},
		Dir:  dir,
		Env:  envList(env),
	})
	return err
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
