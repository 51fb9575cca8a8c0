package deploy

import (
	"context"
	"errors"

	"github.com/yanizio/hostbus/internal/shell"
)

// GitClient implements VcsClient with the git binary.
type GitClient struct {
	Runner shell.Runner
	Bin    string // default "git"
}

func (g GitClient) bin() string {
	if g.Bin == "" {
		return "git"
	}
	return g.Bin
}

// Clone runs git clone -b <branch> <repo> <dir>.
func (g GitClient) Clone(ctx context.Context, repo, branch, dir string) error {
	_, err := g.run(ctx, "", "clone", "-b", branch, repo, dir)
	return err
}

// Fetch runs git fetch origin inside dir.
func (g GitClient) Fetch(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "fetch", "origin")
	return err
}

// Checkout runs git checkout <branch> inside dir.
func (g GitClient) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "checkout", branch)
	return err
}

// Pull runs git pull origin <branch> inside dir.
func (g GitClient) Pull(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "pull", "origin", branch)
	return err
}

// Head returns the commit hash checked out in dir.
func (g GitClient) Head(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

func (g GitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := shell.Cmd{
		Name: g.bin(),
		Args: args,
		Dir:  dir,
		// Never block on a credential prompt.
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}
	out, err := g.Runner.Run(ctx, cmd)
	if err == nil {
		return out, nil
	}
	var ee *shell.ExitError
	if errors.As(err, &ee) {
		return "", &VcsError{Command: cmd.String(), Output: ee.Output, Err: err}
	}
	return "", &VcsError{Command: cmd.String(), Err: err}
}
