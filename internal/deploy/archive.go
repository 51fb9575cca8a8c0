package deploy

import (
	"context"

	"github.com/yanizio/hostbus/internal/shell"
)

// TarArchiver implements Archiver with tar -czf.
type TarArchiver struct {
	Runner shell.Runner
}

// Archive runs tar -czf <dest> -C <baseDir> <rel>.
func (t TarArchiver) Archive(ctx context.Context, baseDir, rel, dest string) error {
	_, err := t.Runner.Run(ctx, shell.Cmd{
		Name: "tar",
		Args: []string{"-czf", dest, "-C", baseDir, rel},
	})
	return err
}
