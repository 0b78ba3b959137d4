// Package gitinfo reads the commit a release is built from.
package gitinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/savaki/ecs-deployer/internal/runner"
)

// Head returns the current commit hash of the repository containing dir and
// whether the work tree has uncommitted changes.
func Head(ctx context.Context, r runner.Runner, dir string) (commit string, dirty bool, err error) {
	out, err := r.Run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", false, fmt.Errorf("git rev-parse: %w", err)
	}
	commit = strings.TrimSpace(string(out))
	if commit == "" {
		return "", false, fmt.Errorf("git rev-parse returned no commit")
	}

	status, err := r.Run(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return commit, false, fmt.Errorf("git status: %w", err)
	}
	dirty = len(strings.TrimSpace(string(status))) > 0

	return commit, dirty, nil
}
