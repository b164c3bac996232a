package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitRunner shells out to the git CLI rooted at a fixed directory.
type gitRunner struct {
	dir string
}

// run executes git with the given arguments and returns trimmed stdout.
// Stderr is folded into the error, since git writes its diagnostics there.
func (r *gitRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// worktreeAdd creates a worktree at path on branch, creating the branch when
// it does not exist yet. Rework after a release checks out the branch that was
// already pushed, so -b failing on an existing branch falls back to a plain
// checkout.
func (r *gitRunner) worktreeAdd(ctx context.Context, path, branch string) error {
	if _, err := r.run(ctx, "worktree", "add", "-b", branch, path); err == nil {
		return nil
	}
	_, err := r.run(ctx, "worktree", "add", path, branch)
	return err
}

// worktreeRemove detaches and deletes a worktree; --force discards any
// uncommitted state.
func (r *gitRunner) worktreeRemove(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// worktreePrune drops stale worktree registrations.
func (r *gitRunner) worktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}
