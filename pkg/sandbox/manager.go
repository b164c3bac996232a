// Package sandbox gives each execution cycle an isolated git worktree and
// publishes the resulting change set to the code host.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
)

// ErrEscape is returned when a change-set path would leave the workspace.
var ErrEscape = errors.New("path escapes workspace")

// ErrEmptyChangeSet is returned when publishing a workspace with no changes.
var ErrEmptyChangeSet = errors.New("workspace has no changes")

// Workspace is one agent/task pair's isolated worktree on its own branch.
type Workspace struct {
	ProjectID string
	Path      string
	Branch    string

	run *gitRunner
}

// Manager creates, publishes, and releases workspaces.
type Manager struct {
	cfg    *config.SandboxConfig
	host   Host
	logger *slog.Logger
}

// NewManager creates a Manager over the given host.
func NewManager(cfg *config.SandboxConfig, host Host, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, host: host, logger: logger.With("component", "sandbox")}
}

// Host returns the code host the manager publishes to.
func (m *Manager) Host() Host { return m.host }

// Acquire creates (or reuses) the worktree for an agent/task pair under
// <working_dir>/.worktrees/<agent>/<task> on branch hollon/<agent>/<task>.
// Reuse makes the cycle restartable: a task retried by the same agent keeps
// its previous uncommitted state.
func (m *Manager) Acquire(ctx context.Context, projectID, workingDir, agentID, taskID string) (*Workspace, error) {
	agentShort, taskShort := ident.Short(agentID), ident.Short(taskID)
	path := filepath.Join(workingDir, ".worktrees", agentShort, taskShort)
	branch := fmt.Sprintf("hollon/%s/%s", agentShort, taskShort)

	ws := &Workspace{
		ProjectID: projectID,
		Path:      path,
		Branch:    branch,
		run:       &gitRunner{dir: path},
	}
	if _, err := os.Stat(path); err == nil {
		m.logger.Debug("reusing worktree", "path", path, "branch", branch)
		return ws, nil
	}

	repo := &gitRunner{dir: workingDir}
	if err := repo.worktreePrune(ctx); err != nil {
		m.logger.Warn("worktree prune failed", "error", err)
	}
	if err := repo.worktreeAdd(ctx, path, branch); err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}
	m.logger.Info("workspace acquired", "path", path, "branch", branch)
	return ws, nil
}

// resolve maps a change-set relative path into the worktree, rejecting
// absolute paths and traversal.
func (w *Workspace) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%s: %w", rel, ErrEscape)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrEscape)
	}
	return filepath.Join(w.Path, clean), nil
}

// WriteFile writes one file of the change set, creating parent directories.
func (w *Workspace) WriteFile(rel string, content []byte) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// DeleteFile removes one file of the change set; missing files are fine.
func (w *Workspace) DeleteFile(rel string) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// ReadFile reads one file from the worktree.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return b, nil
}

// ListChanges returns the worktree's dirty paths per git status --porcelain.
func (w *Workspace) ListChanges(ctx context.Context) ([]string, error) {
	out, err := w.run.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	return paths, nil
}

// Publish commits the workspace and opens (or finds) its review on the host.
// Push and review-open are retried with exponential backoff, and the whole
// operation is idempotent: re-publishing an already-pushed branch returns the
// existing review.
func (m *Manager) Publish(ctx context.Context, ws *Workspace, title, body string) (*Review, error) {
	changes, err := ws.ListChanges(ctx)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if _, err := ws.run.run(ctx, "add", "-A"); err != nil {
			return nil, fmt.Errorf("stage changes: %w", err)
		}
		if _, err := ws.run.run(ctx, "commit", "-m", title); err != nil {
			return nil, fmt.Errorf("commit changes: %w", err)
		}
	} else {
		// Nothing dirty and no commits of our own means an empty change set.
		ahead, err := ws.run.run(ctx, "rev-list", "--count", "HEAD", "--not", "--remotes")
		if err != nil || ahead == "0" {
			return nil, ErrEmptyChangeSet
		}
	}

	var review *Review
	attempt := func() error {
		pushCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
		defer cancel()
		if _, err := ws.run.run(pushCtx, "push", "-u", "origin", ws.Branch); err != nil {
			return err
		}
		r, err := m.host.OpenReview(pushCtx, ws.ProjectID, ws.Branch, title, body)
		if err != nil {
			return err
		}
		review = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.cfg.PublishRetries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, fmt.Errorf("publish %s: %w", ws.Branch, err)
	}
	m.logger.Info("change set published",
		"branch", ws.Branch, "review", review.Number, "url", review.URL)
	return review, nil
}

// Release removes the worktree. With keep=true (failed cycles) the worktree
// stays on disk for diagnosis and later reuse.
func (m *Manager) Release(ctx context.Context, workingDir string, ws *Workspace, keep bool) error {
	if keep {
		m.logger.Debug("keeping worktree", "path", ws.Path)
		return nil
	}
	repo := &gitRunner{dir: workingDir}
	if err := repo.worktreeRemove(ctx, ws.Path); err != nil {
		return err
	}
	return repo.worktreePrune(ctx)
}
