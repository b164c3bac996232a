package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CIState is the host's CI verdict on a review.
type CIState string

// CI verdicts.
const (
	CIPending CIState = "pending"
	CIPassed  CIState = "passed"
	CIFailed  CIState = "failed"
)

// ErrNoReview is returned when a branch has no open review on the host.
var ErrNoReview = errors.New("no review for branch")

// Review is the host-side handle of a published change set.
type Review struct {
	Number int
	URL    string
}

// Host abstracts the external code host: pushed branches become reviews,
// reviews run CI and eventually merge. Implementations must make OpenReview
// idempotent per branch.
type Host interface {
	// OpenReview opens (or returns the existing) review for a pushed branch.
	OpenReview(ctx context.Context, projectID, branch, title, body string) (*Review, error)

	// FindReview returns the open review for a branch, or ErrNoReview.
	FindReview(ctx context.Context, projectID, branch string) (*Review, error)

	// CIStatus reports the review's CI verdict plus failure feedback when red.
	CIStatus(ctx context.Context, projectID string, number int) (CIState, string, error)

	// Merge merges an approved review into the default branch.
	Merge(ctx context.Context, projectID string, number int) error

	// CloseReview closes a review without merging.
	CloseReview(ctx context.Context, projectID string, number int) error
}

// MemoryHost is an in-process Host for tests and single-node local mode.
// CI verdicts are scripted per review via SetCI.
type MemoryHost struct {
	mu      sync.Mutex
	next    int
	reviews map[string]*Review // key projectID/branch
	ci      map[int]ciResult
	merged  map[int]bool
	closed  map[int]bool
}

type ciResult struct {
	state    CIState
	feedback string
}

// NewMemoryHost creates an empty MemoryHost.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		next:    1,
		reviews: make(map[string]*Review),
		ci:      make(map[int]ciResult),
		merged:  make(map[int]bool),
		closed:  make(map[int]bool),
	}
}

func hostKey(projectID, branch string) string { return projectID + "/" + branch }

// OpenReview implements Host.
func (h *MemoryHost) OpenReview(_ context.Context, projectID, branch, _, _ string) (*Review, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := hostKey(projectID, branch)
	if r, ok := h.reviews[key]; ok {
		return r, nil
	}
	r := &Review{Number: h.next, URL: fmt.Sprintf("memory://%s/reviews/%d", projectID, h.next)}
	h.next++
	h.reviews[key] = r
	h.ci[r.Number] = ciResult{state: CIPending}
	return r, nil
}

// FindReview implements Host.
func (h *MemoryHost) FindReview(_ context.Context, projectID, branch string) (*Review, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.reviews[hostKey(projectID, branch)]; ok && !h.closed[r.Number] {
		return r, nil
	}
	return nil, fmt.Errorf("%s: %w", branch, ErrNoReview)
}

// CIStatus implements Host.
func (h *MemoryHost) CIStatus(_ context.Context, _ string, number int) (CIState, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, ok := h.ci[number]
	if !ok {
		return "", "", fmt.Errorf("review %d: %w", number, ErrNoReview)
	}
	return res.state, res.feedback, nil
}

// SetCI scripts a review's CI verdict.
func (h *MemoryHost) SetCI(number int, state CIState, feedback string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ci[number] = ciResult{state: state, feedback: feedback}
}

// Merge implements Host.
func (h *MemoryHost) Merge(_ context.Context, _ string, number int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[number] {
		return fmt.Errorf("review %d closed: %w", number, ErrNoReview)
	}
	h.merged[number] = true
	return nil
}

// Merged reports whether a review was merged.
func (h *MemoryHost) Merged(number int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.merged[number]
}

// CloseReview implements Host.
func (h *MemoryHost) CloseReview(_ context.Context, _ string, number int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed[number] = true
	return nil
}
