package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceResolveRejectsEscapes(t *testing.T) {
	ws := &Workspace{Path: t.TempDir()}

	tests := []struct {
		name string
		rel  string
	}{
		{"absolute path", "/etc/passwd"},
		{"plain traversal", "../outside.txt"},
		{"nested traversal", "docs/../../outside.txt"},
		{"bare dotdot", ".."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ws.resolve(tt.rel)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEscape)
		})
	}
}

func TestWorkspaceWriteReadDelete(t *testing.T) {
	ws := &Workspace{Path: t.TempDir()}

	require.NoError(t, ws.WriteFile("pkg/api/handlers.go", []byte("package api")))
	b, err := ws.ReadFile("pkg/api/handlers.go")
	require.NoError(t, err)
	assert.Equal(t, "package api", string(b))

	// Internal dotdot that stays inside the tree is fine.
	b, err = ws.ReadFile("pkg/api/../api/handlers.go")
	require.NoError(t, err)
	assert.Equal(t, "package api", string(b))

	require.NoError(t, ws.DeleteFile("pkg/api/handlers.go"))
	_, err = ws.ReadFile("pkg/api/handlers.go")
	require.Error(t, err)

	// Deleting a missing file is not an error.
	require.NoError(t, ws.DeleteFile("never/existed.go"))
}

func TestMemoryHostOpenReviewIdempotent(t *testing.T) {
	h := NewMemoryHost()
	ctx := context.Background()

	r1, err := h.OpenReview(ctx, "proj", "hollon/a/b", "title", "body")
	require.NoError(t, err)
	r2, err := h.OpenReview(ctx, "proj", "hollon/a/b", "title again", "body")
	require.NoError(t, err)
	assert.Equal(t, r1.Number, r2.Number)

	r3, err := h.OpenReview(ctx, "proj", "hollon/a/c", "other", "body")
	require.NoError(t, err)
	assert.NotEqual(t, r1.Number, r3.Number)
}

func TestMemoryHostFindReview(t *testing.T) {
	h := NewMemoryHost()
	ctx := context.Background()

	_, err := h.FindReview(ctx, "proj", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoReview)

	opened, err := h.OpenReview(ctx, "proj", "branch", "t", "b")
	require.NoError(t, err)
	found, err := h.FindReview(ctx, "proj", "branch")
	require.NoError(t, err)
	assert.Equal(t, opened.Number, found.Number)
}

func TestMemoryHostCIAndMerge(t *testing.T) {
	h := NewMemoryHost()
	ctx := context.Background()

	r, err := h.OpenReview(ctx, "proj", "branch", "t", "b")
	require.NoError(t, err)

	state, _, err := h.CIStatus(ctx, "proj", r.Number)
	require.NoError(t, err)
	assert.Equal(t, CIPending, state)

	h.SetCI(r.Number, CIFailed, "TestX failed")
	state, feedback, err := h.CIStatus(ctx, "proj", r.Number)
	require.NoError(t, err)
	assert.Equal(t, CIFailed, state)
	assert.Equal(t, "TestX failed", feedback)

	h.SetCI(r.Number, CIPassed, "")
	require.NoError(t, err)
	require.NoError(t, h.Merge(ctx, "proj", r.Number))
	assert.True(t, h.Merged(r.Number))
}
