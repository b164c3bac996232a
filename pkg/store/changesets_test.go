package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

func (f *fixture) newChangeSet(t *testing.T, branch string) *models.ChangeSet {
	t.Helper()
	tk := f.newTask(t, func(tk *models.Task) { tk.Title = "task for " + branch })
	cs := &models.ChangeSet{
		TaskID:        tk.ID,
		ProjectID:     f.project.ID,
		BranchName:    branch,
		AuthorAgentID: f.agent.ID,
	}
	require.NoError(t, f.st.CreateChangeSet(context.Background(), cs))
	return cs
}

func TestChangeSetReviewLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cs := f.newChangeSet(t, "hollon/t1/a1")
	got, err := f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusReadyForReview, got.Status)

	reviewer := f.newAgent(t, "reviewer-1")
	require.NoError(t, f.st.AssignReviewer(ctx, cs.ID, reviewer.ID))

	// Concurrent loops must not double-assign.
	err = f.st.AssignReviewer(ctx, cs.ID, f.agent.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, f.st.RecordReviewVerdict(ctx, cs.ID, models.ChangeSetStatusApproved, "lgtm"))
	got, err = f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	require.NotNil(t, got.ReviewComments)
	assert.Equal(t, "lgtm", *got.ReviewComments)

	// Verdicts only land on change sets still awaiting review.
	err = f.st.RecordReviewVerdict(ctx, cs.ID, models.ChangeSetStatusChangesRequested, "wait")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, f.st.MarkChangeSetMerged(ctx, cs.ID))
	got, err = f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusMerged, got.Status)
	require.NotNil(t, got.MergedAt)
}

func TestChangeSetReworkRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cs := f.newChangeSet(t, "hollon/t1/a1")
	reviewer := f.newAgent(t, "reviewer-1")
	require.NoError(t, f.st.AssignReviewer(ctx, cs.ID, reviewer.ID))
	require.NoError(t, f.st.RecordReviewVerdict(ctx, cs.ID,
		models.ChangeSetStatusChangesRequested, "split the function"))

	// Rework clears the reviewer so the next round picks fresh.
	require.NoError(t, f.st.ReopenChangeSet(ctx, cs.ID))
	got, err := f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusDraft, got.Status)
	assert.Nil(t, got.ReviewerAgentID)
	assert.Nil(t, got.ApprovedAt)

	require.NoError(t, f.st.MarkChangeSetReady(ctx, cs.ID))
	got, err = f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusReadyForReview, got.Status)

	// Second round can assign a different reviewer.
	other := f.newAgent(t, "reviewer-2")
	require.NoError(t, f.st.AssignReviewer(ctx, cs.ID, other.ID))
}

func TestCloseChangeSetTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cs := f.newChangeSet(t, "hollon/t1/a1")
	require.NoError(t, f.st.CloseChangeSet(ctx, cs.ID))

	err := f.st.CloseChangeSet(ctx, cs.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	merged := f.newChangeSet(t, "hollon/t2/a1")
	reviewer := f.newAgent(t, "reviewer-1")
	require.NoError(t, f.st.AssignReviewer(ctx, merged.ID, reviewer.ID))
	require.NoError(t, f.st.RecordReviewVerdict(ctx, merged.ID, models.ChangeSetStatusApproved, "ok"))
	require.NoError(t, f.st.MarkChangeSetMerged(ctx, merged.ID))

	err = f.st.CloseChangeSet(ctx, merged.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict, "merged change sets stay merged")
}

func TestCountOpenReviewsForAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reviewer := f.newAgent(t, "reviewer-1")
	n, err := f.st.CountOpenReviewsForAgent(ctx, reviewer.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	cs1 := f.newChangeSet(t, "hollon/t1/a1")
	cs2 := f.newChangeSet(t, "hollon/t2/a1")
	require.NoError(t, f.st.AssignReviewer(ctx, cs1.ID, reviewer.ID))
	require.NoError(t, f.st.AssignReviewer(ctx, cs2.ID, reviewer.ID))

	n, err = f.st.CountOpenReviewsForAgent(ctx, reviewer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A delivered verdict drops the change set off the open-review count.
	require.NoError(t, f.st.RecordReviewVerdict(ctx, cs1.ID, models.ChangeSetStatusApproved, "ok"))
	n, err = f.st.CountOpenReviewsForAgent(ctx, reviewer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListChangeSetsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newChangeSet(t, "hollon/t1/a1")
	time.Sleep(2 * time.Millisecond) // created_at has microsecond resolution
	second := f.newChangeSet(t, "hollon/t2/a1")

	sets, err := f.st.ListChangeSetsByStatus(ctx, models.ChangeSetStatusReadyForReview)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, first.ID, sets[0].ID, "oldest first")
	assert.Equal(t, second.ID, sets[1].ID)
}
