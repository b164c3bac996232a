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

func (f *fixture) record(t *testing.T, startedAt time.Time, cost int64, outcome models.ExecutionOutcome) *models.ExecutionRecord {
	t.Helper()
	tk := f.newTask(t, nil)
	r := &models.ExecutionRecord{
		TaskID:         tk.ID,
		AgentID:        f.agent.ID,
		OrganizationID: f.org.ID,
		StartedAt:      startedAt,
		EndedAt:        startedAt.Add(30 * time.Second),
		Outcome:        outcome,
		InputTokens:    2000,
		OutputTokens:   1000,
		CostSubCents:   cost,
	}
	require.NoError(t, f.st.RecordExecution(context.Background(), r))
	return r
}

func TestRecordExecutionRollsUpCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	f.record(t, day1, 120, models.OutcomePublished)
	f.record(t, day1, 80, models.OutcomeFailedValidation)
	f.record(t, day2, 50, models.OutcomePublished)

	spend, err := f.st.DaySpend(ctx, f.org.ID, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(200), spend)

	spend, err = f.st.DaySpend(ctx, f.org.ID, "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(50), spend)

	spend, err = f.st.MonthSpend(ctx, f.org.ID, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, int64(250), spend)

	// Days with no window read as zero, not an error.
	spend, err = f.st.DaySpend(ctx, f.org.ID, "2026-03-12")
	require.NoError(t, err)
	assert.Zero(t, spend)
}

func TestRecordExecutionSkipsZeroCostWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	r := f.record(t, started, 0, models.OutcomeWallClock)

	spend, err := f.st.DaySpend(ctx, f.org.ID, "2026-04-01")
	require.NoError(t, err)
	assert.Zero(t, spend, "zero-cost attempts do not create windows")

	// The ledger entry itself still exists.
	recs, err := f.st.ListTaskExecutions(ctx, r.TaskID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OutcomeWallClock, recs[0].Outcome)
}

func TestLedgerSpendMatchesRollUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	f.record(t, started, 70, models.OutcomePublished)
	f.record(t, started.Add(time.Hour), 30, models.OutcomePublished)

	fromLedger, err := f.st.LedgerSpendSince(ctx, f.org.ID, "2026-05-02", "2026-05-03")
	require.NoError(t, err)
	fromWindow, err := f.st.DaySpend(ctx, f.org.ID, "2026-05-02")
	require.NoError(t, err)
	assert.Equal(t, fromWindow, fromLedger)
	assert.Equal(t, int64(100), fromLedger)
}

func TestEscalationResolveOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.newTask(t, nil)
	e := &models.EscalationRecord{
		TaskID:           &tk.ID,
		OrganizationID:   f.org.ID,
		Level:            models.EscalationManager,
		Reason:           "three consecutive validation failures",
		RequestedAgentID: &f.agent.ID,
	}
	require.NoError(t, f.st.CreateEscalation(ctx, e))

	manager := f.newAgent(t, "manager-1")
	decision := "retry with a narrower task scope"
	require.NoError(t, f.st.ResolveEscalation(ctx, e.ID, decision, &manager.ID, nil))

	got, err := f.st.GetEscalation(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Decision)
	assert.Equal(t, decision, *got.Decision)
	require.NotNil(t, got.ResolverAgentID)
	assert.Equal(t, manager.ID, *got.ResolverAgentID)
	require.NotNil(t, got.DecidedAt)

	err = f.st.ResolveEscalation(ctx, e.ID, "second opinion", &manager.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	err = f.st.ResolveEscalation(ctx, "00000000-0000-0000-0000-000000000000", "x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEscalationWithoutTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Budget trips escalate at the organization level, no task attached.
	e := &models.EscalationRecord{
		OrganizationID: f.org.ID,
		Level:          models.EscalationHuman,
		Reason:         "daily cost cap reached",
	}
	require.NoError(t, f.st.CreateEscalation(ctx, e))

	got, err := f.st.GetEscalation(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TaskID)
}

func TestLatestEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.newTask(t, nil)
	_, err := f.st.LatestEscalation(ctx, tk.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := &models.EscalationRecord{TaskID: &tk.ID, OrganizationID: f.org.ID,
		Level: models.EscalationSelfRetry, Reason: "first"}
	require.NoError(t, f.st.CreateEscalation(ctx, first))
	time.Sleep(2 * time.Millisecond) // created_at has microsecond resolution
	second := &models.EscalationRecord{TaskID: &tk.ID, OrganizationID: f.org.ID,
		Level: models.EscalationTeammate, Reason: "second"}
	require.NoError(t, f.st.CreateEscalation(ctx, second))

	got, err := f.st.LatestEscalation(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, models.EscalationTeammate, got.Level)
}

func TestListPendingEscalations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.newTask(t, nil)
	pending := &models.EscalationRecord{TaskID: &tk.ID, OrganizationID: f.org.ID,
		Level: models.EscalationHuman, Reason: "needs a human decision"}
	require.NoError(t, f.st.CreateEscalation(ctx, pending))
	decided := &models.EscalationRecord{TaskID: &tk.ID, OrganizationID: f.org.ID,
		Level: models.EscalationHuman, Reason: "already handled"}
	require.NoError(t, f.st.CreateEscalation(ctx, decided))
	human := "operator"
	require.NoError(t, f.st.ResolveEscalation(ctx, decided.ID, "proceed", nil, &human))

	recs, err := f.st.ListPendingEscalations(ctx, models.EscalationHuman)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pending.ID, recs[0].ID)

	recs, err = f.st.ListPendingEscalations(ctx, models.EscalationManager)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
