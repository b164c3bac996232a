package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

func TestCreateTransientAgentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := func() *models.Agent {
		return &models.Agent{
			OrganizationID: f.org.ID,
			TeamID:         &f.team.ID,
			RoleID:         f.role.ID,
			Name:           "helper",
			BrainProvider:  "local",
			Lifecycle:      models.LifecycleTransient,
			CreatorAgentID: &f.agent.ID,
			Depth:          1,
		}
	}

	ok := base()
	require.NoError(t, f.st.CreateAgent(ctx, ok))
	assert.Equal(t, models.AgentStatusIdle, ok.Status)
	assert.Equal(t, 1, ok.MaxConcurrentTasks)

	noCreator := base()
	noCreator.CreatorAgentID = nil
	err := f.st.CreateAgent(ctx, noCreator)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvariantViolation)

	tooDeep := base()
	tooDeep.Depth = models.MaxTransientDepth + 1
	err = f.st.CreateAgent(ctx, tooDeep)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvariantViolation)

	zeroDepth := base()
	zeroDepth.Depth = 0
	err = f.st.CreateAgent(ctx, zeroDepth)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvariantViolation)
}

func TestSetAgentStatusCAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.st.SetAgentStatus(ctx, f.agent.ID,
		models.AgentStatusIdle, models.AgentStatusWorking, nil))

	err := f.st.SetAgentStatus(ctx, f.agent.ID,
		models.AgentStatusIdle, models.AgentStatusWorking, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	err = f.st.SetAgentStatus(ctx, "00000000-0000-0000-0000-000000000000",
		models.AgentStatusIdle, models.AgentStatusWorking, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountActiveAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.st.CountActiveAgents(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	working := f.newAgent(t, "dev-2")
	require.NoError(t, f.st.SetAgentStatus(ctx, working.ID,
		models.AgentStatusIdle, models.AgentStatusWorking, nil))
	blocked := f.newAgent(t, "dev-3")
	require.NoError(t, f.st.SetAgentStatus(ctx, blocked.ID,
		models.AgentStatusIdle, models.AgentStatusBlocked, nil))

	// Idle f.agent does not count; working and blocked do.
	n, err = f.st.CountActiveAgents(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordAgentOutcomeRunningMean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.st.RecordAgentOutcome(ctx, f.agent.ID, true, 1000))
	require.NoError(t, f.st.RecordAgentOutcome(ctx, f.agent.ID, false, 3000))

	got, err := f.st.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TasksCompleted)
	assert.Equal(t, 1, got.TasksFailed)
	assert.Equal(t, int64(2000), got.AvgDurationMS)
	assert.InDelta(t, 0.5, got.SuccessRate, 1e-9)
}

func TestDestroyTransientSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	origin := f.newTask(t, nil)
	parent := &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         f.role.ID,
		Name:           "helper",
		BrainProvider:  "local",
		Lifecycle:      models.LifecycleTransient,
		CreatorAgentID: &f.agent.ID,
		Depth:          1,
		OriginTaskID:   &origin.ID,
	}
	require.NoError(t, f.st.CreateAgent(ctx, parent))
	child := &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         f.role.ID,
		Name:           "sub-helper",
		BrainProvider:  "local",
		Lifecycle:      models.LifecycleTransient,
		CreatorAgentID: &parent.ID,
		Depth:          2,
	}
	require.NoError(t, f.st.CreateAgent(ctx, child))

	n, err := f.st.DestroyTransientSubtree(ctx, origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.st.GetAgent(ctx, child.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The permanent creator survives.
	_, err = f.st.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
}

func TestSweepStaleTransientAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done := f.newTask(t, nil)
	_, err := f.st.ClaimReadyTask(ctx, f.agent, f.role.Capabilities)
	require.NoError(t, err)
	_, err = f.st.CompleteTask(ctx, done.ID, models.TaskStatusInProgress)
	require.NoError(t, err)

	stale := &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         f.role.ID,
		Name:           "stale-helper",
		BrainProvider:  "local",
		Lifecycle:      models.LifecycleTransient,
		CreatorAgentID: &f.agent.ID,
		Depth:          1,
		OriginTaskID:   &done.ID,
	}
	require.NoError(t, f.st.CreateAgent(ctx, stale))

	n, err := f.st.SweepStaleTransientAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.st.GetAgent(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetAutonomousExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.st.SetAutonomousExecution(ctx, f.org.ID, false, "runaway spend"))
	got, err := f.st.GetOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.False(t, got.AutonomousEnabled)
	require.NotNil(t, got.LastStopReason)
	assert.Equal(t, "runaway spend", *got.LastStopReason)
	require.NotNil(t, got.StoppedAt)

	// Stopping twice is fine; so is resuming.
	require.NoError(t, f.st.SetAutonomousExecution(ctx, f.org.ID, false, "still stopped"))
	require.NoError(t, f.st.SetAutonomousExecution(ctx, f.org.ID, true, ""))
	got, err = f.st.GetOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.True(t, got.AutonomousEnabled)

	err = f.st.SetAutonomousExecution(ctx, "00000000-0000-0000-0000-000000000000", true, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
