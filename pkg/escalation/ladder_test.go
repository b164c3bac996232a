package escalation_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/events"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	testdb "github.com/pbc1017/hollon-ai-sub009/test/database"
)

func TestLevelForStreak(t *testing.T) {
	tests := []struct {
		streak int
		want   models.EscalationLevel
	}{
		{1, models.EscalationSelfRetry},
		{2, models.EscalationSelfRetry},
		{3, models.EscalationSelfRetry},
		{4, models.EscalationTeammate},
		{5, models.EscalationManager},
		{6, models.EscalationHuman},
		{9, models.EscalationHuman},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escalation.LevelForStreak(tt.streak), "streak %d", tt.streak)
	}
}

// ladderFixture is the org tree plus a wired Ladder.
type ladderFixture struct {
	st      *store.Store
	ladder  *escalation.Ladder
	org     *models.Organization
	role    *models.Role
	team    *models.Team
	agent   *models.Agent
	project *models.Project
}

func newLadderFixture(t *testing.T, cfg *config.EscalationConfig) *ladderFixture {
	t.Helper()
	ctx := context.Background()
	st := testdb.NewTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &ladderFixture{
		st:     st,
		ladder: escalation.New(st, cfg, events.NewPublisher(st.Pool(), logger), ident.SystemClock{}, logger),
	}
	f.org = &models.Organization{Name: "acme", MaxConcurrent: 5, AutonomousEnabled: true}
	require.NoError(t, st.CreateOrganization(ctx, f.org))
	f.role = &models.Role{OrganizationID: f.org.ID, Name: "developer", Capabilities: []string{"go"}}
	require.NoError(t, st.CreateRole(ctx, f.role))
	f.team = &models.Team{OrganizationID: f.org.ID, Name: "backend"}
	require.NoError(t, st.CreateTeam(ctx, f.team))
	f.agent = &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         f.role.ID,
		Name:           "dev-1",
		BrainProvider:  "local",
		Lifecycle:      models.LifecyclePermanent,
	}
	require.NoError(t, st.CreateAgent(ctx, f.agent))
	f.project = &models.Project{
		OrganizationID: f.org.ID,
		Name:           "repo",
		HostURL:        "memory://repo",
		WorkingDir:     "/tmp/repo",
	}
	require.NoError(t, st.CreateProject(ctx, f.project))
	return f
}

// claimedTask creates a team-pool task and claims it with the fixture agent.
func (f *ladderFixture) claimedTask(t *testing.T) *models.Task {
	t.Helper()
	ctx := context.Background()
	tk := &models.Task{
		ProjectID:      f.project.ID,
		Type:           models.TaskTypeImplementation,
		Title:          "implement the thing",
		Status:         models.TaskStatusReady,
		AssignedTeamID: &f.team.ID,
	}
	require.NoError(t, f.st.CreateTask(ctx, tk))
	claimed, err := f.st.ClaimReadyTask(ctx, f.agent, f.role.Capabilities)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, tk.ID, claimed.ID)
	return claimed
}

func TestHandleFailureClimbsWithStreak(t *testing.T) {
	f := newLadderFixture(t, config.DefaultEscalation())
	ctx := context.Background()

	// A first failure self-retries behind a backoff.
	task := f.claimedTask(t)
	level, err := f.ladder.HandleFailure(ctx, f.org.ID, task, "brain timeout")
	require.NoError(t, err)
	assert.Equal(t, models.EscalationSelfRetry, level)
	got, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, got.Status)
	assert.NotNil(t, got.BlockedUntil)

	// An exhausted self-retry streak hands the task to a teammate: back in
	// the team pool with no direct assignee.
	require.NoError(t, f.st.SetAgentStatus(ctx, f.agent.ID,
		models.AgentStatusWorking, models.AgentStatusIdle, nil))
	// Clear the backoff so the task is claimable again.
	require.NoError(t, f.st.BlockTask(ctx, task.ID, "clearing backoff"))
	require.NoError(t, f.st.ResetTaskForRetry(ctx, task.ID))
	streaked := f.claimedTask2(t, task.ID)
	streaked.ConsecutiveFailures = models.MaxTaskRetries

	level, err = f.ladder.HandleFailure(ctx, f.org.ID, streaked, "still broken")
	require.NoError(t, err)
	assert.Equal(t, models.EscalationTeammate, level)
	got, err = f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, got.Status)
	assert.Nil(t, got.AssignedAgentID)
	require.NotNil(t, got.AssignedTeamID)
	assert.Equal(t, f.team.ID, *got.AssignedTeamID)

	rec, err := f.st.LatestEscalation(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationTeammate, rec.Level)
}

// claimedTask2 re-claims an existing pool task by id.
func (f *ladderFixture) claimedTask2(t *testing.T, taskID string) *models.Task {
	t.Helper()
	ctx := context.Background()
	claimed, err := f.st.ClaimReadyTask(ctx, f.agent, f.role.Capabilities)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, taskID, claimed.ID)
	return claimed
}

func TestResolveRetryReleasesTask(t *testing.T) {
	f := newLadderFixture(t, config.DefaultEscalation())
	ctx := context.Background()

	task := f.claimedTask(t)
	task.ConsecutiveFailures = models.MaxTaskRetries + 2
	level, err := f.ladder.HandleFailure(ctx, f.org.ID, task, "repeatedly broken")
	require.NoError(t, err)
	require.Equal(t, models.EscalationHuman, level)

	rec, err := f.st.LatestEscalation(ctx, task.ID)
	require.NoError(t, err)
	human := "ops@acme"
	require.NoError(t, f.ladder.Resolve(ctx, rec.ID, escalation.DecisionRetry, &human))

	got, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Zero(t, got.ConsecutiveFailures)

	decided, err := f.st.GetEscalation(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, decided.Decision)
	assert.Equal(t, escalation.DecisionRetry, *decided.Decision)
	require.NotNil(t, decided.ResolverHuman)
	assert.Equal(t, human, *decided.ResolverHuman)

	// A second resolver loses.
	err = f.ladder.Resolve(ctx, rec.ID, escalation.DecisionTerminate, &human)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestResolveTerminateFailsTaskAndBlocksParent(t *testing.T) {
	f := newLadderFixture(t, config.DefaultEscalation())
	ctx := context.Background()

	parent := &models.Task{
		ProjectID: f.project.ID,
		Type:      models.TaskTypeImplementation,
		Title:     "parent work",
		Status:    models.TaskStatusInProgress,
	}
	require.NoError(t, f.st.CreateTask(ctx, parent))
	child := f.claimedTaskWithParent(t, parent.ID)

	child.ConsecutiveFailures = models.MaxTaskRetries + 2
	_, err := f.ladder.HandleFailure(ctx, f.org.ID, child, "hopeless")
	require.NoError(t, err)

	rec, err := f.st.LatestEscalation(ctx, child.ID)
	require.NoError(t, err)
	human := "ops@acme"
	require.NoError(t, f.ladder.Resolve(ctx, rec.ID, escalation.DecisionTerminate, &human))

	got, err := f.st.GetTask(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)

	gotParent, err := f.st.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, gotParent.Status, "failed subtask blocks the parent for re-planning")

	final, err := f.st.LatestEscalation(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationTerminal, final.Level)
}

func (f *ladderFixture) claimedTaskWithParent(t *testing.T, parentID string) *models.Task {
	t.Helper()
	ctx := context.Background()
	tk := &models.Task{
		ProjectID:      f.project.ID,
		ParentTaskID:   &parentID,
		Depth:          1,
		Type:           models.TaskTypeImplementation,
		Title:          "child work",
		Status:         models.TaskStatusReady,
		AssignedTeamID: &f.team.ID,
	}
	require.NoError(t, f.st.CreateTask(ctx, tk))
	claimed, err := f.st.ClaimReadyTask(ctx, f.agent, f.role.Capabilities)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, tk.ID, claimed.ID)
	return claimed
}

func TestSweepExpiredHumanEscalations(t *testing.T) {
	cfg := &config.EscalationConfig{
		ManagerCooldown:     time.Minute,
		HumanDecisionWindow: -time.Second, // every pending record is expired
	}
	f := newLadderFixture(t, cfg)
	ctx := context.Background()

	task := f.claimedTask(t)
	task.ConsecutiveFailures = models.MaxTaskRetries + 2
	_, err := f.ladder.HandleFailure(ctx, f.org.ID, task, "no answer")
	require.NoError(t, err)

	terminated, err := f.ladder.SweepExpiredHumanEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, terminated, 1)
	assert.Equal(t, task.ID, terminated[0])

	got, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)

	// A second sweep finds nothing pending.
	terminated, err = f.ladder.SweepExpiredHumanEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, terminated)
}
