package control_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/control"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	testdb "github.com/pbc1017/hollon-ai-sub009/test/database"
)

type governorFixture struct {
	st       *store.Store
	governor *control.Governor
	org      *models.Organization
	agent    *models.Agent
	task     *models.Task
}

func newGovernorFixture(t *testing.T, mutateOrg func(*models.Organization)) *governorFixture {
	t.Helper()
	ctx := context.Background()
	st := testdb.NewTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &governorFixture{
		st:       st,
		governor: control.NewGovernor(st, ident.SystemClock{}, logger),
	}
	f.org = &models.Organization{Name: "acme", MaxConcurrent: 2, AutonomousEnabled: true}
	if mutateOrg != nil {
		mutateOrg(f.org)
	}
	require.NoError(t, st.CreateOrganization(ctx, f.org))

	role := &models.Role{OrganizationID: f.org.ID, Name: "developer", Capabilities: []string{"go"}}
	require.NoError(t, st.CreateRole(ctx, role))
	team := &models.Team{OrganizationID: f.org.ID, Name: "backend"}
	require.NoError(t, st.CreateTeam(ctx, team))
	f.agent = &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &team.ID,
		RoleID:         role.ID,
		Name:           "dev-1",
		BrainProvider:  "local",
		Lifecycle:      models.LifecyclePermanent,
	}
	require.NoError(t, st.CreateAgent(ctx, f.agent))
	project := &models.Project{
		OrganizationID: f.org.ID,
		Name:           "repo",
		HostURL:        "memory://repo",
		WorkingDir:     "/tmp/repo",
	}
	require.NoError(t, st.CreateProject(ctx, project))
	f.task = &models.Task{
		ProjectID:      project.ID,
		Type:           models.TaskTypeImplementation,
		Title:          "work",
		Status:         models.TaskStatusReady,
		AssignedTeamID: &team.ID,
	}
	require.NoError(t, st.CreateTask(ctx, f.task))
	return f
}

func (f *governorFixture) spend(t *testing.T, subCents int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.st.RecordExecution(context.Background(), &models.ExecutionRecord{
		TaskID:         f.task.ID,
		AgentID:        f.agent.ID,
		OrganizationID: f.org.ID,
		StartedAt:      now,
		EndedAt:        now,
		Outcome:        models.OutcomePublished,
		CostSubCents:   subCents,
	}))
}

func TestAdmitStoppedOrganization(t *testing.T) {
	f := newGovernorFixture(t, func(o *models.Organization) { o.AutonomousEnabled = false })

	ok, reason, err := f.governor.Admit(context.Background(), f.org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestAdmitConcurrencyCeiling(t *testing.T) {
	f := newGovernorFixture(t, func(o *models.Organization) { o.MaxConcurrent = 1 })
	ctx := context.Background()

	ok, _, err := f.governor.Admit(ctx, f.org)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.st.SetAgentStatus(ctx, f.agent.ID,
		models.AgentStatusIdle, models.AgentStatusWorking, nil))
	ok, reason, err := f.governor.Admit(ctx, f.org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "concurrency ceiling reached", reason)

	// Hitting the ceiling throttles without tripping the stop flag.
	org, err := f.st.GetOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.True(t, org.AutonomousEnabled)
}

func TestAdmitDailyCapTripsEmergencyStop(t *testing.T) {
	f := newGovernorFixture(t, func(o *models.Organization) { o.DailyCapSubCents = 1000 })
	ctx := context.Background()

	f.spend(t, 500)
	ok, _, err := f.governor.Admit(ctx, f.org)
	require.NoError(t, err)
	assert.True(t, ok, "under the cap")

	f.spend(t, 500)
	ok, reason, err := f.governor.Admit(ctx, f.org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "daily cap reached", reason)

	// The trip is durable: the stop flag flips and a human escalation is
	// raised at the organization level.
	org, err := f.st.GetOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.False(t, org.AutonomousEnabled)
	require.NotNil(t, org.LastStopReason)
	assert.Equal(t, "daily cap reached", *org.LastStopReason)

	pending, err := f.st.ListPendingEscalations(ctx, models.EscalationHuman)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].TaskID)
	assert.Equal(t, f.org.ID, pending[0].OrganizationID)
}

func TestAdmitMonthlyCap(t *testing.T) {
	f := newGovernorFixture(t, func(o *models.Organization) { o.MonthlyCapSubCents = 800 })
	ctx := context.Background()

	f.spend(t, 800)
	ok, reason, err := f.governor.Admit(ctx, f.org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "monthly cap reached", reason)
}
