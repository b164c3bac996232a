package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	testdb "github.com/pbc1017/hollon-ai-sub009/test/database"
)

// fixture is the minimal org tree most store tests need: one organization
// with a role, a team, an agent on that team, and a project.
type fixture struct {
	st      *store.Store
	org     *models.Organization
	role    *models.Role
	team    *models.Team
	agent   *models.Agent
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	f := &fixture{st: st}
	f.org = &models.Organization{Name: "acme", MaxConcurrent: 5, AutonomousEnabled: true}
	require.NoError(t, st.CreateOrganization(ctx, f.org))

	f.role = &models.Role{
		OrganizationID: f.org.ID,
		Name:           "developer",
		SystemPrompt:   "You write Go.",
		Capabilities:   []string{"go", "sql"},
	}
	require.NoError(t, st.CreateRole(ctx, f.role))

	f.team = &models.Team{OrganizationID: f.org.ID, Name: "backend"}
	require.NoError(t, st.CreateTeam(ctx, f.team))

	f.agent = f.newAgent(t, "dev-1")

	f.project = &models.Project{
		OrganizationID: f.org.ID,
		Name:           "repo",
		HostURL:        "memory://repo",
		WorkingDir:     "/tmp/repo",
	}
	require.NoError(t, st.CreateProject(ctx, f.project))
	return f
}

func (f *fixture) newAgent(t *testing.T, name string) *models.Agent {
	t.Helper()
	a := &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         f.role.ID,
		Name:           name,
		BrainProvider:  "local",
		Lifecycle:      models.LifecyclePermanent,
	}
	require.NoError(t, f.st.CreateAgent(context.Background(), a))
	return a
}

// newTask creates a READY task in the team pool unless mutated otherwise.
func (f *fixture) newTask(t *testing.T, mutate func(*models.Task)) *models.Task {
	t.Helper()
	tk := &models.Task{
		ProjectID:      f.project.ID,
		Type:           models.TaskTypeImplementation,
		Title:          "implement the thing",
		Status:         models.TaskStatusReady,
		AssignedTeamID: &f.team.ID,
	}
	if mutate != nil {
		mutate(tk)
	}
	require.NoError(t, f.st.CreateTask(context.Background(), tk))
	return tk
}
