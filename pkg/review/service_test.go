package review_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/events"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/review"
	"github.com/pbc1017/hollon-ai-sub009/pkg/sandbox"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	testdb "github.com/pbc1017/hollon-ai-sub009/test/database"
)

type reviewFixture struct {
	st      *store.Store
	host    *sandbox.MemoryHost
	service *review.Service
	org     *models.Organization
	team    *models.Team
	author  *models.Agent
	project *models.Project
}

// newReviewFixture wires the service with no brain providers: the paths under
// test settle on host CI state alone and never invoke a reviewer.
func newReviewFixture(t *testing.T) *reviewFixture {
	t.Helper()
	ctx := context.Background()
	st := testdb.NewTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	host := sandbox.NewMemoryHost()
	publisher := events.NewPublisher(st.Pool(), logger)
	ladder := escalation.New(st, config.DefaultEscalation(), publisher, ident.SystemClock{}, logger)
	gateway := brain.NewGateway(config.NewBrainProviderRegistry(nil), logger)

	f := &reviewFixture{
		st:      st,
		host:    host,
		service: review.NewService(st, gateway, host, ladder, publisher, logger),
	}
	f.org = &models.Organization{Name: "acme", MaxConcurrent: 5, AutonomousEnabled: true}
	require.NoError(t, st.CreateOrganization(ctx, f.org))
	role := &models.Role{OrganizationID: f.org.ID, Name: "developer", Capabilities: []string{"go"}}
	require.NoError(t, st.CreateRole(ctx, role))
	f.team = &models.Team{OrganizationID: f.org.ID, Name: "backend"}
	require.NoError(t, st.CreateTeam(ctx, f.team))
	f.author = &models.Agent{
		OrganizationID: f.org.ID,
		TeamID:         &f.team.ID,
		RoleID:         role.ID,
		Name:           "dev-1",
		BrainProvider:  "local",
		Lifecycle:      models.LifecyclePermanent,
	}
	require.NoError(t, st.CreateAgent(ctx, f.author))
	f.project = &models.Project{
		OrganizationID: f.org.ID,
		Name:           "repo",
		HostURL:        "memory://repo",
		WorkingDir:     "/tmp/repo",
	}
	require.NoError(t, st.CreateProject(ctx, f.project))
	return f
}

// publishedChangeSet creates an in-review task with a change set that has an
// open review on the host.
func (f *reviewFixture) publishedChangeSet(t *testing.T, status models.ChangeSetStatus) (*models.Task, *models.ChangeSet) {
	t.Helper()
	ctx := context.Background()
	task := &models.Task{
		ProjectID:       f.project.ID,
		Type:            models.TaskTypeImplementation,
		Title:           "implement the thing",
		Status:          models.TaskStatusInProgress,
		AssignedAgentID: &f.author.ID,
	}
	require.NoError(t, f.st.CreateTask(ctx, task))

	branch := "hollon/" + task.ID[:8]
	r, err := f.host.OpenReview(ctx, f.project.ID, branch, task.Title, "")
	require.NoError(t, err)

	cs := &models.ChangeSet{
		TaskID:        task.ID,
		ProjectID:     f.project.ID,
		BranchName:    branch,
		ReviewNumber:  &r.Number,
		ReviewURL:     &r.URL,
		AuthorAgentID: f.author.ID,
		Status:        status,
	}
	require.NoError(t, f.st.CreateChangeSet(ctx, cs))
	require.NoError(t, f.st.AttachChangeSet(ctx, task.ID, cs.ID))
	if status == models.ChangeSetStatusApproved {
		require.NoError(t, f.st.SetTaskStatus(ctx, task.ID,
			models.TaskStatusInReview, models.TaskStatusApproved))
	}
	return task, cs
}

func TestRedCISkipsReviewerAndReturnsForRework(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()

	task, cs := f.publishedChangeSet(t, models.ChangeSetStatusReadyForReview)
	f.host.SetCI(*cs.ReviewNumber, sandbox.CIFailed, "FAIL: TestClaim")

	f.service.ProcessReadyForReview(ctx)

	// No reviewer was consumed; the change set reopened and the task went
	// back to the author with the CI output attached.
	got, err := f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusDraft, got.Status)
	assert.Nil(t, got.ReviewerAgentID)

	gotTask, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, gotTask.Status)
	assert.Equal(t, 1, gotTask.CIRetryCount)
	require.NotNil(t, gotTask.LastCIFeedback)
	assert.Equal(t, "FAIL: TestClaim", *gotTask.LastCIFeedback)
}

func TestProcessApprovedMergesGreen(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()

	task, cs := f.publishedChangeSet(t, models.ChangeSetStatusApproved)
	f.host.SetCI(*cs.ReviewNumber, sandbox.CIPassed, "")

	f.service.ProcessApproved(ctx)

	assert.True(t, f.host.Merged(*cs.ReviewNumber))
	got, err := f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusMerged, got.Status)

	gotTask, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, gotTask.Status)
}

func TestProcessApprovedLeavesPendingCI(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()

	task, cs := f.publishedChangeSet(t, models.ChangeSetStatusApproved)

	f.service.ProcessApproved(ctx)

	got, err := f.st.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeSetStatusApproved, got.Status, "pending CI settles nothing")
	gotTask, err := f.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusApproved, gotTask.Status)
}
