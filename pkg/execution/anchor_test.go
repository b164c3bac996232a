package execution

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

func mapLookup(tasks ...*models.Task) taskLookup {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return func(_ context.Context, id string) (*models.Task, error) {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return t, nil
	}
}

func TestSandboxAnchorSubtaskSharesParentCopy(t *testing.T) {
	ctx := context.Background()
	agentID := "agent-1"
	epic := &models.Task{ID: "epic", Type: models.TaskTypeTeamEpic}
	parent := &models.Task{ID: "parent", Type: models.TaskTypeImplementation,
		ParentTaskID: &epic.ID, AssignedAgentID: &agentID}
	child := &models.Task{ID: "child", Type: models.TaskTypeImplementation,
		ParentTaskID: &parent.ID}
	grandchild := &models.Task{ID: "grandchild", Type: models.TaskTypeTest,
		ParentTaskID: &child.ID}
	lookup := mapLookup(epic, parent, child, grandchild)

	// The child and grandchild both resolve to the splitting leaf, so their
	// worktree path and branch match the parent's.
	anchor, err := sandboxAnchor(ctx, lookup, child)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, anchor.ID)

	anchor, err = sandboxAnchor(ctx, lookup, grandchild)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, anchor.ID)

	// The worktree is keyed by the parent's assignee even when another agent
	// runs the subtask.
	helper := &models.Agent{ID: "agent-2"}
	assert.Equal(t, agentID, anchorAgentID(anchor, child, helper))
}

func TestSandboxAnchorLeafUnderEpicIsItself(t *testing.T) {
	ctx := context.Background()
	epic := &models.Task{ID: "epic", Type: models.TaskTypeTeamEpic}
	leaf := &models.Task{ID: "leaf", Type: models.TaskTypeImplementation, ParentTaskID: &epic.ID}
	lookup := mapLookup(epic, leaf)

	anchor, err := sandboxAnchor(ctx, lookup, leaf)
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, anchor.ID)

	agent := &models.Agent{ID: "agent-1"}
	assert.Equal(t, agent.ID, anchorAgentID(anchor, leaf, agent))
}

func TestSandboxAnchorNoParent(t *testing.T) {
	ctx := context.Background()
	task := &models.Task{ID: "solo", Type: models.TaskTypeImplementation}

	anchor, err := sandboxAnchor(ctx, mapLookup(task), task)
	require.NoError(t, err)
	assert.Equal(t, task.ID, anchor.ID)
}

func TestSandboxAnchorMissingParent(t *testing.T) {
	ctx := context.Background()
	missing := "gone"
	task := &models.Task{ID: "orphan", Type: models.TaskTypeImplementation, ParentTaskID: &missing}

	_, err := sandboxAnchor(ctx, mapLookup(task), task)
	require.Error(t, err)
}
