package execution

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// taskLookup fetches a task by id; satisfied by (*store.Store).GetTask.
type taskLookup func(ctx context.Context, id string) (*models.Task, error)

// sandboxAnchor returns the task whose worktree a cycle works in. A task an
// agent split off its own in-flight work shares the splitting task's working
// copy, so the chain of parents is walked until it crosses into a team epic
// (siblings under an epic stay isolated) or runs out. The walk is bounded by
// the task-depth cap.
func sandboxAnchor(ctx context.Context, lookup taskLookup, task *models.Task) (*models.Task, error) {
	anchor := task
	for i := 0; i <= models.MaxTaskDepth; i++ {
		if anchor.ParentTaskID == nil {
			return anchor, nil
		}
		parent, err := lookup(ctx, *anchor.ParentTaskID)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox anchor for task %s: %w", task.ID, err)
		}
		if parent.Type == models.TaskTypeTeamEpic {
			return anchor, nil
		}
		anchor = parent
	}
	return nil, fmt.Errorf("task %s: parent chain exceeds depth %d", task.ID, models.MaxTaskDepth)
}

// anchorAgentID picks the agent id that keys the shared worktree path: the
// anchor's own assignee when the cycle runs a subtask, so parent and subtask
// land in the same directory.
func anchorAgentID(anchor, task *models.Task, agent *models.Agent) string {
	if anchor.ID != task.ID && anchor.AssignedAgentID != nil {
		return *anchor.AssignedAgentID
	}
	return agent.ID
}
