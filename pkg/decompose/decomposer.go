// Package decompose turns goals into team epics (phase A) and team epics
// into leaf subtasks (phase B).
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// maxPlanAttempts bounds in-call brain retries on an unparsable plan.
const maxPlanAttempts = 3

// maxGoalDecomposeRetries bounds cross-tick phase-A retries before the goal
// is abandoned.
const maxGoalDecomposeRetries = 3

// Decomposer runs both decomposition phases.
type Decomposer struct {
	store   *store.Store
	gateway *brain.Gateway
	logger  *slog.Logger
}

// New creates a Decomposer.
func New(st *store.Store, gateway *brain.Gateway, logger *slog.Logger) *Decomposer {
	return &Decomposer{store: st, gateway: gateway, logger: logger.With("component", "decompose")}
}

// DecomposeGoal runs phase A: the goal owner's brain plans team epics, which
// are created and routed to their teams, then the goal's decomposed flag is
// CAS-flipped. A plan that stays unparsable bumps the goal's retry counter;
// the goal is abandoned after maxGoalDecomposeRetries.
func (d *Decomposer) DecomposeGoal(ctx context.Context, goal *models.Goal) error {
	owner, err := d.store.GetAgent(ctx, goal.OwnerAgentID)
	if err != nil {
		return err
	}
	teams, err := d.store.ListTeams(ctx, goal.OrganizationID)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		return fmt.Errorf("organization %s has no teams: %w", goal.OrganizationID, ErrBadPlan)
	}

	epics, err := d.planEpics(ctx, owner, goal, teams)
	if err != nil {
		n, bumpErr := d.store.BumpGoalDecomposeRetry(ctx, goal.ID, err.Error())
		if bumpErr != nil {
			return bumpErr
		}
		if n >= maxGoalDecomposeRetries {
			msg := fmt.Sprintf("decomposition failed %d times: %s", n, err)
			d.logger.Error("goal abandoned", "goal_id", goal.ID, "error", err)
			return d.store.SetGoalStatus(ctx, goal.ID, models.GoalStatusAbandoned, &msg)
		}
		return err
	}

	// Resolve team names before creating anything; a plan naming an unknown
	// team is rejected whole.
	teamByName := make(map[string]*models.Team, len(teams))
	for _, t := range teams {
		teamByName[strings.ToLower(t.Name)] = t
	}
	resolved := make([]*models.Team, len(epics))
	for i, e := range epics {
		t, ok := teamByName[strings.ToLower(e.Team)]
		if !ok {
			n, bumpErr := d.store.BumpGoalDecomposeRetry(ctx, goal.ID,
				fmt.Sprintf("plan names unknown team %q", e.Team))
			if bumpErr != nil {
				return bumpErr
			}
			if n >= maxGoalDecomposeRetries {
				msg := fmt.Sprintf("plan kept naming unknown teams (%d attempts)", n)
				return d.store.SetGoalStatus(ctx, goal.ID, models.GoalStatusAbandoned, &msg)
			}
			return fmt.Errorf("unknown team %q: %w", e.Team, ErrBadPlan)
		}
		resolved[i] = t
	}

	created := make(map[string]string, len(epics)) // title → task id
	for i, e := range epics {
		status := models.TaskStatusReady
		if len(e.DependsOn) > 0 {
			status = models.TaskStatusPending
		}
		task := &models.Task{
			ProjectID:      goal.ProjectID,
			GoalID:         &goal.ID,
			Depth:          0,
			AssignedTeamID: &resolved[i].ID,
			Type:           models.TaskTypeTeamEpic,
			Title:          e.Title,
			Description:    e.Description,
			Priority:       normalizePriority(e.Priority),
			Status:         status,
		}
		if err := d.store.CreateTask(ctx, task); err != nil {
			return err
		}
		created[e.Title] = task.ID
	}
	for _, e := range epics {
		for _, dep := range e.DependsOn {
			if err := d.store.AddDependency(ctx, created[e.Title], created[dep]); err != nil {
				return err
			}
		}
	}

	if err := d.store.MarkGoalDecomposed(ctx, goal.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race to another control plane; its epics win.
			d.logger.Warn("goal decomposed concurrently", "goal_id", goal.ID)
			return nil
		}
		return err
	}
	d.logger.Info("goal decomposed", "goal_id", goal.ID, "epics", len(epics))
	return nil
}

func (d *Decomposer) planEpics(ctx context.Context, owner *models.Agent, goal *models.Goal, teams []*models.Team) ([]EpicPlan, error) {
	prompt := epicPrompt(goal, teams)
	var lastErr error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		res, err := d.gateway.Invoke(ctx, brain.Request{Provider: owner.BrainProvider, Prompt: prompt})
		if err != nil {
			return nil, err
		}
		epics, err := ParseEpicPlan(res.Output)
		if err == nil {
			return epics, nil
		}
		lastErr = err
		d.logger.Warn("epic plan rejected", "goal_id", goal.ID, "attempt", attempt, "error", err)
		prompt = fmt.Sprintf("%s\n\nYour previous reply was rejected: %s\nReply with corrected JSON only.", epicPrompt(goal, teams), err)
	}
	return nil, lastErr
}

// DecomposeEpic runs phase B: the team's planning agent breaks the epic into
// leaf subtasks one level deeper, then the epic moves READY→IN_PROGRESS. A
// persistently bad plan blocks the epic for manager attention.
func (d *Decomposer) DecomposeEpic(ctx context.Context, epic *models.Task, orgID string) error {
	if epic.Depth+1 > models.MaxTaskDepth {
		return fmt.Errorf("epic %s at depth %d cannot go deeper: %w", epic.ID, epic.Depth, store.ErrInvariantViolation)
	}
	if epic.AssignedTeamID == nil {
		return fmt.Errorf("epic %s has no team: %w", epic.ID, store.ErrInvariantViolation)
	}
	team, err := d.store.GetTeam(ctx, *epic.AssignedTeamID)
	if err != nil {
		return err
	}
	members, err := d.store.ListTeamAgents(ctx, team.ID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("team %s has no agents: %w", team.Name, ErrBadPlan)
	}
	// Phase B is the manager's call. An epic routed to a managerless team
	// stays READY until one is appointed.
	if team.ManagerAgentID == nil {
		d.logger.Warn("team has no manager, epic waits",
			"epic_id", epic.ID, "team", team.Name)
		return nil
	}
	planner, err := d.store.GetAgent(ctx, *team.ManagerAgentID)
	if err != nil {
		return err
	}

	memberByName := make(map[string]*models.Agent, len(members))
	for _, m := range members {
		memberByName[strings.ToLower(m.Name)] = m
	}

	subtasks, err := d.planSubtasks(ctx, planner, epic, team, members, memberByName)
	if err != nil {
		d.logger.Error("epic plan failed, blocking for manager",
			"epic_id", epic.ID, "error", err)
		if blockErr := d.store.BlockTask(ctx, epic.ID,
			fmt.Sprintf("decomposition failed: %s", err)); blockErr != nil {
			return blockErr
		}
		return d.store.CreateEscalation(ctx, &models.EscalationRecord{
			TaskID:           &epic.ID,
			OrganizationID:   orgID,
			Level:            models.EscalationManager,
			Reason:           fmt.Sprintf("epic decomposition failed: %s", err),
			RequestedAgentID: team.ManagerAgentID,
		})
	}

	created := make(map[string]string, len(subtasks))
	for _, st := range subtasks {
		task := &models.Task{
			ProjectID:            epic.ProjectID,
			GoalID:               epic.GoalID,
			ParentTaskID:         &epic.ID,
			Depth:                epic.Depth + 1,
			Type:                 models.TaskType(st.Type),
			Title:                st.Title,
			Description:          st.Description,
			AcceptanceCriteria:   st.AcceptanceCriteria,
			Priority:             normalizePriority(st.Priority),
			Complexity:           models.Complexity(st.Complexity),
			RequiredCapabilities: st.RequiredCapabilities,
			AffectedFiles:        st.AffectedFiles,
		}
		// A named member gets the task directly; an empty assignee goes to
		// the team pool. Unknown names were rejected during planning.
		if st.Assignee != "" {
			m := memberByName[strings.ToLower(st.Assignee)]
			task.AssignedAgentID = &m.ID
		} else {
			task.AssignedTeamID = &team.ID
		}
		if len(st.DependsOn) > 0 {
			task.Status = models.TaskStatusPending
		} else {
			task.Status = models.TaskStatusReady
		}
		if err := d.store.CreateTask(ctx, task); err != nil {
			return err
		}
		created[st.Title] = task.ID
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if err := d.store.AddDependency(ctx, created[st.Title], created[dep]); err != nil {
				return err
			}
		}
	}

	if err := d.store.SetTaskStatus(ctx, epic.ID, models.TaskStatusReady, models.TaskStatusInProgress); err != nil {
		if errors.Is(err, store.ErrConflict) {
			d.logger.Warn("epic decomposed concurrently", "epic_id", epic.ID)
			return nil
		}
		return err
	}
	d.logger.Info("epic decomposed", "epic_id", epic.ID, "subtasks", len(subtasks))
	return nil
}

func (d *Decomposer) planSubtasks(ctx context.Context, planner *models.Agent, epic *models.Task, team *models.Team, members []*models.Agent, memberByName map[string]*models.Agent) ([]SubtaskPlan, error) {
	roster, err := d.roster(ctx, members)
	if err != nil {
		return nil, err
	}
	prompt := subtaskPrompt(epic, team, roster)
	var lastErr error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		res, err := d.gateway.Invoke(ctx, brain.Request{Provider: planner.BrainProvider, Prompt: prompt})
		if err != nil {
			return nil, err
		}
		subtasks, err := ParseSubtaskPlan(res.Output)
		if err == nil {
			err = validateAssignees(subtasks, memberByName)
		}
		if err == nil {
			return subtasks, nil
		}
		lastErr = err
		d.logger.Warn("subtask plan rejected", "epic_id", epic.ID, "attempt", attempt, "error", err)
		prompt = fmt.Sprintf("%s\n\nYour previous reply was rejected: %s\nReply with corrected JSON only.", subtaskPrompt(epic, team, roster), err)
	}
	return nil, lastErr
}

// validateAssignees rejects a plan naming anyone outside the roster. Empty
// assignees are fine and route to the team pool.
func validateAssignees(subtasks []SubtaskPlan, memberByName map[string]*models.Agent) error {
	for _, st := range subtasks {
		if st.Assignee == "" {
			continue
		}
		if _, ok := memberByName[strings.ToLower(st.Assignee)]; !ok {
			return fmt.Errorf("subtask %q names unknown assignee %q: %w",
				st.Title, st.Assignee, ErrBadPlan)
		}
	}
	return nil
}

func (d *Decomposer) roster(ctx context.Context, members []*models.Agent) (string, error) {
	var b strings.Builder
	for _, m := range members {
		role, err := d.store.GetRole(ctx, m.RoleID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- %s (%s; capabilities: %s)\n",
			m.Name, role.Name, strings.Join(role.Capabilities, ", "))
	}
	return b.String(), nil
}

func epicPrompt(goal *models.Goal, teams []*models.Team) string {
	var b strings.Builder
	b.WriteString("Break this goal into team-scoped epics.\n\nGoal: ")
	b.WriteString(goal.Title)
	if goal.Description != "" {
		b.WriteString("\n")
		b.WriteString(goal.Description)
	}
	if len(goal.SuccessCriteria) > 0 {
		b.WriteString("\n\nSuccess criteria:\n")
		for _, c := range goal.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nAvailable teams:\n")
	for _, t := range teams {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.DescriptionPrompt)
	}
	fmt.Fprintf(&b, `
Reply with JSON only:
{"epics": [{"team": "<team name>", "title": "...", "description": "...", "priority": 1-4, "depends_on": ["<epic title>"]}]}
At most %d epics. Dependencies must reference epic titles from this plan and must not form cycles.`,
		models.MaxSubtasksPerPlan)
	return b.String()
}

func subtaskPrompt(epic *models.Task, team *models.Team, roster string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break this epic for team %s into leaf subtasks.\n\nEpic: %s\n%s\n",
		team.Name, epic.Title, epic.Description)
	b.WriteString("\nTeam members:\n")
	b.WriteString(roster)
	fmt.Fprintf(&b, `
Reply with JSON only:
{"subtasks": [{"assignee": "<member name or empty>", "type": "implementation|review|test|documentation|spike|other", "title": "...", "description": "...", "priority": 1-4, "complexity": "low|medium|high", "required_capabilities": [], "affected_files": [], "acceptance_criteria": [], "depends_on": ["<subtask title>"]}]}
At most %d subtasks. Dependencies must reference subtask titles from this plan and must not form cycles.`,
		models.MaxSubtasksPerPlan)
	return b.String()
}
