package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const taskColumns = `id, project_id, goal_id, parent_task_id, depth,
	assigned_team_id, assigned_agent_id, type, title, description,
	acceptance_criteria, priority, complexity, required_capabilities, affected_files,
	status, retry_count, consecutive_failures, last_failure_at, blocked_until,
	ci_retry_count, last_ci_failed_at, last_ci_feedback, change_set_id, error_message,
	last_heartbeat_at, version, created_at, updated_at, completed_at`

func scanTask(row pgxRow) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.GoalID, &t.ParentTaskID, &t.Depth,
		&t.AssignedTeamID, &t.AssignedAgentID, &t.Type, &t.Title, &t.Description,
		&t.AcceptanceCriteria, &t.Priority, &t.Complexity, &t.RequiredCapabilities, &t.AffectedFiles,
		&t.Status, &t.RetryCount, &t.ConsecutiveFailures, &t.LastFailureAt, &t.BlockedUntil,
		&t.CIRetryCount, &t.LastCIFailedAt, &t.LastCIFeedback, &t.ChangeSetID, &t.ErrorMessage,
		&t.LastHeartbeatAt, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask persists a new task after validating the structural invariants
// the database cannot fully express.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if t.AssignedTeamID != nil && t.AssignedAgentID != nil {
		return fmt.Errorf("task assigned to both team and agent: %w", ErrInvariantViolation)
	}
	if t.Depth < 0 || t.Depth > models.MaxTaskDepth {
		return fmt.Errorf("task depth %d out of range: %w", t.Depth, ErrInvariantViolation)
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("task type %q: %w", t.Type, ErrInvariantViolation)
	}
	if t.ID == "" {
		t.ID = ident.New()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if t.Priority == 0 {
		t.Priority = models.PriorityP3
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("priority %d: %w", t.Priority, ErrInvariantViolation)
	}
	now := s.clock.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, project_id, goal_id, parent_task_id, depth,
			assigned_team_id, assigned_agent_id, type, title, description,
			acceptance_criteria, priority, complexity, required_capabilities, affected_files,
			status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		t.ID, t.ProjectID, t.GoalID, t.ParentTaskID, t.Depth,
		t.AssignedTeamID, t.AssignedAgentID, t.Type, t.Title, t.Description,
		t.AcceptanceCriteria, t.Priority, t.Complexity, t.RequiredCapabilities, t.AffectedFiles,
		t.Status, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundOr(err, "task "+id)
	}
	return t, nil
}

// AddDependency inserts the edge task→dependsOn, rejecting self-edges and any
// edge that would close a cycle. The cycle check walks the existing graph
// from dependsOn looking for task.
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	if taskID == dependsOnID {
		return fmt.Errorf("task %s depends on itself: %w", taskID, ErrCycle)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var cyclic bool
		err := tx.QueryRow(ctx, `
			WITH RECURSIVE reach AS (
				SELECT depends_on_id FROM task_dependencies WHERE task_id = $2
				UNION
				SELECT d.depends_on_id FROM task_dependencies d
				JOIN reach r ON d.task_id = r.depends_on_id
			)
			SELECT EXISTS (SELECT 1 FROM reach WHERE depends_on_id = $1)`,
			taskID, dependsOnID).Scan(&cyclic)
		if err != nil {
			return fmt.Errorf("cycle check: %w", err)
		}
		if cyclic {
			return fmt.Errorf("edge %s→%s: %w", taskID, dependsOnID, ErrCycle)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, taskID, dependsOnID)
		if err != nil {
			return fmt.Errorf("add dependency: %w", err)
		}
		return nil
	})
}

// Dependencies returns the ids this task depends on.
func (s *Store) Dependencies(ctx context.Context, taskID string) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT depends_on_id FROM task_dependencies WHERE task_id = $1`, taskID)
}

// Dependents returns the ids of tasks depending on this one.
func (s *Store) Dependents(ctx context.Context, taskID string) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT task_id FROM task_dependencies WHERE depends_on_id = $1`, taskID)
}

func (s *Store) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// claimCandidateLimit bounds how many locked rows a single claim attempt
// inspects for the capability check.
const claimCandidateLimit = 20

// ClaimReadyTask atomically claims the best eligible task for the agent and
// moves it to IN_PROGRESS. capabilities is the agent's effective capability
// set (from its role); the required-capability subset check is
// case-insensitive.
//
// Eligibility, evaluated inside one transaction with the candidate rows
// locked via FOR UPDATE SKIP LOCKED:
//   - status READY, or PENDING with no unfinished dependencies (a task created
//     with no dependencies never gets a promotion event, so PENDING must be
//     claimable directly); blocked_until absent or in the past
//   - routed to the agent directly, or to the agent's team with no direct
//     assignee (team epics are never agent-claimable; tasks with neither
//     routing are drafts and invisible)
//   - every dependency COMPLETED
//   - no affected-file overlap with another in-flight task of the project
//
// Re-claiming is idempotent: an agent that already holds an IN_PROGRESS task
// gets that task back. Returns (nil, nil) when nothing is claimable.
func (s *Store) ClaimReadyTask(ctx context.Context, agent *models.Agent, capabilities []string) (*models.Task, error) {
	var claimed *models.Task
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Idempotency: a crash between claim and cycle start must not strand
		// the task, so the same agent simply resumes it.
		row := tx.QueryRow(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE assigned_agent_id = $1 AND status = $2
			LIMIT 1`, agent.ID, models.TaskStatusInProgress)
		if t, err := scanTask(row); err == nil {
			claimed = t
			return nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check held task: %w", err)
		}

		now := s.clock.Now()
		rows, err := tx.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks t
			WHERE t.status IN ($1, $6)
			  AND (t.blocked_until IS NULL OR t.blocked_until <= $4)
			  AND (
			        t.assigned_agent_id = $2
			     OR (t.assigned_agent_id IS NULL AND t.assigned_team_id = $3 AND t.type <> 'team_epic')
			  )
			  AND NOT EXISTS (
			        SELECT 1 FROM task_dependencies d
			        JOIN tasks dep ON dep.id = d.depends_on_id
			        WHERE d.task_id = t.id AND dep.status <> 'completed'
			  )
			  AND NOT EXISTS (
			        SELECT 1 FROM tasks o
			        WHERE o.project_id = t.project_id
			          AND o.id <> t.id
			          AND o.status IN ('in_progress', 'in_review')
			          AND o.affected_files && t.affected_files
			  )
			ORDER BY t.priority, t.created_at
			LIMIT $5
			FOR UPDATE OF t SKIP LOCKED`,
			models.TaskStatusReady, agent.ID, agent.TeamID, now, claimCandidateLimit,
			models.TaskStatusPending)
		if err != nil {
			return fmt.Errorf("select claim candidates: %w", err)
		}
		candidates, err := collectTasks(rows)
		if err != nil {
			return err
		}

		for _, t := range candidates {
			if !capabilitiesSatisfy(capabilities, t.RequiredCapabilities) {
				continue
			}
			_, err := tx.Exec(ctx, `
				UPDATE tasks
				SET status = $2, assigned_agent_id = $3, assigned_team_id = NULL,
				    last_heartbeat_at = $4, version = version + 1, updated_at = $4
				WHERE id = $1`,
				t.ID, models.TaskStatusInProgress, agent.ID, now)
			if err != nil {
				return fmt.Errorf("claim task %s: %w", t.ID, err)
			}
			_, err = tx.Exec(ctx, `
				UPDATE agents
				SET status = $2, current_task_id = $3, version = version + 1, updated_at = $4
				WHERE id = $1`,
				agent.ID, models.AgentStatusWorking, t.ID, now)
			if err != nil {
				return fmt.Errorf("mark agent working: %w", err)
			}
			t.Status = models.TaskStatusInProgress
			t.AssignedAgentID = &agent.ID
			t.AssignedTeamID = nil
			t.LastHeartbeatAt = &now
			claimed = t
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// capabilitiesSatisfy reports whether required ⊆ have, case-insensitively.
func capabilitiesSatisfy(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[strings.ToLower(r)]; !ok {
			return false
		}
	}
	return true
}

// SetTaskStatus CAS-transitions a task's status. ErrConflict when the current
// status is not `from`.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, from, to models.TaskStatus) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $2`,
		taskID, from, to, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s status %s→%s: %w", taskID, from, to, ErrConflict)
	}
	return nil
}

// AssignTask routes a draft or pending task to exactly one of team or agent.
func (s *Store) AssignTask(ctx context.Context, taskID string, teamID, agentID *string) error {
	if teamID != nil && agentID != nil {
		return fmt.Errorf("both team and agent given: %w", ErrInvariantViolation)
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET assigned_team_id = $2, assigned_agent_id = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'ready')`,
		taskID, teamID, agentID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s not assignable in current status: %w", taskID, ErrConflict)
	}
	return nil
}

// AttachChangeSet links the published change set and moves the task
// IN_PROGRESS→IN_REVIEW.
func (s *Store) AttachChangeSet(ctx context.Context, taskID, changeSetID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET change_set_id = $2, status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $5`,
		taskID, changeSetID, models.TaskStatusInReview, s.clock.Now(), models.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("attach change set: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s not in progress: %w", taskID, ErrConflict)
	}
	return nil
}

// CompleteTask finishes a task and promotes any dependent whose dependencies
// are now all complete from PENDING to READY, in the same transaction so the
// promotion happens exactly once. Returns the promoted task ids.
func (s *Store) CompleteTask(ctx context.Context, taskID string, from models.TaskStatus) ([]string, error) {
	var promoted []string
	now := s.clock.Now()
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE tasks
			SET status = $2, completed_at = $3, error_message = NULL,
			    version = version + 1, updated_at = $3
			WHERE id = $1 AND status = $4`,
			taskID, models.TaskStatusCompleted, now, from)
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("task %s not in %s: %w", taskID, from, ErrConflict)
		}

		rows, err := tx.Query(ctx, `
			UPDATE tasks SET status = 'ready', version = version + 1, updated_at = $2
			WHERE status = 'pending'
			  AND id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = $1)
			  AND NOT EXISTS (
			        SELECT 1 FROM task_dependencies d
			        JOIN tasks dep ON dep.id = d.depends_on_id
			        WHERE d.task_id = tasks.id AND dep.status <> 'completed'
			  )
			RETURNING id`, taskID, now)
		if err != nil {
			return fmt.Errorf("promote dependents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			promoted = append(promoted, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// FailTask records one failed attempt: bumps retry counters, stores the error
// and moves the task to `to` (READY for a retryable failure with an optional
// blocked_until backoff, FAILED or BLOCKED when the ladder says so).
// retry_count saturates at MaxTaskRetries; consecutive_failures keeps counting
// so the escalation ladder can climb past self-retry.
func (s *Store) FailTask(ctx context.Context, taskID string, to models.TaskStatus, errMsg string, blockedUntil *time.Time) (*models.Task, error) {
	now := s.clock.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, retry_count = LEAST(retry_count + 1, $7),
		    consecutive_failures = consecutive_failures + 1,
		    last_failure_at = $3, blocked_until = $4, error_message = $5,
		    last_heartbeat_at = NULL,
		    version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $6
		RETURNING `+taskColumns,
		taskID, to, now, blockedUntil, errMsg, models.TaskStatusInProgress,
		models.MaxTaskRetries)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s not in progress: %w", taskID, ErrConflict)
		}
		return nil, fmt.Errorf("fail task: %w", err)
	}
	return t, nil
}

// BlockTask parks a task in BLOCKED with a reason, whatever its current
// status, unless it already reached a terminal state.
func (s *Store) BlockTask(ctx context.Context, taskID, reason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'blocked', error_message = $2, last_heartbeat_at = NULL,
		    version = version + 1, updated_at = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		taskID, reason, s.clock.Now())
	if err != nil {
		return fmt.Errorf("block task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s already terminal: %w", taskID, ErrConflict)
	}
	return nil
}

// ResetTaskForRetry puts a BLOCKED task back in the pool with fresh counters,
// the effect of a human "retry" decision on an escalation.
func (s *Store) ResetTaskForRetry(ctx context.Context, taskID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'ready', retry_count = 0, consecutive_failures = 0,
		    blocked_until = NULL, error_message = NULL, last_heartbeat_at = NULL,
		    version = version + 1, updated_at = $2
		WHERE id = $1 AND status = 'blocked'`,
		taskID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("reset task for retry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s not blocked: %w", taskID, ErrConflict)
	}
	return nil
}

// ClearConsecutiveFailures resets the streak after a successful publish.
func (s *Store) ClearConsecutiveFailures(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET consecutive_failures = 0, version = version + 1, updated_at = $2
		WHERE id = $1`, taskID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("clear failure streak: %w", err)
	}
	return nil
}

// RequestChanges sends an IN_REVIEW task back to READY with the reviewer's
// comments attached as feedback for the next attempt.
func (s *Store) RequestChanges(ctx context.Context, taskID, feedback string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'ready', last_ci_feedback = $2, last_heartbeat_at = NULL,
		    version = version + 1, updated_at = $3
		WHERE id = $1 AND status = 'in_review'`,
		taskID, feedback, s.clock.Now())
	if err != nil {
		return fmt.Errorf("request changes: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s not in review: %w", taskID, ErrConflict)
	}
	return nil
}

// RecordCIFailure stores the CI feedback, bumps the CI retry counter and
// returns the task to READY for rework. Returns the new counter value.
func (s *Store) RecordCIFailure(ctx context.Context, taskID, feedback string) (int, error) {
	var n int
	now := s.clock.Now()
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET ci_retry_count = ci_retry_count + 1, last_ci_failed_at = $3,
		    last_ci_feedback = $2, status = 'ready', last_heartbeat_at = NULL,
		    version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING ci_retry_count`, taskID, feedback, now).Scan(&n)
	if err != nil {
		return 0, notFoundOr(err, "task "+taskID)
	}
	return n, nil
}

// Heartbeat refreshes the task's liveness marker. ErrConflict when the task
// is no longer held by this agent, which tells the cycle to abandon.
func (s *Store) Heartbeat(ctx context.Context, taskID, agentID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET last_heartbeat_at = $3
		WHERE id = $1 AND assigned_agent_id = $2 AND status = 'in_progress'`,
		taskID, agentID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s no longer held by agent %s: %w", taskID, agentID, ErrConflict)
	}
	return nil
}

// RecoverOrphanedTasks returns IN_PROGRESS tasks with heartbeats older than
// threshold to READY and frees their agents. Returns the recovered ids.
func (s *Store) RecoverOrphanedTasks(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := s.clock.Now().Add(-threshold)
	var recovered []string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE tasks
			SET status = 'ready', last_heartbeat_at = NULL,
			    error_message = 'orphaned: heartbeat expired',
			    version = version + 1, updated_at = $2
			WHERE status = 'in_progress'
			  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)
			RETURNING id, assigned_agent_id`, cutoff, s.clock.Now())
		if err != nil {
			return fmt.Errorf("recover orphans: %w", err)
		}
		type pair struct{ task, agent string }
		var pairs []pair
		for rows.Next() {
			var id string
			var agentID *string
			if err := rows.Scan(&id, &agentID); err != nil {
				rows.Close()
				return err
			}
			recovered = append(recovered, id)
			if agentID != nil {
				pairs = append(pairs, pair{id, *agentID})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range pairs {
			_, err := tx.Exec(ctx, `
				UPDATE agents SET status = 'idle', current_task_id = NULL,
					version = version + 1, updated_at = $2
				WHERE id = $1 AND current_task_id = $3`,
				p.agent, s.clock.Now(), p.task)
			if err != nil {
				return fmt.Errorf("free orphaned agent: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// ListTasksByStatus returns a project's tasks in one status, claim order.
func (s *Store) ListTasksByStatus(ctx context.Context, projectID string, status models.TaskStatus) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = $1 AND status = $2
		ORDER BY priority, created_at`, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListEpicsForDecomposition returns READY team epics, the phase-B work queue.
func (s *Store) ListEpicsForDecomposition(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE type = 'team_epic' AND status = 'ready'
		ORDER BY priority, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	return collectTasks(rows)
}

// ListChildTasks returns the direct subtasks of a task.
func (s *Store) ListChildTasks(ctx context.Context, parentID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE parent_task_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child tasks: %w", err)
	}
	return collectTasks(rows)
}

// GoalTaskBreakdown counts a goal's tasks per status, for the roll-up.
func (s *Store) GoalTaskBreakdown(ctx context.Context, goalID string) (map[models.TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM tasks WHERE goal_id = $1 GROUP BY status`, goalID)
	if err != nil {
		return nil, fmt.Errorf("goal breakdown: %w", err)
	}
	defer rows.Close()

	out := make(map[models.TaskStatus]int)
	for rows.Next() {
		var st models.TaskStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
