package store

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const agentColumns = `id, organization_id, team_id, role_id, name, brain_provider,
	custom_prompt, lifecycle, status, creator_agent_id, depth, current_task_id,
	origin_task_id, max_concurrent_tasks, tasks_completed, tasks_failed,
	avg_duration_ms, success_rate, version, created_at, updated_at`

func scanAgent(row pgxRow) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.OrganizationID, &a.TeamID, &a.RoleID, &a.Name, &a.BrainProvider,
		&a.CustomPrompt, &a.Lifecycle, &a.Status, &a.CreatorAgentID, &a.Depth, &a.CurrentTaskID,
		&a.OriginTaskID, &a.MaxConcurrentTasks, &a.TasksCompleted, &a.TasksFailed,
		&a.AvgDurationMS, &a.SuccessRate, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent persists a new agent. Transient agents must carry a creator and
// a depth within the cap.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.Lifecycle == models.LifecycleTransient {
		if a.CreatorAgentID == nil {
			return fmt.Errorf("transient agent without creator: %w", ErrInvariantViolation)
		}
		if a.Depth < 1 || a.Depth > models.MaxTransientDepth {
			return fmt.Errorf("transient agent depth %d: %w", a.Depth, ErrInvariantViolation)
		}
	}
	if a.ID == "" {
		a.ID = ident.New()
	}
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	if a.MaxConcurrentTasks <= 0 {
		a.MaxConcurrentTasks = 1
	}
	now := s.clock.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, organization_id, team_id, role_id, name, brain_provider,
			custom_prompt, lifecycle, status, creator_agent_id, depth, origin_task_id,
			max_concurrent_tasks, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.OrganizationID, a.TeamID, a.RoleID, a.Name, a.BrainProvider,
		a.CustomPrompt, a.Lifecycle, a.Status, a.CreatorAgentID, a.Depth, a.OriginTaskID,
		a.MaxConcurrentTasks, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundOr(err, "agent "+id)
	}
	return a, nil
}

// ListTeamAgents returns all agents of a team.
func (s *Store) ListTeamAgents(ctx context.Context, teamID string) ([]*models.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE team_id = $1 ORDER BY created_at`, teamID)
}

// ListIdleAgents returns IDLE agents in an organization.
func (s *Store) ListIdleAgents(ctx context.Context, orgID string) ([]*models.Agent, error) {
	return s.queryAgents(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE organization_id = $1 AND status = $2
		ORDER BY created_at`, orgID, models.AgentStatusIdle)
}

// CountActiveAgents counts agents currently in WORKING or BLOCKED, the
// governor's active-population measure.
func (s *Store) CountActiveAgents(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM agents
		WHERE organization_id = $1 AND status IN ($2, $3)`,
		orgID, models.AgentStatusWorking, models.AgentStatusBlocked).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

func (s *Store) queryAgents(ctx context.Context, sql string, args ...any) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentStatus CAS-transitions an agent's status and current task pointer.
// Fails with ErrConflict when the current status differs from `from`.
func (s *Store) SetAgentStatus(ctx context.Context, agentID string, from, to models.AgentStatus, currentTaskID *string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET status = $3, current_task_id = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND status = $2`,
		agentID, from, to, currentTaskID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetAgent(ctx, agentID); err != nil {
			return err
		}
		return fmt.Errorf("agent %s status %s→%s: %w", agentID, from, to, ErrConflict)
	}
	return nil
}

// RecordAgentOutcome updates the agent's performance counters after one
// execution attempt.
func (s *Store) RecordAgentOutcome(ctx context.Context, agentID string, success bool, durationMS int64) error {
	// avg_duration_ms is a running mean over completed+failed attempts.
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET
			tasks_completed = tasks_completed + CASE WHEN $2 THEN 1 ELSE 0 END,
			tasks_failed    = tasks_failed    + CASE WHEN $2 THEN 0 ELSE 1 END,
			avg_duration_ms = (avg_duration_ms * (tasks_completed + tasks_failed) + $3)
				/ (tasks_completed + tasks_failed + 1),
			success_rate = (tasks_completed + CASE WHEN $2 THEN 1.0 ELSE 0.0 END)
				/ (tasks_completed + tasks_failed + 1),
			version = version + 1,
			updated_at = $4
		WHERE id = $1`,
		agentID, success, durationMS, s.clock.Now())
	if err != nil {
		return fmt.Errorf("record agent outcome: %w", err)
	}
	return nil
}

// SweepStaleTransientAgents deletes idle transient agents whose origin task
// reached a terminal state, catching anything the merge-time cleanup missed.
func (s *Store) SweepStaleTransientAgents(ctx context.Context) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM agents
		WHERE lifecycle = 'transient' AND status = 'idle'
		  AND origin_task_id IN (
		        SELECT id FROM tasks WHERE status IN ('completed', 'failed', 'cancelled')
		  )`)
	if err != nil {
		return 0, fmt.Errorf("sweep transient agents: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// DestroyTransientSubtree deletes the transient agents created for a task,
// including transitive subordinates. Permanent agents are never deleted.
func (s *Store) DestroyTransientSubtree(ctx context.Context, originTaskID string) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		WITH RECURSIVE doomed AS (
			SELECT id FROM agents
			WHERE origin_task_id = $1 AND lifecycle = 'transient'
			UNION
			SELECT a.id FROM agents a
			JOIN doomed d ON a.creator_agent_id = d.id
			WHERE a.lifecycle = 'transient'
		)
		DELETE FROM agents WHERE id IN (SELECT id FROM doomed)`, originTaskID)
	if err != nil {
		return 0, fmt.Errorf("destroy transient subtree: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
