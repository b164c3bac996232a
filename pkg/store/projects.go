package store

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const projectColumns = `id, organization_id, name, host_url, working_dir, status,
	version, created_at, updated_at`

func scanProject(row pgxRow) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.HostURL, &p.WorkingDir, &p.Status,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject persists a new project.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = ident.New()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	now := s.clock.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, organization_id, name, host_url, working_dir, status,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrganizationID, p.Name, p.HostURL, p.WorkingDir, p.Status,
		p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject fetches one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundOr(err, "project "+id)
	}
	return p, nil
}

const goalColumns = `id, organization_id, project_id, owner_agent_id, title, description,
	success_criteria, status, decomposed, decompose_retry, error_message,
	version, created_at, updated_at`

func scanGoal(row pgxRow) (*models.Goal, error) {
	var g models.Goal
	err := row.Scan(&g.ID, &g.OrganizationID, &g.ProjectID, &g.OwnerAgentID, &g.Title,
		&g.Description, &g.SuccessCriteria, &g.Status, &g.Decomposed, &g.DecomposeRetry,
		&g.ErrorMessage, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGoal persists a new goal with decomposed=false.
func (s *Store) CreateGoal(ctx context.Context, g *models.Goal) error {
	if g.ID == "" {
		g.ID = ident.New()
	}
	if g.Status == "" {
		g.Status = models.GoalStatusActive
	}
	now := s.clock.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	g.Version = 1
	g.Decomposed = false
	_, err := s.pool.Exec(ctx, `
		INSERT INTO goals (id, organization_id, project_id, owner_agent_id, title, description,
			success_criteria, status, decomposed, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11)`,
		g.ID, g.OrganizationID, g.ProjectID, g.OwnerAgentID, g.Title, g.Description,
		g.SuccessCriteria, g.Status, g.Version, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

// GetGoal fetches one goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)
	g, err := scanGoal(row)
	if err != nil {
		return nil, notFoundOr(err, "goal "+id)
	}
	return g, nil
}

// ListUndecomposedGoals returns ACTIVE goals awaiting phase-A decomposition.
func (s *Store) ListUndecomposedGoals(ctx context.Context) ([]*models.Goal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+goalColumns+` FROM goals
		WHERE status = $1 AND decomposed = FALSE
		ORDER BY created_at`, models.GoalStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list undecomposed goals: %w", err)
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ListGoalsByStatus returns goals in one status, oldest first.
func (s *Store) ListGoalsByStatus(ctx context.Context, status models.GoalStatus) ([]*models.Goal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+goalColumns+` FROM goals WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// MarkGoalDecomposed CAS-flips decomposed false→true and moves the goal to
// DECOMPOSED. A second invocation observes decomposed=true and returns
// ErrConflict, which callers treat as "already done".
func (s *Store) MarkGoalDecomposed(ctx context.Context, goalID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE goals
		SET decomposed = TRUE, status = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND decomposed = FALSE`,
		goalID, models.GoalStatusDecomposed, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark goal decomposed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetGoal(ctx, goalID); err != nil {
			return err
		}
		return fmt.Errorf("goal %s already decomposed: %w", goalID, ErrConflict)
	}
	return nil
}

// SetGoalStatus updates the goal status unconditionally (human actions and
// the completion roll-up).
func (s *Store) SetGoalStatus(ctx context.Context, goalID string, status models.GoalStatus, errMsg *string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE goals SET status = $2, error_message = $3, version = version + 1, updated_at = $4
		WHERE id = $1`, goalID, status, errMsg, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set goal status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}

// BumpGoalDecomposeRetry increments the phase-A retry counter and returns the
// new value.
func (s *Store) BumpGoalDecomposeRetry(ctx context.Context, goalID string, errMsg string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE goals
		SET decompose_retry = decompose_retry + 1, error_message = $2,
		    version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING decompose_retry`, goalID, errMsg, s.clock.Now()).Scan(&n)
	if err != nil {
		return 0, notFoundOr(err, "goal "+goalID)
	}
	return n, nil
}
