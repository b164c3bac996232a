package store

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const roleColumns = `id, organization_id, name, system_prompt, capabilities,
	transient_eligible, version, created_at, updated_at`

func scanRole(row pgxRow) (*models.Role, error) {
	var r models.Role
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.SystemPrompt, &r.Capabilities,
		&r.TransientEligible, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRole persists a new role.
func (s *Store) CreateRole(ctx context.Context, r *models.Role) error {
	if r.ID == "" {
		r.ID = ident.New()
	}
	now := s.clock.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	r.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, organization_id, name, system_prompt, capabilities,
			transient_eligible, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.OrganizationID, r.Name, r.SystemPrompt, r.Capabilities,
		r.TransientEligible, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// GetRole fetches one role by id.
func (s *Store) GetRole(ctx context.Context, id string) (*models.Role, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	r, err := scanRole(row)
	if err != nil {
		return nil, notFoundOr(err, "role "+id)
	}
	return r, nil
}

// FindRoleByName looks up a role by name within an organization.
func (s *Store) FindRoleByName(ctx context.Context, orgID, name string) (*models.Role, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE organization_id = $1 AND lower(name) = lower($2)`,
		orgID, name)
	r, err := scanRole(row)
	if err != nil {
		return nil, notFoundOr(err, "role "+name)
	}
	return r, nil
}

// ListRoles returns an organization's roles.
func (s *Store) ListRoles(ctx context.Context, orgID string) ([]*models.Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UpdateRoleCapabilities replaces the capability set; the only mutable role
// attribute after creation.
func (s *Store) UpdateRoleCapabilities(ctx context.Context, roleID string, capabilities []string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE roles SET capabilities = $2, version = version + 1, updated_at = $3
		WHERE id = $1`, roleID, capabilities, s.clock.Now())
	if err != nil {
		return fmt.Errorf("update role capabilities: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	return nil
}

const teamColumns = `id, organization_id, name, parent_team_id, manager_agent_id,
	description_prompt, version, created_at, updated_at`

func scanTeam(row pgxRow) (*models.Team, error) {
	var t models.Team
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.ParentTeamID, &t.ManagerAgentID,
		&t.DescriptionPrompt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTeam persists a new team.
func (s *Store) CreateTeam(ctx context.Context, t *models.Team) error {
	if t.ID == "" {
		t.ID = ident.New()
	}
	now := s.clock.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teams (id, organization_id, name, parent_team_id, manager_agent_id,
			description_prompt, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OrganizationID, t.Name, t.ParentTeamID, t.ManagerAgentID,
		t.DescriptionPrompt, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// GetTeam fetches one team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	t, err := scanTeam(row)
	if err != nil {
		return nil, notFoundOr(err, "team "+id)
	}
	return t, nil
}

// FindTeamByName looks up a team by name within an organization
// (case-insensitive; decomposition plans reference teams by name).
func (s *Store) FindTeamByName(ctx context.Context, orgID, name string) (*models.Team, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE organization_id = $1 AND lower(name) = lower($2)`,
		orgID, name)
	t, err := scanTeam(row)
	if err != nil {
		return nil, notFoundOr(err, "team "+name)
	}
	return t, nil
}

// ListTeams returns an organization's teams.
func (s *Store) ListTeams(ctx context.Context, orgID string) ([]*models.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// TeamChain returns the team and its ancestors, root first. Used by the
// prompt composer's layer 2.
func (s *Store) TeamChain(ctx context.Context, teamID string) ([]*models.Team, error) {
	var chain []*models.Team
	id := &teamID
	for id != nil {
		t, err := s.GetTeam(ctx, *id)
		if err != nil {
			return nil, err
		}
		// Prepend: walk is leaf-to-root, callers want root-first.
		chain = append([]*models.Team{t}, chain...)
		id = t.ParentTeamID
		if len(chain) > 16 {
			return nil, fmt.Errorf("team chain too deep: %w", ErrInvariantViolation)
		}
	}
	return chain, nil
}
