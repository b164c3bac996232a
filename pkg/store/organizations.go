package store

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const orgColumns = `id, name, context_prompt, daily_cap_sub_cents, monthly_cap_sub_cents,
	max_concurrent, autonomous_enabled, last_stop_reason, version, created_at, updated_at, stopped_at`

func scanOrganization(row pgxRow) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.ContextPrompt, &o.DailyCapSubCents, &o.MonthlyCapSubCents,
		&o.MaxConcurrent, &o.AutonomousEnabled, &o.LastStopReason, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &o.StoppedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrganization persists a new organization.
func (s *Store) CreateOrganization(ctx context.Context, o *models.Organization) error {
	if o.ID == "" {
		o.ID = ident.New()
	}
	now := s.clock.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	o.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, context_prompt, daily_cap_sub_cents,
			monthly_cap_sub_cents, max_concurrent, autonomous_enabled, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.Name, o.ContextPrompt, o.DailyCapSubCents, o.MonthlyCapSubCents,
		o.MaxConcurrent, o.AutonomousEnabled, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganization fetches one organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	o, err := scanOrganization(row)
	if err != nil {
		return nil, notFoundOr(err, "organization "+id)
	}
	return o, nil
}

// ListOrganizations returns all organizations.
func (s *Store) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// SetAutonomousExecution flips the emergency-stop flag. Idempotent: setting
// the current value is a no-op that still succeeds. reason is recorded only
// when disabling.
func (s *Store) SetAutonomousExecution(ctx context.Context, orgID string, enabled bool, reason string) error {
	var tag int64
	if enabled {
		ct, err := s.pool.Exec(ctx, `
			UPDATE organizations
			SET autonomous_enabled = TRUE, version = version + 1, updated_at = $2
			WHERE id = $1`, orgID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("resume organization: %w", err)
		}
		tag = ct.RowsAffected()
	} else {
		now := s.clock.Now()
		ct, err := s.pool.Exec(ctx, `
			UPDATE organizations
			SET autonomous_enabled = FALSE, last_stop_reason = $2, stopped_at = $3,
			    version = version + 1, updated_at = $3
			WHERE id = $1`, orgID, reason, now)
		if err != nil {
			return fmt.Errorf("stop organization: %w", err)
		}
		tag = ct.RowsAffected()
	}
	if tag == 0 {
		return fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	return nil
}
