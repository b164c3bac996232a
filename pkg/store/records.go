package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// RecordExecution appends one execution-record ledger entry and rolls its
// cost into the organization's daily/monthly window in the same transaction,
// so the governor's budget reads never lag the ledger.
func (s *Store) RecordExecution(ctx context.Context, r *models.ExecutionRecord) error {
	if r.ID == "" {
		r.ID = ident.New()
	}
	r.CreatedAt = s.clock.Now()
	day := r.StartedAt.UTC().Format("2006-01-02")
	month := r.StartedAt.UTC().Format("2006-01")

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO execution_records (id, task_id, agent_id, organization_id,
				started_at, ended_at, outcome, input_tokens, output_tokens,
				cost_sub_cents, brain_duration_ms, error_message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.TaskID, r.AgentID, r.OrganizationID,
			r.StartedAt, r.EndedAt, r.Outcome, r.InputTokens, r.OutputTokens,
			r.CostSubCents, r.BrainDurationMS, r.ErrorMessage, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert execution record: %w", err)
		}
		if r.CostSubCents == 0 {
			return nil
		}
		// One row per org+day; month spend is the sum of the month's rows.
		_, err = tx.Exec(ctx, `
			INSERT INTO cost_windows (organization_id, day, month, daily_sub_cents, monthly_sub_cents, updated_at)
			VALUES ($1, $2, $3, $4, $4, $5)
			ON CONFLICT (organization_id, day) DO UPDATE SET
				daily_sub_cents   = cost_windows.daily_sub_cents + EXCLUDED.daily_sub_cents,
				monthly_sub_cents = cost_windows.monthly_sub_cents + EXCLUDED.daily_sub_cents,
				updated_at        = EXCLUDED.updated_at`,
			r.OrganizationID, day, month, r.CostSubCents, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("roll up cost: %w", err)
		}
		return nil
	})
}

// DaySpend returns the organization's rolled-up spend for a UTC day
// (YYYY-MM-DD), zero when no window exists yet.
func (s *Store) DaySpend(ctx context.Context, orgID, day string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(daily_sub_cents), 0) FROM cost_windows
		WHERE organization_id = $1 AND day = $2`, orgID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("day spend: %w", err)
	}
	return n, nil
}

// MonthSpend returns the organization's rolled-up spend for a UTC month
// (YYYY-MM).
func (s *Store) MonthSpend(ctx context.Context, orgID, month string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(daily_sub_cents), 0) FROM cost_windows
		WHERE organization_id = $1 AND month = $2`, orgID, month).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("month spend: %w", err)
	}
	return n, nil
}

// LedgerSpendSince recomputes spend straight from the execution-record ledger,
// the source of truth when a roll-up looks suspect.
func (s *Store) LedgerSpendSince(ctx context.Context, orgID string, since, until string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(cost_sub_cents), 0) FROM execution_records
		WHERE organization_id = $1 AND started_at >= $2::timestamptz AND started_at < $3::timestamptz`,
		orgID, since, until).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger spend: %w", err)
	}
	return n, nil
}

// ListTaskExecutions returns a task's ledger entries, oldest first.
func (s *Store) ListTaskExecutions(ctx context.Context, taskID string) ([]*models.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, agent_id, organization_id, started_at, ended_at, outcome,
			input_tokens, output_tokens, cost_sub_cents, brain_duration_ms, error_message, created_at
		FROM execution_records WHERE task_id = $1 ORDER BY started_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var recs []*models.ExecutionRecord
	for rows.Next() {
		var r models.ExecutionRecord
		err := rows.Scan(&r.ID, &r.TaskID, &r.AgentID, &r.OrganizationID, &r.StartedAt,
			&r.EndedAt, &r.Outcome, &r.InputTokens, &r.OutputTokens, &r.CostSubCents,
			&r.BrainDurationMS, &r.ErrorMessage, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

const escalationColumns = `id, task_id, organization_id, level, reason,
	requested_agent_id, resolver_agent_id, resolver_human, decision, decided_at, created_at`

func scanEscalation(row pgxRow) (*models.EscalationRecord, error) {
	var e models.EscalationRecord
	err := row.Scan(&e.ID, &e.TaskID, &e.OrganizationID, &e.Level, &e.Reason,
		&e.RequestedAgentID, &e.ResolverAgentID, &e.ResolverHuman, &e.Decision,
		&e.DecidedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEscalation appends one escalation-ladder record.
func (s *Store) CreateEscalation(ctx context.Context, e *models.EscalationRecord) error {
	if e.ID == "" {
		e.ID = ident.New()
	}
	e.CreatedAt = s.clock.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escalation_records (id, task_id, organization_id, level, reason,
			requested_agent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TaskID, e.OrganizationID, e.Level, e.Reason, e.RequestedAgentID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create escalation: %w", err)
	}
	return nil
}

// ResolveEscalation records the decision on a pending escalation.
func (s *Store) ResolveEscalation(ctx context.Context, id, decision string, resolverAgentID, resolverHuman *string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE escalation_records
		SET decision = $2, resolver_agent_id = $3, resolver_human = $4, decided_at = $5
		WHERE id = $1 AND decided_at IS NULL`,
		id, decision, resolverAgentID, resolverHuman, s.clock.Now())
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetEscalation(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("escalation %s already decided: %w", id, ErrConflict)
	}
	return nil
}

// GetEscalation fetches one escalation record by id.
func (s *Store) GetEscalation(ctx context.Context, id string) (*models.EscalationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+escalationColumns+` FROM escalation_records WHERE id = $1`, id)
	e, err := scanEscalation(row)
	if err != nil {
		return nil, notFoundOr(err, "escalation "+id)
	}
	return e, nil
}

// LatestEscalation returns a task's most recent ladder record, or
// ErrNotFound when the ladder was never invoked.
func (s *Store) LatestEscalation(ctx context.Context, taskID string) (*models.EscalationRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+escalationColumns+` FROM escalation_records
		WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`, taskID)
	e, err := scanEscalation(row)
	if err != nil {
		return nil, notFoundOr(err, "escalation for task "+taskID)
	}
	return e, nil
}

// ListPendingEscalations returns undecided records at one level, oldest
// first. The control plane polls level 4 for expired human decision windows.
func (s *Store) ListPendingEscalations(ctx context.Context, level models.EscalationLevel) ([]*models.EscalationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+escalationColumns+` FROM escalation_records
		WHERE level = $1 AND decided_at IS NULL
		ORDER BY created_at`, level)
	if err != nil {
		return nil, fmt.Errorf("list pending escalations: %w", err)
	}
	defer rows.Close()

	var recs []*models.EscalationRecord
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		recs = append(recs, e)
	}
	return recs, rows.Err()
}
