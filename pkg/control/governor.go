package control

import (
	"context"
	"log/slog"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Governor gates autonomous execution per organization: the emergency-stop
// flag, the active-agent ceiling, and the budget caps. Tripping a cap flips
// the stop flag itself, so every execute tick across every process sees the
// stop through the database.
type Governor struct {
	store  *store.Store
	clock  ident.Clock
	logger *slog.Logger
}

// NewGovernor creates a Governor.
func NewGovernor(st *store.Store, clock ident.Clock, logger *slog.Logger) *Governor {
	return &Governor{store: st, clock: clock, logger: logger.With("component", "governor")}
}

// Admit reports whether the organization may start new execution cycles, and
// why not when it may not.
func (g *Governor) Admit(ctx context.Context, org *models.Organization) (bool, string, error) {
	if !org.AutonomousEnabled {
		reason := "autonomous execution stopped"
		if org.LastStopReason != nil {
			reason = *org.LastStopReason
		}
		return false, reason, nil
	}

	active, err := g.store.CountActiveAgents(ctx, org.ID)
	if err != nil {
		return false, "", err
	}
	if active >= org.MaxConcurrent {
		return false, "concurrency ceiling reached", nil
	}

	now := g.clock.Now().UTC()
	if org.DailyCapSubCents > 0 {
		spent, err := g.store.DaySpend(ctx, org.ID, now.Format("2006-01-02"))
		if err != nil {
			return false, "", err
		}
		if spent >= org.DailyCapSubCents {
			return false, "daily cap reached", g.trip(ctx, org, "daily cap reached")
		}
	}
	if org.MonthlyCapSubCents > 0 {
		spent, err := g.store.MonthSpend(ctx, org.ID, now.Format("2006-01"))
		if err != nil {
			return false, "", err
		}
		if spent >= org.MonthlyCapSubCents {
			return false, "monthly cap reached", g.trip(ctx, org, "monthly cap reached")
		}
	}
	return true, "", nil
}

// trip stops the organization and raises an org-level human escalation.
// Resuming is a human decision via the API.
func (g *Governor) trip(ctx context.Context, org *models.Organization, reason string) error {
	if err := g.store.SetAutonomousExecution(ctx, org.ID, false, reason); err != nil {
		return err
	}
	g.logger.Error("organization stopped by governor", "org_id", org.ID, "reason", reason)
	return g.store.CreateEscalation(ctx, &models.EscalationRecord{
		OrganizationID: org.ID,
		Level:          models.EscalationHuman,
		Reason:         reason,
	})
}
