// Package escalation walks failed tasks up the five-level ladder.
//
// Levels 1-3 keep the failure inside the agent hierarchy (self-retry,
// teammate, manager); level 4 asks a human; level 5 terminates. Every rung
// leaves an escalation record, so the history of a stuck task reads straight
// off its ledger.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/events"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Ladder drives failure handling for execution attempts.
type Ladder struct {
	store     *store.Store
	cfg       *config.EscalationConfig
	publisher *events.Publisher
	clock     ident.Clock
	logger    *slog.Logger
}

// New creates a Ladder.
func New(st *store.Store, cfg *config.EscalationConfig, publisher *events.Publisher, clock ident.Clock, logger *slog.Logger) *Ladder {
	return &Ladder{store: st, cfg: cfg, publisher: publisher, clock: clock,
		logger: logger.With("component", "escalation")}
}

// LevelForStreak maps an uninterrupted failure streak (including the failure
// being handled) to a ladder rung. The streak, not the lifetime retry count,
// selects the rung: retry_count saturates at MaxTaskRetries and a success
// resets the streak, so only back-to-back failures climb the ladder.
func LevelForStreak(streak int) models.EscalationLevel {
	switch {
	case streak <= models.MaxTaskRetries:
		return models.EscalationSelfRetry
	case streak == models.MaxTaskRetries+1:
		return models.EscalationTeammate
	case streak == models.MaxTaskRetries+2:
		return models.EscalationManager
	default:
		return models.EscalationHuman
	}
}

// HandleFailure records one failed attempt and applies the ladder rung the
// task's failure streak selects. Returns the level applied.
func (l *Ladder) HandleFailure(ctx context.Context, orgID string, task *models.Task, reason string) (models.EscalationLevel, error) {
	streak := task.ConsecutiveFailures + 1

	switch LevelForStreak(streak) {
	case models.EscalationSelfRetry:
		return l.selfRetry(ctx, orgID, task, reason, streak)
	case models.EscalationTeammate:
		return l.teammate(ctx, orgID, task, reason)
	case models.EscalationManager:
		return l.manager(ctx, orgID, task, reason)
	default:
		return l.human(ctx, orgID, task, reason)
	}
}

// selfRetry (level 1): back to READY behind an exponential cool-off.
func (l *Ladder) selfRetry(ctx context.Context, orgID string, task *models.Task, reason string, attempt int) (models.EscalationLevel, error) {
	until := l.clock.Now().Add(time.Duration(1<<attempt) * time.Minute)
	if _, err := l.store.FailTask(ctx, task.ID, models.TaskStatusReady, reason, &until); err != nil {
		return 0, err
	}
	err := l.record(ctx, orgID, task.ID, models.EscalationSelfRetry, reason, nil)
	l.logger.Info("task scheduled for self-retry",
		"task_id", task.ID, "attempt", attempt, "blocked_until", until)
	return models.EscalationSelfRetry, err
}

// teammate (level 2): strip the failing assignee and route the task back to
// the team pool, so any capable teammate can claim it.
func (l *Ladder) teammate(ctx context.Context, orgID string, task *models.Task, reason string) (models.EscalationLevel, error) {
	if _, err := l.store.FailTask(ctx, task.ID, models.TaskStatusReady, reason, nil); err != nil {
		return 0, err
	}
	teamID := task.AssignedTeamID
	if teamID == nil && task.AssignedAgentID != nil {
		agent, err := l.store.GetAgent(ctx, *task.AssignedAgentID)
		if err == nil {
			teamID = agent.TeamID
		}
	}
	if teamID != nil {
		if err := l.store.AssignTask(ctx, task.ID, teamID, nil); err != nil && !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
	}
	err := l.record(ctx, orgID, task.ID, models.EscalationTeammate, reason, nil)
	l.logger.Info("task rerouted to team pool", "task_id", task.ID)
	return models.EscalationTeammate, err
}

// manager (level 3): BLOCKED behind the manager cool-down, with the team's
// manager named on the record.
func (l *Ladder) manager(ctx context.Context, orgID string, task *models.Task, reason string) (models.EscalationLevel, error) {
	until := l.clock.Now().Add(l.cfg.ManagerCooldown)
	if _, err := l.store.FailTask(ctx, task.ID, models.TaskStatusBlocked, reason, &until); err != nil {
		return 0, err
	}
	var managerID *string
	if task.AssignedTeamID != nil {
		if team, err := l.store.GetTeam(ctx, *task.AssignedTeamID); err == nil {
			managerID = team.ManagerAgentID
		}
	}
	err := l.record(ctx, orgID, task.ID, models.EscalationManager, reason, managerID)
	l.logger.Warn("task escalated to manager", "task_id", task.ID, "blocked_until", until)
	return models.EscalationManager, err
}

// human (level 4): BLOCKED indefinitely pending a human decision; the sweep
// terminates it at level 5 when the window expires.
func (l *Ladder) human(ctx context.Context, orgID string, task *models.Task, reason string) (models.EscalationLevel, error) {
	if _, err := l.store.FailTask(ctx, task.ID, models.TaskStatusBlocked, reason, nil); err != nil {
		return 0, err
	}
	err := l.record(ctx, orgID, task.ID, models.EscalationHuman, reason, nil)
	l.logger.Warn("task escalated to human", "task_id", task.ID, "reason", reason)
	return models.EscalationHuman, err
}

// EscalateHuman raises a level-4 record directly, bypassing the retry rungs.
// Used when CI retries are exhausted or the governor trips a cap.
func (l *Ladder) EscalateHuman(ctx context.Context, orgID, taskID, reason string) error {
	if err := l.record(ctx, orgID, taskID, models.EscalationHuman, reason, nil); err != nil {
		return err
	}
	l.logger.Warn("human escalation raised", "task_id", taskID, "reason", reason)
	return nil
}

// Decisions accepted by Resolve.
const (
	DecisionRetry     = "retry"
	DecisionTerminate = "terminate"
)

// Resolve applies a human decision to a pending escalation: "retry" resets the
// task into the pool with fresh counters, "terminate" applies level 5. The
// record is stamped first so a second resolver gets ErrConflict instead of a
// double application. Org-level escalations (no task) only get the stamp; the
// resume itself goes through the organization API.
func (l *Ladder) Resolve(ctx context.Context, escalationID, decision string, resolverHuman *string) error {
	if decision != DecisionRetry && decision != DecisionTerminate {
		return fmt.Errorf("unknown decision %q: %w", decision, store.ErrInvariantViolation)
	}
	rec, err := l.store.GetEscalation(ctx, escalationID)
	if err != nil {
		return err
	}
	if err := l.store.ResolveEscalation(ctx, escalationID, decision, nil, resolverHuman); err != nil {
		return err
	}
	if rec.TaskID == nil {
		l.logger.Info("organization escalation resolved",
			"escalation_id", escalationID, "decision", decision)
		return nil
	}

	task, err := l.store.GetTask(ctx, *rec.TaskID)
	if err != nil {
		return err
	}
	switch decision {
	case DecisionRetry:
		if err := l.store.ResetTaskForRetry(ctx, task.ID); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
		l.logger.Info("task released for retry after human decision", "task_id", task.ID)
	case DecisionTerminate:
		if !task.Status.IsTerminal() {
			if err := l.Terminate(ctx, rec.OrganizationID, task, "human decision: terminate"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Terminate applies level 5: the task fails for good, its change set closes,
// the parent (if any) blocks pending a re-plan, and the failure event goes
// out.
func (l *Ladder) Terminate(ctx context.Context, orgID string, task *models.Task, reason string) error {
	if err := l.store.SetTaskStatus(ctx, task.ID, task.Status, models.TaskStatusFailed); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	if task.ChangeSetID != nil {
		if err := l.store.CloseChangeSet(ctx, *task.ChangeSetID); err != nil && !errors.Is(err, store.ErrConflict) {
			l.logger.Warn("close change set failed", "change_set_id", *task.ChangeSetID, "error", err)
		}
	}
	if task.ParentTaskID != nil {
		err := l.store.BlockTask(ctx, *task.ParentTaskID,
			fmt.Sprintf("subtask %s failed: %s", task.ID, reason))
		if err != nil && !errors.Is(err, store.ErrConflict) {
			l.logger.Warn("block parent failed", "parent_task_id", *task.ParentTaskID, "error", err)
		}
	}
	if err := l.record(ctx, orgID, task.ID, models.EscalationTerminal, reason, nil); err != nil {
		return err
	}
	l.publisher.Publish(ctx, events.ChannelTaskFailed, events.TaskEvent{
		TaskID:         task.ID,
		OrganizationID: orgID,
		ChangeSetID:    task.ChangeSetID,
		Reason:         reason,
	})
	l.logger.Error("task terminated", "task_id", task.ID, "reason", reason)
	return nil
}

// SweepExpiredHumanEscalations terminates tasks whose level-4 window passed
// with no decision. Returns the terminated task ids.
func (l *Ladder) SweepExpiredHumanEscalations(ctx context.Context) ([]string, error) {
	pending, err := l.store.ListPendingEscalations(ctx, models.EscalationHuman)
	if err != nil {
		return nil, err
	}
	cutoff := l.clock.Now().Add(-l.cfg.HumanDecisionWindow)

	var terminated []string
	for _, rec := range pending {
		if rec.CreatedAt.After(cutoff) || rec.TaskID == nil {
			continue
		}
		if err := l.store.ResolveEscalation(ctx, rec.ID, "expired", nil, nil); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return terminated, err
		}
		task, err := l.store.GetTask(ctx, *rec.TaskID)
		if err != nil {
			return terminated, err
		}
		if task.Status.IsTerminal() {
			continue
		}
		if err := l.Terminate(ctx, rec.OrganizationID, task,
			fmt.Sprintf("human decision window expired after %s", l.cfg.HumanDecisionWindow)); err != nil {
			return terminated, err
		}
		terminated = append(terminated, task.ID)
	}
	return terminated, nil
}

func (l *Ladder) record(ctx context.Context, orgID, taskID string, level models.EscalationLevel, reason string, requested *string) error {
	return l.store.CreateEscalation(ctx, &models.EscalationRecord{
		TaskID:           &taskID,
		OrganizationID:   orgID,
		Level:            level,
		Reason:           reason,
		RequestedAgentID: requested,
	})
}
