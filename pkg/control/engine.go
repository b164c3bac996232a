// Package control runs the tick loops that keep the plane moving: goal and
// epic decomposition, claim-and-execute, review and CI settlement, and the
// housekeeping sweeps.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/decompose"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/execution"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/review"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Engine owns the control loops. One Engine per process; coordination across
// processes happens entirely through the store's claim protocol.
type Engine struct {
	store      *store.Store
	decomposer *decompose.Decomposer
	runner     *execution.Runner
	reviews    *review.Service
	ladder     *escalation.Ladder
	governor   *Governor
	loops      *config.LoopsConfig
	clock      ident.Clock
	logger     *slog.Logger

	// inflight dedupes cycle launches within this process; cross-process
	// dedup is the claim protocol's job.
	inflight sync.Map
	cycles   sync.WaitGroup
}

// NewEngine wires an Engine.
func NewEngine(st *store.Store, d *decompose.Decomposer, r *execution.Runner,
	rv *review.Service, ladder *escalation.Ladder, gov *Governor,
	loops *config.LoopsConfig, clock ident.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		decomposer: d,
		runner:     r,
		reviews:    rv,
		ladder:     ladder,
		governor:   gov,
		loops:      loops,
		clock:      clock,
		logger:     logger.With("component", "control"),
	}
}

// Run starts all loops and blocks until ctx ends, then waits out in-flight
// cycles up to the graceful-shutdown timeout.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.loop(ctx, "decompose", e.loops.TickInterval, e.decomposeTick) })
	g.Go(func() error { return e.loop(ctx, "execute", e.loops.TickInterval, e.executeTick) })
	g.Go(func() error { return e.loop(ctx, "review", e.loops.TickInterval, e.reviewTick) })
	g.Go(func() error { return e.loop(ctx, "housekeeping", e.loops.OrphanScanInterval, e.housekeepingTick) })
	err := g.Wait()

	done := make(chan struct{})
	go func() { e.cycles.Wait(); close(done) }()
	select {
	case <-done:
		e.logger.Info("all cycles drained")
	case <-time.After(e.loops.GracefulShutdownTimeout):
		e.logger.Warn("shutdown timeout, abandoning in-flight cycles",
			"timeout", e.loops.GracefulShutdownTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs fn once immediately, then on every tick until ctx ends.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) error {
	e.logger.Info("loop started", "loop", name, "interval", interval)
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("loop stopped", "loop", name)
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// decomposeTick runs phase A on undecomposed goals and phase B on ready
// epics, skipping organizations the governor has stopped.
func (e *Engine) decomposeTick(ctx context.Context) {
	goals, err := e.store.ListUndecomposedGoals(ctx)
	if err != nil {
		e.logger.Error("listing goals failed", "error", err)
		return
	}
	for _, goal := range goals {
		ok, reason, err := e.admitOrg(ctx, goal.OrganizationID)
		if err != nil {
			e.logger.Error("governor check failed", "org_id", goal.OrganizationID, "error", err)
			continue
		}
		if !ok {
			e.logger.Debug("decomposition skipped", "goal_id", goal.ID, "reason", reason)
			continue
		}
		if err := e.decomposer.DecomposeGoal(ctx, goal); err != nil {
			e.logger.Error("goal decomposition failed", "goal_id", goal.ID, "error", err)
		}
	}

	epics, err := e.store.ListEpicsForDecomposition(ctx)
	if err != nil {
		e.logger.Error("listing epics failed", "error", err)
		return
	}
	for _, epic := range epics {
		project, err := e.store.GetProject(ctx, epic.ProjectID)
		if err != nil {
			e.logger.Error("loading project failed", "task_id", epic.ID, "error", err)
			continue
		}
		ok, reason, err := e.admitOrg(ctx, project.OrganizationID)
		if err != nil {
			e.logger.Error("governor check failed", "org_id", project.OrganizationID, "error", err)
			continue
		}
		if !ok {
			e.logger.Debug("epic decomposition skipped", "task_id", epic.ID, "reason", reason)
			continue
		}
		if err := e.decomposer.DecomposeEpic(ctx, epic, project.OrganizationID); err != nil {
			e.logger.Error("epic decomposition failed", "task_id", epic.ID, "error", err)
		}
	}
}

func (e *Engine) admitOrg(ctx context.Context, orgID string) (bool, string, error) {
	org, err := e.store.GetOrganization(ctx, orgID)
	if err != nil {
		return false, "", err
	}
	return e.governor.Admit(ctx, org)
}

// executeTick lets every admitted organization's idle agents claim work.
// Each claimed task runs in its own goroutine; the claim protocol plus the
// inflight set guarantee a task runs at most once.
func (e *Engine) executeTick(ctx context.Context) {
	orgs, err := e.store.ListOrganizations(ctx)
	if err != nil {
		e.logger.Error("listing organizations failed", "error", err)
		return
	}
	for _, org := range orgs {
		idle, err := e.store.ListIdleAgents(ctx, org.ID)
		if err != nil {
			e.logger.Error("listing idle agents failed", "org_id", org.ID, "error", err)
			continue
		}
		for _, agent := range idle {
			ok, reason, err := e.governor.Admit(ctx, org)
			if err != nil {
				e.logger.Error("governor check failed", "org_id", org.ID, "error", err)
				break
			}
			if !ok {
				e.logger.Debug("execution gated", "org_id", org.ID, "reason", reason)
				break
			}
			if err := e.claimAndLaunch(ctx, agent); err != nil {
				e.logger.Error("claim failed", "agent_id", agent.ID, "error", err)
			}
		}
	}
}

func (e *Engine) claimAndLaunch(ctx context.Context, agent *models.Agent) error {
	role, err := e.store.GetRole(ctx, agent.RoleID)
	if err != nil {
		return err
	}
	task, err := e.store.ClaimReadyTask(ctx, agent, role.Capabilities)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if _, running := e.inflight.LoadOrStore(task.ID, struct{}{}); running {
		return nil
	}
	e.logger.Info("task claimed", "task_id", task.ID, "agent_id", agent.ID,
		"type", task.Type, "priority", task.Priority)

	// Cycles survive loop shutdown: they are bounded by their own wall-clock
	// ceiling and drained by Run's graceful-shutdown wait.
	cycleCtx := context.WithoutCancel(ctx)
	e.cycles.Add(1)
	go func() {
		defer e.cycles.Done()
		defer e.inflight.Delete(task.ID)
		if err := e.runner.RunCycle(cycleCtx, agent, task); err != nil {
			e.logger.Warn("cycle ended in failure", "task_id", task.ID, "error", err)
		}
	}()
	return nil
}

// reviewTick advances the review queue and settles approved change sets.
func (e *Engine) reviewTick(ctx context.Context) {
	e.reviews.ProcessReadyForReview(ctx)
	e.reviews.ProcessApproved(ctx)
}

// housekeepingTick runs the recovery sweeps: orphaned claims, expired human
// escalations, stale transient agents, and the goal completion roll-up.
func (e *Engine) housekeepingTick(ctx context.Context) {
	if recovered, err := e.store.RecoverOrphanedTasks(ctx, e.loops.OrphanThreshold); err != nil {
		e.logger.Error("orphan recovery failed", "error", err)
	} else if len(recovered) > 0 {
		e.logger.Warn("orphaned tasks recovered", "count", len(recovered), "task_ids", recovered)
	}

	if terminated, err := e.ladder.SweepExpiredHumanEscalations(ctx); err != nil {
		e.logger.Error("escalation sweep failed", "error", err)
	} else if len(terminated) > 0 {
		e.logger.Warn("expired escalations terminated", "task_ids", terminated)
	}

	if n, err := e.store.SweepStaleTransientAgents(ctx); err != nil {
		e.logger.Error("transient sweep failed", "error", err)
	} else if n > 0 {
		e.logger.Info("stale transient agents removed", "count", n)
	}

	e.rollUpGoals(ctx)
}

// rollUpGoals completes (or abandons) goals whose task trees have fully
// settled.
func (e *Engine) rollUpGoals(ctx context.Context) {
	goals, err := e.store.ListGoalsByStatus(ctx, models.GoalStatusDecomposed)
	if err != nil {
		e.logger.Error("listing decomposed goals failed", "error", err)
		return
	}
	for _, goal := range goals {
		breakdown, err := e.store.GoalTaskBreakdown(ctx, goal.ID)
		if err != nil {
			e.logger.Error("goal breakdown failed", "goal_id", goal.ID, "error", err)
			continue
		}
		if len(breakdown) == 0 {
			continue
		}
		var open, failed int
		for status, n := range breakdown {
			if !status.IsTerminal() {
				open += n
			}
			if status == models.TaskStatusFailed || status == models.TaskStatusCancelled {
				failed += n
			}
		}
		if open > 0 {
			continue
		}
		if failed == 0 {
			if err := e.store.SetGoalStatus(ctx, goal.ID, models.GoalStatusCompleted, nil); err != nil {
				e.logger.Error("completing goal failed", "goal_id", goal.ID, "error", err)
				continue
			}
			e.logger.Info("goal completed", "goal_id", goal.ID)
		} else {
			msg := fmt.Sprintf("%d of the goal's tasks failed", failed)
			if err := e.store.SetGoalStatus(ctx, goal.ID, models.GoalStatusAbandoned, &msg); err != nil {
				e.logger.Error("abandoning goal failed", "goal_id", goal.ID, "error", err)
				continue
			}
			e.logger.Warn("goal abandoned", "goal_id", goal.ID, "failed_tasks", failed)
		}
	}
}
