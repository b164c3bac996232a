// Package execution runs one claimed task through prompt, brain, sandbox,
// gate, and publication.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/gate"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/prompt"
	"github.com/pbc1017/hollon-ai-sub009/pkg/sandbox"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Runner executes claimed tasks.
type Runner struct {
	store    *store.Store
	composer *prompt.Composer
	gateway  *brain.Gateway
	sandbox  *sandbox.Manager
	gate     *gate.Gate
	ladder   *escalation.Ladder
	registry *config.BrainProviderRegistry
	loops    *config.LoopsConfig
	clock    ident.Clock
	logger   *slog.Logger
}

// NewRunner wires a Runner.
func NewRunner(st *store.Store, composer *prompt.Composer, gateway *brain.Gateway,
	sb *sandbox.Manager, g *gate.Gate, ladder *escalation.Ladder,
	registry *config.BrainProviderRegistry, loops *config.LoopsConfig,
	clock ident.Clock, logger *slog.Logger) *Runner {
	return &Runner{
		store:    st,
		composer: composer,
		gateway:  gateway,
		sandbox:  sb,
		gate:     g,
		ladder:   ladder,
		registry: registry,
		loops:    loops,
		clock:    clock,
		logger:   logger.With("component", "execution"),
	}
}

// RunCycle drives one claimed IN_PROGRESS task to IN_REVIEW or through the
// failure ladder. The whole cycle is bounded by the wall-clock ceiling:
// WallClockMultiplier times the provider's brain timeout.
func (r *Runner) RunCycle(ctx context.Context, agent *models.Agent, task *models.Task) error {
	ceiling := r.wallClockCeiling(agent.BrainProvider)
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	// Heartbeats keep orphan recovery off our back while we work; losing the
	// claim cancels the cycle.
	hbCtx, hbStop := context.WithCancel(ctx)
	go r.heartbeat(hbCtx, cancel, task.ID, agent.ID)
	defer hbStop()

	return r.runCycle(ctx, agent, task, r.clock.Now())
}

func (r *Runner) runCycle(ctx context.Context, agent *models.Agent, task *models.Task, started time.Time) error {
	project, err := r.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}

	// A subtask works inside its parent's copy rather than a fresh worktree.
	anchor, err := sandboxAnchor(ctx, r.store.GetTask, task)
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}
	ws, err := r.sandbox.Acquire(ctx, project.ID, project.WorkingDir,
		anchorAgentID(anchor, task, agent), anchor.ID)
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}

	text, err := r.composer.Compose(ctx, agent, task)
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}

	res, err := r.gateway.Invoke(ctx, brain.Request{Provider: agent.BrainProvider, Prompt: text})
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}

	// Cost is ledgered before the gate runs: a refused output still cost
	// what it cost.
	org, err := r.store.GetOrganization(ctx, agent.OrganizationID)
	if err != nil {
		return r.fail(ctx, agent, task, started, models.OutcomeFailedError, err.Error())
	}

	decision := r.gate.Evaluate(task, res.Output, res.CostSubCents, org.DailyCapSubCents)
	if !decision.Pass {
		r.record(ctx, agent, task, started, models.OutcomeFailedValidation, res, decision.Reason)
		if decision.Retryable {
			return r.failClaimed(ctx, agent, task, decision.Reason+": "+decision.Detail)
		}
		// Non-retryable (COST): block the task and put it in front of a human.
		if _, err := r.store.FailTask(ctx, task.ID, models.TaskStatusBlocked, decision.Reason+": "+decision.Detail, nil); err != nil {
			return err
		}
		r.freeAgent(ctx, agent, false, started)
		return r.ladder.EscalateHuman(ctx, agent.OrganizationID, task.ID, decision.Reason+": "+decision.Detail)
	}
	if decision.Warning != "" {
		r.logger.Warn("gate warning", "task_id", task.ID, "warning", decision.Warning)
	}

	if err := r.applyOutput(ws, task, res.Output); err != nil {
		r.record(ctx, agent, task, started, models.OutcomeFailedError, res, err.Error())
		return r.failClaimed(ctx, agent, task, err.Error())
	}

	review, err := r.sandbox.Publish(ctx, ws, task.Title, task.Description)
	if err != nil {
		r.record(ctx, agent, task, started, models.OutcomeFailedError, res, err.Error())
		return r.failClaimed(ctx, agent, task, err.Error())
	}

	// Rework republishes to the same branch, so the existing change set is
	// revived rather than duplicated.
	var csID string
	if task.ChangeSetID != nil {
		csID = *task.ChangeSetID
		if err := r.store.MarkChangeSetReady(ctx, csID); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	} else {
		cs := &models.ChangeSet{
			TaskID:        task.ID,
			ProjectID:     project.ID,
			BranchName:    ws.Branch,
			ReviewNumber:  &review.Number,
			ReviewURL:     &review.URL,
			AuthorAgentID: agent.ID,
			Status:        models.ChangeSetStatusReadyForReview,
		}
		if err := r.store.CreateChangeSet(ctx, cs); err != nil {
			return err
		}
		csID = cs.ID
	}
	if err := r.store.AttachChangeSet(ctx, task.ID, csID); err != nil {
		return err
	}
	if err := r.store.ClearConsecutiveFailures(ctx, task.ID); err != nil {
		return err
	}
	r.record(ctx, agent, task, started, models.OutcomePublished, res, "")
	r.freeAgent(ctx, agent, true, started)
	// A shared (subtask) worktree stays for the rest of the family; failed
	// cycles never reach this point, so their worktrees stay for diagnosis.
	if anchor.ID == task.ID {
		if err := r.sandbox.Release(context.WithoutCancel(ctx), project.WorkingDir, ws, false); err != nil {
			r.logger.Warn("release worktree failed", "task_id", task.ID, "error", err)
		}
	}
	r.logger.Info("cycle published change set",
		"task_id", task.ID, "agent_id", agent.ID, "change_set_id", csID,
		"review_url", review.URL)
	return nil
}

// applyOutput writes the brain output into the workspace. Structured edit
// envelopes are applied file by file; free text becomes a deliverable note
// under the task's path, so every published cycle has a non-empty change set.
func (r *Runner) applyOutput(ws *sandbox.Workspace, task *models.Task, output string) error {
	env, ok := parseEnvelope(output)
	if !ok {
		rel := fmt.Sprintf("docs/tasks/%s.md", ident.Short(task.ID))
		return ws.WriteFile(rel, []byte(output))
	}
	for _, f := range env.Files {
		if f.Delete {
			if err := ws.DeleteFile(f.Path); err != nil {
				return err
			}
			continue
		}
		if err := ws.WriteFile(f.Path, []byte(f.Content)); err != nil {
			return err
		}
	}
	return nil
}

// heartbeat refreshes the claim until the cycle ends; a lost claim aborts it.
func (r *Runner) heartbeat(ctx context.Context, abort context.CancelFunc, taskID, agentID string) {
	ticker := time.NewTicker(r.loops.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, taskID, agentID); err != nil {
				if errors.Is(err, store.ErrConflict) {
					r.logger.Warn("claim lost mid-cycle, aborting",
						"task_id", taskID, "agent_id", agentID)
					abort()
					return
				}
				r.logger.Warn("heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

func (r *Runner) wallClockCeiling(provider string) time.Duration {
	timeout := config.DefaultBrainTimeout
	if prov, err := r.registry.Get(provider); err == nil && prov.Timeout > 0 {
		timeout = prov.Timeout
	}
	mult := r.loops.WallClockMultiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(mult) * timeout
}

// fail handles a cycle error that happened before any ledger entry: record
// the attempt, run the ladder, free the agent. A cycle killed by the
// wall-clock ceiling is re-labeled WALL_CLOCK whatever step it died in.
func (r *Runner) fail(ctx context.Context, agent *models.Agent, task *models.Task, started time.Time, outcome models.ExecutionOutcome, reason string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome = models.OutcomeWallClock
		reason = "WALL_CLOCK: " + reason
	}
	r.record(ctx, agent, task, started, outcome, nil, reason)
	return r.failClaimed(ctx, agent, task, reason)
}

// failClaimed runs the ladder on an already-ledgered failure. Bookkeeping
// must outlive the (possibly expired) cycle context.
func (r *Runner) failClaimed(ctx context.Context, agent *models.Agent, task *models.Task, reason string) error {
	dbCtx := context.WithoutCancel(ctx)
	if _, err := r.ladder.HandleFailure(dbCtx, agent.OrganizationID, task, reason); err != nil {
		r.logger.Error("ladder failed", "task_id", task.ID, "error", err)
	}
	r.freeAgent(dbCtx, agent, false, r.clock.Now())
	return fmt.Errorf("cycle failed for task %s: %s", task.ID, reason)
}

func (r *Runner) record(ctx context.Context, agent *models.Agent, task *models.Task, started time.Time, outcome models.ExecutionOutcome, res *brain.Result, errMsg string) {
	rec := &models.ExecutionRecord{
		TaskID:         task.ID,
		AgentID:        agent.ID,
		OrganizationID: agent.OrganizationID,
		StartedAt:      started,
		EndedAt:        r.clock.Now(),
		Outcome:        outcome,
	}
	if res != nil {
		rec.InputTokens = res.InputTokens
		rec.OutputTokens = res.OutputTokens
		rec.CostSubCents = res.CostSubCents
		rec.BrainDurationMS = res.BrainDuration.Milliseconds()
	}
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	if err := r.store.RecordExecution(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Error("recording execution failed", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) freeAgent(ctx context.Context, agent *models.Agent, success bool, started time.Time) {
	dur := r.clock.Now().Sub(started).Milliseconds()
	if err := r.store.RecordAgentOutcome(ctx, agent.ID, success, dur); err != nil {
		r.logger.Warn("recording agent outcome failed", "agent_id", agent.ID, "error", err)
	}
	if err := r.store.SetAgentStatus(ctx, agent.ID, models.AgentStatusWorking, models.AgentStatusIdle, nil); err != nil && !errors.Is(err, store.ErrConflict) {
		r.logger.Warn("freeing agent failed", "agent_id", agent.ID, "error", err)
	}
}
