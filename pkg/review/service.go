// Package review drives change sets from publication to merge: reviewer
// selection, the review verdict, CI polling, and auto-merge.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/events"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/sandbox"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Service runs the review and CI side of the pipeline.
type Service struct {
	store     *store.Store
	gateway   *brain.Gateway
	host      sandbox.Host
	ladder    *escalation.Ladder
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewService wires a review Service.
func NewService(st *store.Store, gateway *brain.Gateway, host sandbox.Host,
	ladder *escalation.Ladder, publisher *events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		gateway:   gateway,
		host:      host,
		ladder:    ladder,
		publisher: publisher,
		logger:    logger.With("component", "review"),
	}
}

// ProcessReadyForReview assigns reviewers and collects verdicts for every
// change set awaiting review. Per-change-set errors are logged and skipped
// so one bad review never stalls the queue.
func (s *Service) ProcessReadyForReview(ctx context.Context) {
	sets, err := s.store.ListChangeSetsByStatus(ctx, models.ChangeSetStatusReadyForReview)
	if err != nil {
		s.logger.Error("listing review queue failed", "error", err)
		return
	}
	for _, cs := range sets {
		if err := s.reviewOne(ctx, cs); err != nil {
			s.logger.Error("review failed", "change_set_id", cs.ID, "error", err)
		}
	}
}

func (s *Service) reviewOne(ctx context.Context, cs *models.ChangeSet) error {
	task, err := s.store.GetTask(ctx, cs.TaskID)
	if err != nil {
		return err
	}

	// CI runs from the moment of publication, so a change set that is already
	// red goes straight back for rework without consuming a reviewer.
	if cs.ReviewNumber != nil {
		state, feedback, err := s.host.CIStatus(ctx, cs.ProjectID, *cs.ReviewNumber)
		if err != nil {
			return err
		}
		if state == sandbox.CIFailed {
			return s.handleCIFailure(ctx, cs, feedback)
		}
	}

	author, err := s.store.GetAgent(ctx, cs.AuthorAgentID)
	if err != nil {
		return err
	}

	reviewer, err := s.resolveReviewer(ctx, cs, task, author)
	if err != nil {
		return err
	}

	verdict, comments, err := s.runReview(ctx, reviewer, task, cs)
	if err != nil {
		return err
	}

	if err := s.store.RecordReviewVerdict(ctx, cs.ID, verdict, comments); err != nil {
		return err
	}
	if verdict == models.ChangeSetStatusApproved {
		if err := s.store.SetTaskStatus(ctx, task.ID, models.TaskStatusInReview, models.TaskStatusApproved); err != nil {
			return err
		}
		s.logger.Info("change set approved",
			"change_set_id", cs.ID, "task_id", task.ID, "reviewer", reviewer.ID)
		return nil
	}

	// Changes requested: the change set reopens as draft and the task goes
	// back to the author with the comments verbatim.
	if err := s.store.ReopenChangeSet(ctx, cs.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	if err := s.store.RequestChanges(ctx, task.ID, comments); err != nil {
		return err
	}
	s.logger.Info("changes requested",
		"change_set_id", cs.ID, "task_id", task.ID, "reviewer", reviewer.ID)
	return nil
}

// resolveReviewer returns the change set's reviewer, electing one when the
// slot is empty: an idle non-author agent whose capabilities cover the review
// category, least-loaded first; if nobody qualifies, a transient reviewer is
// spawned under the author.
func (s *Service) resolveReviewer(ctx context.Context, cs *models.ChangeSet, task *models.Task, author *models.Agent) (*models.Agent, error) {
	if cs.ReviewerAgentID != nil {
		return s.store.GetAgent(ctx, *cs.ReviewerAgentID)
	}

	category := Classify(task)
	candidate, err := s.electReviewer(ctx, author, category)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		candidate, err = s.spawnTransientReviewer(ctx, author, task)
		if err != nil {
			return nil, err
		}
	}
	if err := s.store.AssignReviewer(ctx, cs.ID, candidate.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Raced another loop; use whoever won.
			fresh, gerr := s.store.GetChangeSet(ctx, cs.ID)
			if gerr != nil {
				return nil, gerr
			}
			if fresh.ReviewerAgentID != nil {
				return s.store.GetAgent(ctx, *fresh.ReviewerAgentID)
			}
		}
		return nil, err
	}
	return candidate, nil
}

func (s *Service) electReviewer(ctx context.Context, author *models.Agent, category Category) (*models.Agent, error) {
	idle, err := s.store.ListIdleAgents(ctx, author.OrganizationID)
	if err != nil {
		return nil, err
	}

	var best *models.Agent
	bestLoad := -1
	for _, a := range idle {
		if a.ID == author.ID {
			continue
		}
		if category != CategoryGeneral {
			role, err := s.store.GetRole(ctx, a.RoleID)
			if err != nil {
				return nil, err
			}
			if !hasCapability(role.Capabilities, string(category)) {
				continue
			}
		}
		load, err := s.store.CountOpenReviewsForAgent(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if best == nil || load < bestLoad {
			best, bestLoad = a, load
		}
	}
	return best, nil
}

func (s *Service) spawnTransientReviewer(ctx context.Context, author *models.Agent, task *models.Task) (*models.Agent, error) {
	if author.Depth+1 > models.MaxTransientDepth {
		return nil, fmt.Errorf("author %s at depth %d cannot spawn a reviewer: %w",
			author.ID, author.Depth, store.ErrInvariantViolation)
	}
	role, err := s.reviewerRole(ctx, author)
	if err != nil {
		return nil, err
	}
	reviewer := &models.Agent{
		OrganizationID: author.OrganizationID,
		TeamID:         author.TeamID,
		RoleID:         role.ID,
		Name:           "reviewer-" + task.ID[:8],
		BrainProvider:  author.BrainProvider,
		Lifecycle:      models.LifecycleTransient,
		CreatorAgentID: &author.ID,
		Depth:          author.Depth + 1,
		OriginTaskID:   &task.ID,
	}
	if err := s.store.CreateAgent(ctx, reviewer); err != nil {
		return nil, err
	}
	s.logger.Info("transient reviewer spawned",
		"reviewer_id", reviewer.ID, "task_id", task.ID, "creator", author.ID)
	return reviewer, nil
}

// reviewerRole prefers a role literally named "reviewer", then any
// transient-eligible role with review capability, then the author's own role
// when it allows transients.
func (s *Service) reviewerRole(ctx context.Context, author *models.Agent) (*models.Role, error) {
	if r, err := s.store.FindRoleByName(ctx, author.OrganizationID, "reviewer"); err == nil {
		return r, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx, author.OrganizationID)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.TransientEligible && hasCapability(r.Capabilities, "review") {
			return r, nil
		}
	}
	own, err := s.store.GetRole(ctx, author.RoleID)
	if err != nil {
		return nil, err
	}
	if own.TransientEligible {
		return own, nil
	}
	return nil, fmt.Errorf("no transient-eligible reviewer role in organization %s: %w",
		author.OrganizationID, store.ErrNotFound)
}

type reviewVerdict struct {
	Verdict  string `json:"verdict"`
	Comments string `json:"comments"`
}

func (s *Service) runReview(ctx context.Context, reviewer *models.Agent, task *models.Task, cs *models.ChangeSet) (models.ChangeSetStatus, string, error) {
	res, err := s.gateway.Invoke(ctx, brain.Request{
		Provider: reviewer.BrainProvider,
		Prompt:   reviewPrompt(task, cs),
	})
	if err != nil {
		return "", "", err
	}
	raw := strings.TrimSpace(res.Output)
	if i := strings.Index(raw, "{"); i > 0 {
		raw = raw[i:]
	}
	if j := strings.LastIndex(raw, "}"); j >= 0 {
		raw = raw[:j+1]
	}
	var v reviewVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", "", fmt.Errorf("review verdict unparsable: %v: %w", err, brain.ErrParse)
	}
	switch strings.ToLower(v.Verdict) {
	case "approve", "approved":
		return models.ChangeSetStatusApproved, v.Comments, nil
	case "changes_requested", "request_changes":
		if v.Comments == "" {
			return "", "", fmt.Errorf("changes requested without comments: %w", brain.ErrParse)
		}
		return models.ChangeSetStatusChangesRequested, v.Comments, nil
	default:
		return "", "", fmt.Errorf("unknown verdict %q: %w", v.Verdict, brain.ErrParse)
	}
}

func reviewPrompt(task *models.Task, cs *models.ChangeSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the change set on branch %s for this task.\n\nTask: %s\n%s\n",
		cs.BranchName, task.Title, task.Description)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if cs.ReviewURL != nil {
		fmt.Fprintf(&b, "\nReview URL: %s\n", *cs.ReviewURL)
	}
	b.WriteString(`
Reply with JSON only:
{"verdict": "approve" | "changes_requested", "comments": "..."}
Comments are mandatory when requesting changes.`)
	return b.String()
}

// ProcessApproved polls CI on approved change sets, auto-merging green ones
// and cycling red ones back through the author.
func (s *Service) ProcessApproved(ctx context.Context) {
	sets, err := s.store.ListChangeSetsByStatus(ctx, models.ChangeSetStatusApproved)
	if err != nil {
		s.logger.Error("listing approved change sets failed", "error", err)
		return
	}
	for _, cs := range sets {
		if err := s.settleApproved(ctx, cs); err != nil {
			s.logger.Error("settling change set failed", "change_set_id", cs.ID, "error", err)
		}
	}
}

func (s *Service) settleApproved(ctx context.Context, cs *models.ChangeSet) error {
	if cs.ReviewNumber == nil {
		return fmt.Errorf("change set %s has no review number: %w", cs.ID, store.ErrInvariantViolation)
	}
	state, feedback, err := s.host.CIStatus(ctx, cs.ProjectID, *cs.ReviewNumber)
	if err != nil {
		return err
	}
	switch state {
	case sandbox.CIPending:
		return nil
	case sandbox.CIPassed:
		return s.merge(ctx, cs)
	case sandbox.CIFailed:
		return s.handleCIFailure(ctx, cs, feedback)
	default:
		return fmt.Errorf("unknown CI state %q", state)
	}
}

func (s *Service) merge(ctx context.Context, cs *models.ChangeSet) error {
	if err := s.host.Merge(ctx, cs.ProjectID, *cs.ReviewNumber); err != nil {
		return err
	}
	if err := s.store.MarkChangeSetMerged(ctx, cs.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	task, err := s.store.GetTask(ctx, cs.TaskID)
	if err != nil {
		return err
	}
	promoted, err := s.store.CompleteTask(ctx, task.ID, models.TaskStatusApproved)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}

	agent, err := s.store.GetAgent(ctx, cs.AuthorAgentID)
	if err == nil {
		s.publishCompleted(ctx, agent.OrganizationID, task, cs)
	}
	if n, err := s.store.DestroyTransientSubtree(ctx, task.ID); err != nil {
		s.logger.Warn("transient cleanup failed", "task_id", task.ID, "error", err)
	} else if n > 0 {
		s.logger.Info("transient agents destroyed", "task_id", task.ID, "count", n)
	}
	s.logger.Info("change set merged",
		"change_set_id", cs.ID, "task_id", task.ID, "promoted_dependents", len(promoted))
	return nil
}

func (s *Service) publishCompleted(ctx context.Context, orgID string, task *models.Task, cs *models.ChangeSet) {
	ev := events.TaskEvent{
		TaskID:         task.ID,
		OrganizationID: orgID,
		ChangeSetID:    &cs.ID,
	}
	if recs, err := s.store.ListTaskExecutions(ctx, task.ID); err == nil && len(recs) > 0 {
		last := recs[len(recs)-1].ID
		ev.ExecutionRecordID = &last
	}
	s.publisher.Publish(ctx, events.ChannelTaskCompleted, ev)
}

// handleCIFailure sends the task back to the author with the raw CI output,
// or escalates to a human when the CI retry budget is spent.
func (s *Service) handleCIFailure(ctx context.Context, cs *models.ChangeSet, feedback string) error {
	if err := s.store.ReopenChangeSet(ctx, cs.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	n, err := s.store.RecordCIFailure(ctx, cs.TaskID, feedback)
	if err != nil {
		return err
	}
	if n <= models.MaxCIRetries {
		s.logger.Info("CI failed, task returned for rework",
			"change_set_id", cs.ID, "task_id", cs.TaskID, "ci_retry", n)
		return nil
	}

	// Budget exhausted: stop the retry churn and ask a human.
	if err := s.store.SetTaskStatus(ctx, cs.TaskID, models.TaskStatusReady, models.TaskStatusBlocked); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	author, err := s.store.GetAgent(ctx, cs.AuthorAgentID)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("CI failed %d times; last output attached", n)
	if err := s.ladder.EscalateHuman(ctx, author.OrganizationID, cs.TaskID, reason); err != nil {
		return err
	}
	s.publisher.Publish(ctx, events.ChannelTaskFailed, events.TaskEvent{
		TaskID:         cs.TaskID,
		OrganizationID: author.OrganizationID,
		ChangeSetID:    &cs.ID,
		Reason:         reason,
	})
	return nil
}

func hasCapability(capabilities []string, want string) bool {
	for _, c := range capabilities {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}
