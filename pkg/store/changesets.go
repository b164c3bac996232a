package store

import (
	"context"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

const changeSetColumns = `id, task_id, project_id, branch_name, review_number, review_url,
	author_agent_id, reviewer_agent_id, status, review_comments, approved_at, merged_at,
	version, created_at, updated_at`

func scanChangeSet(row pgxRow) (*models.ChangeSet, error) {
	var c models.ChangeSet
	err := row.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.BranchName, &c.ReviewNumber, &c.ReviewURL,
		&c.AuthorAgentID, &c.ReviewerAgentID, &c.Status, &c.ReviewComments, &c.ApprovedAt,
		&c.MergedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChangeSet persists a published change set.
func (s *Store) CreateChangeSet(ctx context.Context, c *models.ChangeSet) error {
	if c.ID == "" {
		c.ID = ident.New()
	}
	if c.Status == "" {
		c.Status = models.ChangeSetStatusReadyForReview
	}
	now := s.clock.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_sets (id, task_id, project_id, branch_name, review_number, review_url,
			author_agent_id, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TaskID, c.ProjectID, c.BranchName, c.ReviewNumber, c.ReviewURL,
		c.AuthorAgentID, c.Status, c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create change set: %w", err)
	}
	return nil
}

// GetChangeSet fetches one change set by id.
func (s *Store) GetChangeSet(ctx context.Context, id string) (*models.ChangeSet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+changeSetColumns+` FROM change_sets WHERE id = $1`, id)
	c, err := scanChangeSet(row)
	if err != nil {
		return nil, notFoundOr(err, "change set "+id)
	}
	return c, nil
}

// AssignReviewer records the chosen reviewer on a change set awaiting review.
// ErrConflict when a reviewer is already set, so concurrent review loops pick
// each change set exactly once.
func (s *Store) AssignReviewer(ctx context.Context, changeSetID, reviewerAgentID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET reviewer_agent_id = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND reviewer_agent_id IS NULL AND status = $4`,
		changeSetID, reviewerAgentID, s.clock.Now(), models.ChangeSetStatusReadyForReview)
	if err != nil {
		return fmt.Errorf("assign reviewer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetChangeSet(ctx, changeSetID); err != nil {
			return err
		}
		return fmt.Errorf("change set %s already has a reviewer: %w", changeSetID, ErrConflict)
	}
	return nil
}

// RecordReviewVerdict CAS-moves the change set from READY_FOR_REVIEW to
// APPROVED or CHANGES_REQUESTED, keeping the reviewer's comments.
func (s *Store) RecordReviewVerdict(ctx context.Context, changeSetID string, to models.ChangeSetStatus, comments string) error {
	now := s.clock.Now()
	var approvedAt any
	if to == models.ChangeSetStatusApproved {
		approvedAt = now
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET status = $2, review_comments = $3, approved_at = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $1 AND status = $6`,
		changeSetID, to, comments, approvedAt, now, models.ChangeSetStatusReadyForReview)
	if err != nil {
		return fmt.Errorf("record review verdict: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("change set %s not awaiting review: %w", changeSetID, ErrConflict)
	}
	return nil
}

// MarkChangeSetReady CAS-moves a reworked DRAFT back to READY_FOR_REVIEW.
func (s *Store) MarkChangeSetReady(ctx context.Context, changeSetID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $4`,
		changeSetID, models.ChangeSetStatusReadyForReview, s.clock.Now(), models.ChangeSetStatusDraft)
	if err != nil {
		return fmt.Errorf("mark change set ready: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("change set %s not in draft: %w", changeSetID, ErrConflict)
	}
	return nil
}

// MarkChangeSetMerged CAS-moves an APPROVED change set to MERGED.
func (s *Store) MarkChangeSetMerged(ctx context.Context, changeSetID string) error {
	now := s.clock.Now()
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET status = $2, merged_at = $3, version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $4`,
		changeSetID, models.ChangeSetStatusMerged, now, models.ChangeSetStatusApproved)
	if err != nil {
		return fmt.Errorf("mark change set merged: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("change set %s not approved: %w", changeSetID, ErrConflict)
	}
	return nil
}

// ReopenChangeSet returns a change set to DRAFT for rework, either after the
// reviewer requested changes or after CI failed an approved change set. The
// reviewer slot is cleared so the next round can pick again.
func (s *Store) ReopenChangeSet(ctx context.Context, changeSetID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET status = $2, reviewer_agent_id = NULL, approved_at = NULL,
		    version = version + 1, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)`,
		changeSetID, models.ChangeSetStatusDraft, s.clock.Now(),
		models.ChangeSetStatusChangesRequested, models.ChangeSetStatusApproved)
	if err != nil {
		return fmt.Errorf("reopen change set: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("change set %s not reworkable: %w", changeSetID, ErrConflict)
	}
	return nil
}

// CloseChangeSet terminally closes a change set (abandoned task).
func (s *Store) CloseChangeSet(ctx context.Context, changeSetID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE change_sets
		SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND status NOT IN ($4, $2)`,
		changeSetID, models.ChangeSetStatusClosed, s.clock.Now(), models.ChangeSetStatusMerged)
	if err != nil {
		return fmt.Errorf("close change set: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("change set %s already terminal: %w", changeSetID, ErrConflict)
	}
	return nil
}

// ListChangeSetsByStatus returns change sets in one status, oldest first.
func (s *Store) ListChangeSetsByStatus(ctx context.Context, status models.ChangeSetStatus) ([]*models.ChangeSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+changeSetColumns+` FROM change_sets
		WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list change sets: %w", err)
	}
	defer rows.Close()

	var sets []*models.ChangeSet
	for rows.Next() {
		c, err := scanChangeSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change set: %w", err)
		}
		sets = append(sets, c)
	}
	return sets, rows.Err()
}

// CountOpenReviewsForAgent counts change sets an agent is currently assigned
// to review; the review loop prefers the least-loaded eligible reviewer.
func (s *Store) CountOpenReviewsForAgent(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM change_sets
		WHERE reviewer_agent_id = $1 AND status = $2`,
		agentID, models.ChangeSetStatusReadyForReview).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open reviews: %w", err)
	}
	return n, nil
}
