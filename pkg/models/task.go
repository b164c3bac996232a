package models

import "time"

// Task is the central work record. Assignment is XOR: at most one of
// AssignedTeamID / AssignedAgentID is non-nil (both nil = draft, invisible to
// the execute loop until assigned).
type Task struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	GoalID    *string `json:"goal_id,omitempty"`

	ParentTaskID *string `json:"parent_task_id,omitempty"`
	Depth        int     `json:"depth"`

	AssignedTeamID  *string `json:"assigned_team_id,omitempty"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`

	Type                 TaskType   `json:"type"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	AcceptanceCriteria   []string   `json:"acceptance_criteria,omitempty"`
	Priority             Priority   `json:"priority"`
	Complexity           Complexity `json:"complexity,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	AffectedFiles        []string   `json:"affected_files,omitempty"`

	Status              TaskStatus `json:"status"`
	RetryCount          int        `json:"retry_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	BlockedUntil        *time.Time `json:"blocked_until,omitempty"`

	CIRetryCount   int        `json:"ci_retry_count"`
	LastCIFailedAt *time.Time `json:"last_ci_failed_at,omitempty"`
	LastCIFeedback *string    `json:"last_ci_feedback,omitempty"`

	ChangeSetID  *string `json:"change_set_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	// LastHeartbeatAt is refreshed while a claiming agent's cycle is alive;
	// stale heartbeats make the task eligible for orphan recovery.
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task hard caps (decomposition rejects plans that exceed them).
const (
	MaxTaskDepth       = 3
	MaxSubtasksPerPlan = 10
	MaxTaskRetries     = 3
	MaxCIRetries       = 3
)

// IsAssigned reports whether the task is visible to any claimer.
func (t *Task) IsAssigned() bool {
	return t.AssignedTeamID != nil || t.AssignedAgentID != nil
}

// ChangeSet references an external branch plus review handle.
type ChangeSet struct {
	ID              string          `json:"id"`
	TaskID          string          `json:"task_id"`
	ProjectID       string          `json:"project_id"`
	BranchName      string          `json:"branch_name"`
	ReviewNumber    *int            `json:"review_number,omitempty"`
	ReviewURL       *string         `json:"review_url,omitempty"`
	AuthorAgentID   string          `json:"author_agent_id"`
	ReviewerAgentID *string         `json:"reviewer_agent_id,omitempty"`
	Status          ChangeSetStatus `json:"status"`
	ReviewComments  *string         `json:"review_comments,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	MergedAt        *time.Time      `json:"merged_at,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
