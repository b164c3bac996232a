// Package models defines the persisted entities and enums of the control plane.
package models

// TaskStatus is the task lifecycle state.
type TaskStatus string

// Task lifecycle states. Terminal states are Failed and Cancelled; Blocked is
// recoverable via blocked_until.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusInReview   TaskStatus = "in_review"
	TaskStatusApproved   TaskStatus = "approved"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsValid checks if the task status is a known state.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusInReview, TaskStatusApproved, TaskStatusCompleted,
		TaskStatusBlocked, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskType classifies the work a task represents.
type TaskType string

// Task types. TeamEpic tasks are assigned to teams and decomposed further;
// all other types are leaf tasks executed by a single agent.
const (
	TaskTypeTeamEpic       TaskType = "team_epic"
	TaskTypeImplementation TaskType = "implementation"
	TaskTypeReview         TaskType = "review"
	TaskTypeTest           TaskType = "test"
	TaskTypeDocumentation  TaskType = "documentation"
	TaskTypeSpike          TaskType = "spike"
	TaskTypeOther          TaskType = "other"
)

// IsValid checks if the task type is known.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeTeamEpic, TaskTypeImplementation, TaskTypeReview,
		TaskTypeTest, TaskTypeDocumentation, TaskTypeSpike, TaskTypeOther:
		return true
	default:
		return false
	}
}

// Priority is the task urgency, P1 (most urgent) through P4.
type Priority int

// Priorities. Lower numeric value means higher urgency.
const (
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
	PriorityP3 Priority = 3
	PriorityP4 Priority = 4
)

// IsValid checks that the priority is in the P1..P4 range.
func (p Priority) IsValid() bool {
	return p >= PriorityP1 && p <= PriorityP4
}

// Complexity is the planner's effort estimate. Empty means unknown.
type Complexity string

// Complexity levels.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid checks if the complexity is known. Empty is valid (unset).
func (c Complexity) IsValid() bool {
	switch c {
	case "", ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// AgentStatus is the agent run-time state.
type AgentStatus string

// Agent states. Working implies a non-null current task.
const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusWorking   AgentStatus = "working"
	AgentStatusBlocked   AgentStatus = "blocked"
	AgentStatusReviewing AgentStatus = "reviewing"
	AgentStatusOffline   AgentStatus = "offline"
	AgentStatusError     AgentStatus = "error"
)

// IsValid checks if the agent status is known.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusBlocked,
		AgentStatusReviewing, AgentStatusOffline, AgentStatusError:
		return true
	default:
		return false
	}
}

// AgentLifecycle distinguishes permanent agents from transient subordinates.
type AgentLifecycle string

// Agent lifecycles.
const (
	LifecyclePermanent AgentLifecycle = "permanent"
	LifecycleTransient AgentLifecycle = "transient"
)

// GoalStatus is the goal lifecycle state.
type GoalStatus string

// Goal states.
const (
	GoalStatusActive     GoalStatus = "active"
	GoalStatusDecomposed GoalStatus = "decomposed"
	GoalStatusCompleted  GoalStatus = "completed"
	GoalStatusAbandoned  GoalStatus = "abandoned"
)

// ChangeSetStatus is the change-set review state on the external host.
type ChangeSetStatus string

// Change-set states.
const (
	ChangeSetStatusDraft            ChangeSetStatus = "draft"
	ChangeSetStatusReadyForReview   ChangeSetStatus = "ready_for_review"
	ChangeSetStatusChangesRequested ChangeSetStatus = "changes_requested"
	ChangeSetStatusApproved         ChangeSetStatus = "approved"
	ChangeSetStatusMerged           ChangeSetStatus = "merged"
	ChangeSetStatusClosed           ChangeSetStatus = "closed"
)

// ExecutionOutcome is the terminal result of one execution attempt.
type ExecutionOutcome string

// Execution outcomes recorded per attempt.
const (
	OutcomePublished        ExecutionOutcome = "published"
	OutcomeFailedValidation ExecutionOutcome = "failed_validation"
	OutcomeFailedError      ExecutionOutcome = "failed_error"
	OutcomeWallClock        ExecutionOutcome = "wall_clock"
)
