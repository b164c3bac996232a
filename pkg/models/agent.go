package models

import "time"

// Agent is the execution principal ("hollon"). Transient agents carry a
// creator pointer and a pre-computed depth; permanent agents are depth 0.
type Agent struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	TeamID         *string        `json:"team_id,omitempty"`
	RoleID         string         `json:"role_id"`
	Name           string         `json:"name"`
	BrainProvider  string         `json:"brain_provider"`
	CustomPrompt   string         `json:"custom_prompt,omitempty"`
	Lifecycle      AgentLifecycle `json:"lifecycle"`
	Status         AgentStatus    `json:"status"`
	CreatorAgentID *string        `json:"creator_agent_id,omitempty"`
	Depth          int            `json:"depth"`
	CurrentTaskID  *string        `json:"current_task_id,omitempty"`
	// OriginTaskID is the task a transient agent was created for; the sweep
	// destroys the agent when that task terminates.
	OriginTaskID *string `json:"origin_task_id,omitempty"`

	MaxConcurrentTasks int `json:"max_concurrent_tasks"`

	// Performance counters, updated on every execution record.
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	AvgDurationMS  int64   `json:"avg_duration_ms"`
	SuccessRate    float64 `json:"success_rate"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxTransientDepth is the hard cap on transient-agent subordination depth.
const MaxTransientDepth = 3

// Goal is a top-level unit of work submitted by a human.
type Goal struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	ProjectID       string     `json:"project_id"`
	OwnerAgentID    string     `json:"owner_agent_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	SuccessCriteria []string   `json:"success_criteria"`
	Status          GoalStatus `json:"status"`
	// Decomposed is monotonic false→true; the CAS flip makes double
	// decomposition impossible.
	Decomposed      bool    `json:"decomposed"`
	DecomposeRetry  int     `json:"decompose_retry"`
	ErrorMessage    *string `json:"error_message,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
