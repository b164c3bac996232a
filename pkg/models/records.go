package models

import "time"

// ExecutionRecord is the append-only per-attempt ledger entry. Cost fields
// come from the brain gateway's measured token counts.
type ExecutionRecord struct {
	ID              string           `json:"id"`
	TaskID          string           `json:"task_id"`
	AgentID         string           `json:"agent_id"`
	OrganizationID  string           `json:"organization_id"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	Outcome         ExecutionOutcome `json:"outcome"`
	InputTokens     int64            `json:"input_tokens"`
	OutputTokens    int64            `json:"output_tokens"`
	CostSubCents    int64            `json:"cost_sub_cents"`
	BrainDurationMS int64            `json:"brain_duration_ms"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CostWindow is the rolled-up cost for an organization in the current daily
// and monthly windows. The execution-record ledger is primary; this roll-up
// is derived and eventually consistent.
type CostWindow struct {
	OrganizationID   string    `json:"organization_id"`
	Day              string    `json:"day"`   // YYYY-MM-DD (UTC)
	Month            string    `json:"month"` // YYYY-MM (UTC)
	DailySubCents    int64     `json:"daily_sub_cents"`
	MonthlySubCents  int64     `json:"monthly_sub_cents"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EscalationLevel identifies a rung of the escalation ladder.
type EscalationLevel int

// Escalation levels 1 (self-retry) through 5 (terminal).
const (
	EscalationSelfRetry EscalationLevel = 1
	EscalationTeammate  EscalationLevel = 2
	EscalationManager   EscalationLevel = 3
	EscalationHuman     EscalationLevel = 4
	EscalationTerminal  EscalationLevel = 5
)

// EscalationRecord documents one rung of the ladder being invoked. TaskID is
// nil for organization-level escalations (budget cap trips).
type EscalationRecord struct {
	ID               string          `json:"id"`
	TaskID           *string         `json:"task_id,omitempty"`
	OrganizationID   string          `json:"organization_id"`
	Level            EscalationLevel `json:"level"`
	Reason           string          `json:"reason"`
	RequestedAgentID *string         `json:"requested_agent_id,omitempty"`
	ResolverAgentID  *string         `json:"resolver_agent_id,omitempty"`
	ResolverHuman    *string         `json:"resolver_human,omitempty"`
	Decision         *string         `json:"decision,omitempty"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// KnowledgeArtifact is written by the extraction collaborator after task
// completion. The core only reads artifacts (layer-5 retrieval) and emits the
// completion event that triggers extraction.
type KnowledgeArtifact struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	TaskID         *string   `json:"task_id,omitempty"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// KnowledgeMatch pairs an artifact with its cosine similarity score.
type KnowledgeMatch struct {
	Artifact *KnowledgeArtifact `json:"artifact"`
	Score    float64            `json:"score"`
}
