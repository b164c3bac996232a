package models

import "time"

// Organization is the tenancy boundary. All cost caps are integer sub-cents
// (1/100 of a cent) to avoid floating-point accounting.
type Organization struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ContextPrompt      string     `json:"context_prompt"`
	DailyCapSubCents   int64      `json:"daily_cap_sub_cents"`
	MonthlyCapSubCents int64      `json:"monthly_cap_sub_cents"`
	MaxConcurrent      int        `json:"max_concurrent"`
	AutonomousEnabled  bool       `json:"autonomous_enabled"`
	LastStopReason     *string    `json:"last_stop_reason,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	StoppedAt          *time.Time `json:"stopped_at,omitempty"`
}

// Role is a capability profile applied to agents.
type Role struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	Name              string    `json:"name"`
	SystemPrompt      string    `json:"system_prompt"`
	Capabilities      []string  `json:"capabilities"`
	TransientEligible bool      `json:"transient_eligible"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Team groups agents under an optional parent team with a designated manager.
type Team struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	Name              string    `json:"name"`
	ParentTeamID      *string   `json:"parent_team_id,omitempty"`
	ManagerAgentID    *string   `json:"manager_agent_id,omitempty"`
	DescriptionPrompt string    `json:"description_prompt"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Project is a target repository belonging to an organization.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	HostURL        string    `json:"host_url"`
	WorkingDir     string    `json:"working_dir"`
	Status         string    `json:"status"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
