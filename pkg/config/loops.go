package config

import "time"

// LoopsConfig controls the control-plane tick loops and claim housekeeping.
type LoopsConfig struct {
	// TickInterval is the period of the decompose, execute, and review loops.
	TickInterval time.Duration `yaml:"tick_interval"`

	// HeartbeatInterval is how often an in-flight execution cycle refreshes
	// the claimed task's heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanThreshold is how long a claimed task can go without a heartbeat
	// before orphan recovery resets it to ready.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// OrphanScanInterval is how often the orphan sweep runs.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`

	// GracefulShutdownTimeout bounds the wait for in-flight cycles on stop.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// WallClockMultiplier bounds one execution cycle to this multiple of the
	// brain timeout.
	WallClockMultiplier int `yaml:"wall_clock_multiplier"`
}

// GateConfig controls the quality and cost gate.
type GateConfig struct {
	// MinOutputChars is the presence floor after trimming.
	MinOutputChars int `yaml:"min_output_chars"`

	// SingleExecutionCapFraction of the org daily cap a single execution may
	// cost before the gate refuses with reason COST.
	SingleExecutionCapFraction float64 `yaml:"single_execution_cap_fraction"`
}

// KnowledgeConfig controls layer-5 prior-knowledge retrieval.
type KnowledgeConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// EscalationConfig controls the escalation ladder timings.
type EscalationConfig struct {
	// ManagerCooldown is the blocked_until offset applied at level 3.
	ManagerCooldown time.Duration `yaml:"manager_cooldown"`

	// HumanDecisionWindow is how long a level-4 escalation waits before the
	// ladder terminates the task at level 5.
	HumanDecisionWindow time.Duration `yaml:"human_decision_window"`
}

// SandboxConfig controls sandbox publication.
type SandboxConfig struct {
	// PublishTimeout bounds one push+open-review attempt.
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	// PublishRetries is the number of transient-failure retries.
	PublishRetries int `yaml:"publish_retries"`
}
