package config

import "time"

// DefaultLoops returns the built-in control-loop defaults.
func DefaultLoops() *LoopsConfig {
	return &LoopsConfig{
		TickInterval:            10 * time.Second,
		HeartbeatInterval:       30 * time.Second,
		OrphanThreshold:         5 * time.Minute,
		OrphanScanInterval:      5 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		WallClockMultiplier:     20,
	}
}

// DefaultGate returns the built-in gate defaults.
func DefaultGate() *GateConfig {
	return &GateConfig{
		MinOutputChars:             10,
		SingleExecutionCapFraction: 0.10,
	}
}

// DefaultKnowledge returns the built-in knowledge-retrieval defaults.
func DefaultKnowledge() *KnowledgeConfig {
	return &KnowledgeConfig{
		TopK:     5,
		MinScore: 0.70,
	}
}

// DefaultEscalation returns the built-in escalation defaults.
func DefaultEscalation() *EscalationConfig {
	return &EscalationConfig{
		ManagerCooldown:     10 * time.Minute,
		HumanDecisionWindow: 48 * time.Hour,
	}
}

// DefaultSandbox returns the built-in sandbox defaults.
func DefaultSandbox() *SandboxConfig {
	return &SandboxConfig{
		PublishTimeout: 30 * time.Second,
		PublishRetries: 3,
	}
}

// DefaultBrainTimeout applies when a provider omits its timeout.
const DefaultBrainTimeout = 300 * time.Second
