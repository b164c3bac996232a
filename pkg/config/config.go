// Package config loads and validates the hollond YAML configuration.
package config

import "os"

// Config is the fully merged and validated runtime configuration.
type Config struct {
	Loops      *LoopsConfig
	Gate       *GateConfig
	Knowledge  *KnowledgeConfig
	Escalation *EscalationConfig
	Sandbox    *SandboxConfig

	BrainProviders *BrainProviderRegistry

	// SchedulerDisabled skips the control-plane loops entirely. Used by test
	// environments; set via HOLLON_DISABLE_SCHEDULER.
	SchedulerDisabled bool
}

// hollonYAML mirrors the hollon.yaml file structure.
type hollonYAML struct {
	Loops          *LoopsConfig                    `yaml:"loops"`
	Gate           *GateConfig                     `yaml:"gate"`
	Knowledge      *KnowledgeConfig                `yaml:"knowledge"`
	Escalation     *EscalationConfig               `yaml:"escalation"`
	Sandbox        *SandboxConfig                  `yaml:"sandbox"`
	BrainProviders map[string]*BrainProviderConfig `yaml:"brain_providers"`
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	BrainProviders int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{BrainProviders: c.BrainProviders.Len()}
}

func schedulerDisabledFromEnv() bool {
	switch os.Getenv("HOLLON_DISABLE_SCHEDULER") {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
