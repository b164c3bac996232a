package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read hollon.yaml from configDir (optional; defaults apply when absent)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Build the provider registry
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAML(configDir)
	if err != nil {
		return nil, err
	}

	cfg, err := merge(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"brain_providers", stats.BrainProviders,
		"scheduler_disabled", cfg.SchedulerDisabled)
	return cfg, nil
}

func loadYAML(configDir string) (*hollonYAML, error) {
	path := filepath.Join(configDir, "hollon.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("No hollon.yaml found, using built-in defaults", "path", path)
			return &hollonYAML{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var raw hollonYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &raw, nil
}

// merge layers user values over built-in defaults (user wins).
func merge(raw *hollonYAML) (*Config, error) {
	cfg := &Config{
		Loops:             DefaultLoops(),
		Gate:              DefaultGate(),
		Knowledge:         DefaultKnowledge(),
		Escalation:        DefaultEscalation(),
		Sandbox:           DefaultSandbox(),
		SchedulerDisabled: schedulerDisabledFromEnv(),
	}

	if raw.Loops != nil {
		if err := mergo.Merge(cfg.Loops, raw.Loops, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Gate != nil {
		if err := mergo.Merge(cfg.Gate, raw.Gate, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Knowledge != nil {
		if err := mergo.Merge(cfg.Knowledge, raw.Knowledge, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Escalation != nil {
		if err := mergo.Merge(cfg.Escalation, raw.Escalation, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Sandbox != nil {
		if err := mergo.Merge(cfg.Sandbox, raw.Sandbox, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	providers := make(map[string]*BrainProviderConfig, len(raw.BrainProviders))
	for name, p := range raw.BrainProviders {
		cp := *p
		if cp.Timeout <= 0 {
			cp.Timeout = DefaultBrainTimeout
		}
		providers[name] = &cp
	}
	cfg.BrainProviders = NewBrainProviderRegistry(providers)

	return cfg, nil
}

func validate(raw *hollonYAML) error {
	for name, p := range raw.BrainProviders {
		if !p.Transport.IsValid() {
			return NewValidationError("brain_provider", name, "transport", ErrInvalidValue)
		}
		if p.Model == "" {
			return NewValidationError("brain_provider", name, "model", ErrMissingRequiredField)
		}
		switch p.Transport {
		case TransportStdio:
			if p.Command == "" {
				return NewValidationError("brain_provider", name, "command", ErrMissingRequiredField)
			}
		case TransportHTTP:
			if p.URL == "" {
				return NewValidationError("brain_provider", name, "url", ErrMissingRequiredField)
			}
		}
		if p.InputRateSubCentsPer1K < 0 || p.OutputRateSubCentsPer1K < 0 {
			return NewValidationError("brain_provider", name, "token_rates", ErrInvalidValue)
		}
	}

	if raw.Gate != nil {
		if raw.Gate.SingleExecutionCapFraction < 0 || raw.Gate.SingleExecutionCapFraction > 1 {
			return NewValidationError("gate", "gate", "single_execution_cap_fraction", ErrInvalidValue)
		}
	}
	if raw.Knowledge != nil {
		if raw.Knowledge.MinScore < 0 || raw.Knowledge.MinScore > 1 {
			return NewValidationError("knowledge", "knowledge", "min_score", ErrInvalidValue)
		}
		if raw.Knowledge.TopK < 0 {
			return NewValidationError("knowledge", "knowledge", "top_k", ErrInvalidValue)
		}
	}
	return nil
}
