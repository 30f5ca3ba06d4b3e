// Package config loads engine configuration from YAML. Budgets and
// promotion thresholds are policy knobs, not architecture; everything here
// has a working default.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/deepnoodle-ai/forge/artifact"
	"github.com/goccy/go-yaml"
)

// Budgets are the three independent retry budgets of one invocation.
type Budgets struct {
	GenerationAttempts int `yaml:"generation_attempts" json:"generation_attempts"`
	GuardrailRecovery  int `yaml:"guardrail_recovery" json:"guardrail_recovery"`
	OutcomeRepair      int `yaml:"outcome_repair" json:"outcome_repair"`
}

// WorkerConfig bounds worker subprocess behavior.
type WorkerConfig struct {
	MaxRestarts int           `yaml:"max_restarts" json:"max_restarts"`
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// ContinuityMode selects how shared-state continuity violations are
// handled: logged only, or treated as recoverable guardrail failures.
type ContinuityMode string

const (
	ContinuityShadow   ContinuityMode = "shadow"
	ContinuityEnforced ContinuityMode = "enforced"
)

// Config is the full engine configuration.
type Config struct {
	Budgets        Budgets                   `yaml:"budgets" json:"budgets"`
	RepairCeiling  int                       `yaml:"repair_ceiling" json:"repair_ceiling"`
	Worker         WorkerConfig              `yaml:"worker" json:"worker"`
	ArtifactDir    string                    `yaml:"artifact_dir" json:"artifact_dir"`
	RegistryPath   string                    `yaml:"registry_path" json:"registry_path"`
	EnvironmentDir string                    `yaml:"environment_dir" json:"environment_dir"`
	RecordPath     string                    `yaml:"record_path" json:"record_path"`
	RuntimeVersion string                    `yaml:"runtime_version" json:"runtime_version"`
	Model          string                    `yaml:"model" json:"model"`
	SandboxTimeout time.Duration             `yaml:"sandbox_timeout" json:"sandbox_timeout"`
	Continuity     ContinuityMode            `yaml:"continuity" json:"continuity"`
	Promotion      *artifact.PromotionPolicy `yaml:"promotion" json:"promotion"`
	LogLevel       string                    `yaml:"log_level" json:"log_level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Budgets: Budgets{
			GenerationAttempts: 3,
			GuardrailRecovery:  2,
			OutcomeRepair:      2,
		},
		RepairCeiling:  artifact.DefaultRepairCeiling,
		Worker:         WorkerConfig{MaxRestarts: 3, CallTimeout: 60 * time.Second},
		ArtifactDir:    ".forge/artifacts",
		RegistryPath:   ".forge/registry.json",
		EnvironmentDir: ".forge/environments",
		RecordPath:     ".forge/invocations.jsonl",
		RuntimeVersion: "1",
		SandboxTimeout: 30 * time.Second,
		Continuity:     ContinuityShadow,
		Promotion:      artifact.DefaultPromotionPolicy(),
		LogLevel:       "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects nonsensical settings.
func (c *Config) Validate() error {
	if c.Budgets.GenerationAttempts < 1 {
		return fmt.Errorf("budgets.generation_attempts must be at least 1")
	}
	if c.Budgets.GuardrailRecovery < 0 || c.Budgets.OutcomeRepair < 0 {
		return fmt.Errorf("retry budgets must not be negative")
	}
	if c.Worker.MaxRestarts < 0 {
		return fmt.Errorf("worker.max_restarts must not be negative")
	}
	switch c.Continuity {
	case ContinuityShadow, ContinuityEnforced, "":
	default:
		return fmt.Errorf("continuity must be %q or %q", ContinuityShadow, ContinuityEnforced)
	}
	return nil
}
