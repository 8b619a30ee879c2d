// Package config loads and validates the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowmill/flowmill/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "200ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WorkspaceConfig locates the managed workspace.
type WorkspaceConfig struct {
	// Root is the workspace directory holding the run store and per-run
	// artifacts.
	Root string `yaml:"root" validate:"required"`

	// RepoDir is the repository directory the resume guard fingerprints.
	// Empty disables change detection.
	RepoDir string `yaml:"repo_dir,omitempty"`
}

// EngineConfig tunes the run engine.
type EngineConfig struct {
	// Durable selects fsync-on-commit for the run store.
	Durable bool `yaml:"durable"`

	// StreamPollInterval is the event stream poll interval.
	StreamPollInterval Duration `yaml:"stream_poll_interval" validate:"required,min=10000000"`

	// ReconcileInterval is the sweep period of the reconcile daemon.
	ReconcileInterval Duration `yaml:"reconcile_interval" validate:"required,min=1000000000"`

	// ReconcileJitter is the random delay added to each sweep so several
	// daemons on one host do not sweep in lockstep.
	ReconcileJitter Duration `yaml:"reconcile_jitter,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	Workspace WorkspaceConfig         `yaml:"workspace"`
	Engine    EngineConfig            `yaml:"engine"`
	Logging   telemetry.LoggingConfig `yaml:"logging"`
	Metrics   telemetry.MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration used when no file is supplied. The
// workspace root still has to be set by the caller.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Durable:            true,
			StreamPollInterval: Duration(200 * time.Millisecond),
			ReconcileInterval:  Duration(30 * time.Second),
			ReconcileJitter:    Duration(5 * time.Second),
		},
		Logging: telemetry.DefaultLoggingConfig(),
		Metrics: telemetry.DefaultMetricsConfig(),
	}
}

// Load reads a YAML config file on top of the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks tagged constraints plus the telemetry sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}
