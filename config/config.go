// Package config loads the YAML configuration file with sane defaults.
// The API key may also come from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Model   ModelConfig   `yaml:"model"`
	Memory  MemoryConfig  `yaml:"memory"`
	Engine  EngineConfig  `yaml:"engine"`
	Guard   GuardConfig   `yaml:"guard"`
	Logging LoggingConfig `yaml:"logging"`
	// DataDir holds session files, the long-term memory artifact, and
	// the log file. Defaults to ~/.eca.
	DataDir string `yaml:"data_dir"`
}

// Duration accepts human-readable values like "2s" or "10m" in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// APIConfig names the model provider and its credentials.
type APIConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// ModelConfig holds sampling and retry settings for model calls.
type ModelConfig struct {
	Name           string   `yaml:"name"`
	Temperature    float64  `yaml:"temperature"`
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseDelay      Duration `yaml:"base_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// MemoryConfig bounds the short-term snapshot and persistence.
type MemoryConfig struct {
	TokenCeiling    int `yaml:"token_ceiling"`
	ProtectedTurns  int `yaml:"protected_turns"`
	StartupMessages int `yaml:"startup_messages"`
	RetainMessages  int `yaml:"retain_messages"`
}

// EngineConfig bounds the autonomous loop.
type EngineConfig struct {
	MaxAutonomousTurns     int      `yaml:"max_autonomous_turns"`
	MaxPlanningRounds      int      `yaml:"max_planning_rounds"`
	StatusInterval         Duration `yaml:"status_interval"`
	IndependentToolBatches bool     `yaml:"independent_tool_batches"`
}

// GuardConfig tunes the repetition guard.
type GuardConfig struct {
	Window    int `yaml:"window"`
	Threshold int `yaml:"threshold"`
}

// LoggingConfig controls the JSON log file.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		API: APIConfig{Provider: "openai"},
		Model: ModelConfig{
			Name:           "gpt-4o",
			Temperature:    0.2,
			MaxAttempts:    3,
			BaseDelay:      Duration(time.Second),
			MaxDelay:       Duration(30 * time.Second),
			AttemptTimeout: Duration(2 * time.Minute),
		},
		Memory: MemoryConfig{
			TokenCeiling:    60000,
			ProtectedTurns:  4,
			StartupMessages: 20,
			RetainMessages:  20,
		},
		Engine: EngineConfig{
			MaxAutonomousTurns: 40,
			MaxPlanningRounds:  3,
			StatusInterval:     Duration(10 * time.Second),
		},
		Guard: GuardConfig{Window: 10, Threshold: 3},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
		DataDir: filepath.Join(home, ".eca"),
	}
}

// Load reads the config file at path (or the default location when path
// is empty) on top of the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = defaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	loadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	if c.Memory.TokenCeiling <= 0 {
		return fmt.Errorf("config: memory.token_ceiling must be positive")
	}
	if c.Model.MaxAttempts <= 0 {
		return fmt.Errorf("config: model.max_attempts must be positive")
	}
	if c.Guard.Threshold <= 0 {
		return fmt.Errorf("config: guard.threshold must be positive")
	}
	return nil
}

func defaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "eca", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "eca", "config.yaml")
}

func loadFromEnv(cfg *Config) {
	if key := os.Getenv("ECA_API_KEY"); key != "" {
		cfg.API.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.API.APIKey == "" {
		cfg.API.APIKey = key
	}
	if model := os.Getenv("ECA_MODEL"); model != "" {
		cfg.Model.Name = model
	}
}
