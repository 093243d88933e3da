// Package config holds the runtime configuration for apprentice.
// Configuration is plain structs loaded from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	StorePath string        `yaml:"store_path"` // SQLite database path
	LogLevel  string        `yaml:"log_level"`
	LLM       LLMConfig     `yaml:"llm"`
	Distill   DistillConfig `yaml:"distill"`
	Engine    EngineConfig  `yaml:"engine"`
}

// LLMConfig configures the model provider boundary.
type LLMConfig struct {
	Provider     string        `yaml:"provider"` // anthropic, openai, gemini
	APIKey       string        `yaml:"api_key"`
	TeacherModel string        `yaml:"teacher_model"` // empty uses the provider default
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"` // transient provider errors
}

// DistillConfig tunes the distillation scheduler and student monitor.
type DistillConfig struct {
	// MinTrainingRecords is the record count that triggers a fine-tuning
	// submission for an aligned signature.
	MinTrainingRecords int `yaml:"min_training_records"`

	// FailureWindow is the number of most recent student-served calls
	// considered by the rolling failure-rate monitor.
	FailureWindow int `yaml:"failure_window"`

	// FailureThreshold demotes the student when the rolling failure rate
	// exceeds it. Demotion is immediate, not debounced.
	FailureThreshold float64 `yaml:"failure_threshold"`

	// MinFailureSamples is the smallest number of student-served calls the
	// monitor requires before the failure rate is considered meaningful.
	MinFailureSamples int `yaml:"min_failure_samples"`

	// PollInterval is how often pending fine-tuning jobs are polled.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EngineConfig tunes the call path.
type EngineConfig struct {
	// MaxRepairAttempts bounds the repair loop; it is the number of extra
	// prompts issued after the first decode failure.
	MaxRepairAttempts int `yaml:"max_repair_attempts"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		StorePath: "apprentice.db",
		LogLevel:  "info",
		LLM: LLMConfig{
			Provider:   "anthropic",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Distill: DistillConfig{
			MinTrainingRecords: 200,
			FailureWindow:      50,
			FailureThreshold:   0.15,
			MinFailureSamples:  5,
			PollInterval:       30 * time.Second,
		},
		Engine: EngineConfig{
			MaxRepairAttempts: 2,
		},
	}
}

// Load reads a YAML config file and applies environment overrides.
// A missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides credentials and provider selection from the
// environment. An API key set in the file wins over the environment.
func applyEnv(cfg *Config) {
	if cfg.LLM.APIKey != "" {
		return
	}
	for _, p := range []struct {
		envVar   string
		provider string
	}{
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "gemini"},
	} {
		if key := os.Getenv(p.envVar); key != "" {
			cfg.LLM.APIKey = key
			if cfg.LLM.Provider == "" {
				cfg.LLM.Provider = p.provider
			}
			return
		}
	}
}
