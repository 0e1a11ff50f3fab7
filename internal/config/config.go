// Package config loads codemend settings from the workspace config file and
// the environment.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/codemend/verify"
)

const dirName = ".codemend"

// Dir returns the workspace-local configuration directory.
func Dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName)
}

// DefaultPath returns .codemend/config.yaml within the workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(Dir(workspace), "config.yaml")
}

// Config matches .codemend/config.yaml.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Execution ExecutionConfig `yaml:"execution"`
	Weights   verify.Weights  `yaml:"weights"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
}

// LLMConfig selects and tunes the text-generation backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"CODEMEND_PROVIDER, overwrite" validate:"oneof=ollama openai"`
	Endpoint    string        `yaml:"endpoint" env:"OLLAMA_HOST, overwrite" validate:"required,url"`
	Model       string        `yaml:"model" env:"CODEMEND_MODEL, overwrite" validate:"required"`
	APIKey      string        `yaml:"api_key,omitempty" env:"OPENAI_API_KEY, overwrite"`
	BaseURL     string        `yaml:"base_url,omitempty" env:"OPENAI_BASE_URL, overwrite" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" env:"CODEMEND_BACKEND_TIMEOUT, overwrite" validate:"gt=0"`
	MaxTokens   int           `yaml:"max_tokens" env:"CODEMEND_MAX_TOKENS, overwrite" validate:"gt=0"`
	Temperature float64       `yaml:"temperature" env:"CODEMEND_TEMPERATURE, overwrite" validate:"gte=0,lte=2"`
	// RateLimit caps backend requests per second; zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit" env:"CODEMEND_RATE_LIMIT, overwrite" validate:"gte=0"`
	Retries   int     `yaml:"retries" env:"CODEMEND_BACKEND_RETRIES, overwrite" validate:"gte=0,lte=10"`
}

// AgentConfig bounds the tool loop and the fix loop.
type AgentConfig struct {
	MaxToolRounds    int           `yaml:"max_tool_rounds" env:"CODEMEND_MAX_TOOL_ROUNDS, overwrite" validate:"gte=0"`
	MaxFixIterations int           `yaml:"max_fix_iterations" env:"CODEMEND_MAX_ITERATIONS, overwrite" validate:"gte=1"`
	Threshold        int           `yaml:"threshold" env:"CODEMEND_THRESHOLD, overwrite" validate:"gte=1,lte=100"`
	Parallelism      int           `yaml:"parallelism" env:"CODEMEND_PARALLELISM, overwrite" validate:"gte=1"`
	ToolTimeout      time.Duration `yaml:"tool_timeout" env:"CODEMEND_TOOL_TIMEOUT, overwrite" validate:"gt=0"`
	ToolAssisted     bool          `yaml:"tool_assisted" env:"CODEMEND_TOOL_ASSISTED, overwrite"`
	// MaxCodeLength truncates input files, in bytes. Zero disables truncation.
	MaxCodeLength int `yaml:"max_code_length" env:"CODEMEND_MAX_CODE_LENGTH, overwrite" validate:"gte=0"`
}

// ExecutionConfig controls run_code and profile_code.
type ExecutionConfig struct {
	Enabled bool          `yaml:"enabled" env:"CODEMEND_EXECUTION_ENABLED, overwrite"`
	Timeout time.Duration `yaml:"timeout" env:"CODEMEND_EXECUTION_TIMEOUT, overwrite" validate:"gt=0"`
}

// LoggingConfig describes log and telemetry output.
type LoggingConfig struct {
	Level         string `yaml:"level" env:"CODEMEND_LOG_LEVEL, overwrite" validate:"oneof=debug info warn error"`
	Format        string `yaml:"format" env:"CODEMEND_LOG_FORMAT, overwrite" validate:"oneof=text json"`
	TelemetryFile string `yaml:"telemetry_file,omitempty" env:"CODEMEND_TELEMETRY_FILE, overwrite"`
	MetricsFile   string `yaml:"metrics_file,omitempty" env:"CODEMEND_METRICS_FILE, overwrite"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path     string `yaml:"path" env:"CODEMEND_STORE, overwrite"`
	Disabled bool   `yaml:"disabled" env:"CODEMEND_STORE_DISABLED, overwrite"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "qwen2.5-coder:1.5b",
			Timeout:     90 * time.Second,
			MaxTokens:   3000,
			Temperature: 0.2,
			Retries:     3,
		},
		Agent: AgentConfig{
			MaxToolRounds:    5,
			MaxFixIterations: 3,
			Threshold:        85,
			Parallelism:      2,
			ToolTimeout:      30 * time.Second,
			MaxCodeLength:    10000,
		},
		Execution: ExecutionConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Weights: verify.DefaultWeights(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Path: filepath.Join(dirName, "history.db"),
		},
	}
}

var validate = validator.New()

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Weights.Total() == 0 {
		return errors.New("invalid config: weights sum to zero")
	}
	return nil
}

// Load applies defaults, then the file at path when it exists, then
// environment overrides, and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, env envconfig.Lookuper) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: env}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ResolvePath anchors a workspace-relative path. Empty paths stay empty.
func ResolvePath(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
