// Package config handles configuration loading and management for taskweave.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/taskweave/internal/engine"
	"github.com/ShayCichocki/taskweave/internal/store"
)

// ProjectConfigName is the file searched for in the working directory and
// its parents.
const ProjectConfigName = ".taskweave.yaml"

// Collaborator kinds.
const (
	CollaboratorAnthropic = "anthropic"
	CollaboratorHTTP      = "http"
)

// Config holds all configuration for taskweave.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic" yaml:"anthropic"`
	Collaborator CollaboratorConfig `mapstructure:"collaborator" yaml:"collaborator"`
	Execution    ExecutionConfig    `mapstructure:"execution" yaml:"execution"`
	Parser       ParserConfig       `mapstructure:"parser" yaml:"parser"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	Bedrock    bool   `mapstructure:"bedrock" yaml:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// CollaboratorConfig selects the collaborator that executes tasks.
type CollaboratorConfig struct {
	// Kind is "anthropic" or "http".
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Endpoint is the URL used by the http collaborator.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Timeout bounds each collaborator call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ExecutionConfig holds engine settings.
type ExecutionConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	// Retries is the total number of attempts per task, including the first.
	Retries           int           `mapstructure:"retries" yaml:"retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter            float64       `mapstructure:"jitter" yaml:"jitter"`
	Policy            string        `mapstructure:"policy" yaml:"policy"`
	CompressThreshold int           `mapstructure:"compress_threshold" yaml:"compress_threshold"`
	ResultLimit       int           `mapstructure:"result_limit" yaml:"result_limit"`
}

// ParserConfig holds requirements parser settings.
type ParserConfig struct {
	InferDependencies bool `mapstructure:"infer_dependencies" yaml:"infer_dependencies"`
	// Decompose asks the collaborator to break the input into tasks before
	// falling back to the local parser.
	Decompose bool `mapstructure:"decompose" yaml:"decompose"`
}

// StoreConfig holds run persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Driver  string `mapstructure:"driver" yaml:"driver"`
	// Retention purges runs older than this before each run. Zero keeps
	// every run.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Path is a log file. Empty logs to stderr.
	Path string `mapstructure:"path" yaml:"path"`
}

// RetryPolicy converts the execution settings to an engine retry policy.
func (e ExecutionConfig) RetryPolicy() engine.RetryPolicy {
	p := engine.DefaultRetryPolicy()
	p.MaxAttempts = e.Retries
	p.BaseDelay = e.BaseDelay
	p.MaxDelay = e.MaxDelay
	p.Jitter = e.Jitter
	return p
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKWEAVE_*, ANTHROPIC_API_KEY)
// 2. Project config (.taskweave.yaml in current directory or parent)
// 3. User config (~/.config/taskweave/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TASKWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "TASKWEAVE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Collaborator.Endpoint = os.ExpandEnv(cfg.Collaborator.Endpoint)
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Execution.MaxConcurrency < 1 {
		return fmt.Errorf("execution.max_concurrency must be at least 1, got %d", c.Execution.MaxConcurrency)
	}
	if c.Execution.Retries < 1 {
		return fmt.Errorf("execution.retries must be at least 1, got %d", c.Execution.Retries)
	}
	if c.Execution.BaseDelay < 0 || c.Execution.MaxDelay < 0 {
		return fmt.Errorf("execution delays must not be negative")
	}
	if c.Execution.Jitter < 0 || c.Execution.Jitter > 1 {
		return fmt.Errorf("execution.jitter must be between 0 and 1, got %g", c.Execution.Jitter)
	}
	if _, err := engine.ParseFailurePolicy(c.Execution.Policy); err != nil {
		return fmt.Errorf("execution.policy: %w", err)
	}
	if c.Collaborator.Timeout < 0 {
		return fmt.Errorf("collaborator.timeout must not be negative")
	}
	switch c.Collaborator.Kind {
	case CollaboratorAnthropic:
	case CollaboratorHTTP:
		if c.Collaborator.Endpoint == "" {
			return fmt.Errorf("collaborator.endpoint is required for the http collaborator")
		}
	default:
		return fmt.Errorf("collaborator.kind: unknown collaborator %q", c.Collaborator.Kind)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative")
	}
	if !store.ValidDriver(c.Store.Driver) {
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.bedrock", d.Anthropic.Bedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)

	v.SetDefault("collaborator.kind", d.Collaborator.Kind)
	v.SetDefault("collaborator.endpoint", d.Collaborator.Endpoint)
	v.SetDefault("collaborator.timeout", d.Collaborator.Timeout.String())

	v.SetDefault("execution.max_concurrency", d.Execution.MaxConcurrency)
	v.SetDefault("execution.retries", d.Execution.Retries)
	v.SetDefault("execution.base_delay", d.Execution.BaseDelay.String())
	v.SetDefault("execution.max_delay", d.Execution.MaxDelay.String())
	v.SetDefault("execution.jitter", d.Execution.Jitter)
	v.SetDefault("execution.policy", d.Execution.Policy)
	v.SetDefault("execution.compress_threshold", d.Execution.CompressThreshold)
	v.SetDefault("execution.result_limit", d.Execution.ResultLimit)

	v.SetDefault("parser.infer_dependencies", d.Parser.InferDependencies)
	v.SetDefault("parser.decompose", d.Parser.Decompose)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.retention", d.Store.Retention.String())

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
}

// getUserConfigDir returns the XDG config directory for taskweave.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskweave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskweave")
	}
	return filepath.Join(home, ".config", "taskweave")
}

// findProjectConfig searches for .taskweave.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	retry := engine.DefaultRetryPolicy()
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens: 8192,
			AWSRegion: "us-east-1",
		},
		Collaborator: CollaboratorConfig{
			Kind:    CollaboratorAnthropic,
			Timeout: engine.DefaultCallTimeout,
		},
		Execution: ExecutionConfig{
			MaxConcurrency:    engine.DefaultMaxConcurrency,
			Retries:           retry.MaxAttempts,
			BaseDelay:         retry.BaseDelay,
			MaxDelay:          retry.MaxDelay,
			Policy:            engine.PolicyContinue.String(),
			CompressThreshold: 256 * 1024,
			ResultLimit:       1000,
		},
		Store: StoreConfig{
			Enabled:   true,
			Path:      store.ProjectDBPath("."),
			Driver:    store.DriverModernc,
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
