// Package config provides configuration loading for cifixd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, GITHUB_TOKEN, JOBS_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // json | console
}

// GitHubConfig holds the source-control and CI-provider credentials.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// CompletionConfig holds the language-model completion endpoint settings.
type CompletionConfig struct {
	BaseURL string   `koanf:"base_url"`
	APIKey  Secret   `koanf:"api_key"`
	Model   string   `koanf:"model"`
	Timeout Duration `koanf:"timeout"`
}

// JobsConfig bounds repair job execution.
type JobsConfig struct {
	MaxIterations int      `koanf:"max_iterations"`
	CITimeout     Duration `koanf:"ci_timeout"`
	JobTimeout    Duration `koanf:"job_timeout"`

	// TestCommand is the local test invocation, space separated. Empty
	// selects the runner's default.
	TestCommand string `koanf:"test_command"`
}

// Config is the full cifixd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	GitHub     GitHubConfig     `koanf:"github"`
	Completion CompletionConfig `koanf:"completion"`
	Jobs       JobsConfig       `koanf:"jobs"`
}

// Load reads configuration from the YAML file at configPath (skipped when
// empty or absent), then overrides with environment variables.
//
// Environment variables use an underscore separator, split on the first
// underscore into section and field:
//
//	SERVER_PORT            -> server.port
//	GITHUB_TOKEN           -> github.token
//	JOBS_MAX_ITERATIONS    -> jobs.max_iterations
//	COMPLETION_API_KEY     -> completion.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Split on the first underscore only (section.field_name pattern).
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = Duration(60 * time.Second)
	}

	if cfg.Jobs.MaxIterations == 0 {
		cfg.Jobs.MaxIterations = 5
	}
	if cfg.Jobs.CITimeout == 0 {
		cfg.Jobs.CITimeout = Duration(5 * time.Minute)
	}
	if cfg.Jobs.JobTimeout == 0 {
		cfg.Jobs.JobTimeout = Duration(30 * time.Minute)
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Jobs.MaxIterations < 1 {
		return fmt.Errorf("jobs max_iterations must be positive: %d", c.Jobs.MaxIterations)
	}
	if c.Jobs.CITimeout.Duration() > c.Jobs.JobTimeout.Duration() {
		return fmt.Errorf("ci_timeout (%s) cannot exceed job_timeout (%s)",
			c.Jobs.CITimeout.Duration(), c.Jobs.JobTimeout.Duration())
	}
	return nil
}

// TestCommandArgs splits the configured test command into argv form.
func (c *JobsConfig) TestCommandArgs() []string {
	return strings.Fields(c.TestCommand)
}
