// Package config loads and validates the service configuration from a YAML
// file with environment expansion, falling back to defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig holds the default LLM endpoint settings. Per-project settings
// in the catalog override model and base URL.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config is the top-level service configuration.
type Config struct {
	ProjectsRoot        string    `yaml:"projects_root"`
	HTTPPort            string    `yaml:"http_port"`
	LLM                 LLMConfig `yaml:"llm"`
	DebugRetentionHours int       `yaml:"debug_retention_hours"`
}

// Defaults applied to zero fields.
const (
	defaultProjectsRoot   = "./projects"
	defaultHTTPPort       = "8080"
	defaultTimeoutSeconds = 120
	defaultRetentionHours = 72
)

// Load reads the configuration file at path. A missing file is not an
// error: defaults plus environment expansion cover the zero-config case.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ProjectsRoot == "" {
		c.ProjectsRoot = defaultProjectsRoot
	}
	if c.HTTPPort == "" {
		c.HTTPPort = defaultHTTPPort
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.DebugRetentionHours <= 0 {
		c.DebugRetentionHours = defaultRetentionHours
	}
}

func (c *Config) validate() error {
	if c.LLM.TimeoutSeconds < 1 {
		return fmt.Errorf("llm.timeout_seconds must be positive")
	}
	return nil
}

// LLMTimeout returns the per-call timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// DebugRetention returns the llm-debug file retention window.
func (c *Config) DebugRetention() time.Duration {
	return time.Duration(c.DebugRetentionHours) * time.Hour
}
