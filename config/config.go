// Package config loads coder profiles from YAML files.
//
// A profile names the coder to create, its start options and run defaults.
// Environment variables prefixed with HEADLESS_CODER_ override file values.
//
//	coder: codex
//	start:
//	  workingDirectory: /src/project
//	  model: gpt-5-codex
//	  skipGitRepoCheck: true
//	run:
//	  timeout: 10m
//	  schemaFile: review.schema.json
//	logging:
//	  level: debug
//	  format: console
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HEADLESS_CODER_"

// Config is one coder profile.
type Config struct {
	// Coder is the registry name of the adapter.
	Coder core.CoderType `yaml:"coder"`

	Start core.StartOptions `yaml:"start"`

	Run RunConfig `yaml:"run"`

	Logging LoggingConfig `yaml:"logging"`

	Session SessionConfig `yaml:"session"`

	// APIKeys maps SDK adapter names (anthropic, openai) to credentials.
	APIKeys map[string]string `yaml:"apiKeys,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`
}

// RunConfig holds run defaults.
type RunConfig struct {
	// Timeout aborts a run after this duration. Zero disables it.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// OutputSchema requests structured output.
	OutputSchema map[string]any `yaml:"outputSchema,omitempty"`
	// SchemaFile is a JSON Schema file, resolved relative to the config
	// file. Ignored when OutputSchema is set.
	SchemaFile string `yaml:"schemaFile,omitempty"`
	// Stream prints events as they arrive instead of the final result.
	Stream bool `yaml:"stream,omitempty"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// SessionConfig configures transcript persistence for SDK adapters.
type SessionConfig struct {
	// Dir stores transcripts as JSONL files. Empty keeps them in memory.
	Dir string `yaml:"dir,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Coder:   "echo",
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path yields Default with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if cfg.Run.SchemaFile != "" && !filepath.IsAbs(cfg.Run.SchemaFile) {
			cfg.Run.SchemaFile = filepath.Join(filepath.Dir(path), cfg.Run.SchemaFile)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies HEADLESS_CODER_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	if v, ok := get("CODER"); ok {
		c.Coder = core.CoderType(v)
	}
	if v, ok := get("MODEL"); ok {
		c.Start.Model = v
	}
	if v, ok := get("WORKDIR"); ok {
		c.Start.WorkingDirectory = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("SESSION_DIR"); ok {
		c.Session.Dir = v
	}

	// Executable overrides are per coder, e.g. HEADLESS_CODER_CODEX_PATH.
	if c.Start.ExecutablePath == "" {
		if v, ok := get(envName(c.Coder) + "_PATH"); ok {
			c.Start.ExecutablePath = v
		}
	}
	for _, name := range []string{"anthropic", "openai"} {
		if v, ok := get(envName(core.CoderType(name)) + "_API_KEY"); ok {
			if c.APIKeys == nil {
				c.APIKeys = make(map[string]string)
			}
			c.APIKeys[name] = v
		}
	}
}

// Validate checks the profile for obvious mistakes.
func (c *Config) Validate() error {
	var errs []error
	if c.Coder == "" {
		errs = append(errs, errors.New("coder is required"))
	}
	if c.Run.Timeout < 0 {
		errs = append(errs, fmt.Errorf("run.timeout must not be negative, got %s", c.Run.Timeout))
	}
	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Logging.Format {
	case "", "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, text, console", c.Logging.Format))
	}
	switch c.Start.SandboxMode {
	case "", core.SandboxReadOnly, core.SandboxWorkspaceWrite, core.SandboxFullAccess:
	default:
		errs = append(errs, fmt.Errorf("start.sandboxMode %q is invalid", c.Start.SandboxMode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Schema returns the run output schema, reading SchemaFile when needed.
// It returns nil when no structured output was requested.
func (c *Config) Schema() (map[string]any, error) {
	if c.Run.OutputSchema != nil {
		return c.Run.OutputSchema, nil
	}
	if c.Run.SchemaFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Run.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("config: read schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("config: parse schema %s: %w", c.Run.SchemaFile, err)
	}
	return schema, nil
}

// LoggerConfig converts the logging section into a logging.LoggerConfig.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	if c.Logging.Level != "" {
		if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
			lc.Level = lvl
		}
	}
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	return lc
}

func envName(t core.CoderType) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(string(t)))
}
