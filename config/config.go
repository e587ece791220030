// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/lifecycle"
)

// Config is the root configuration structure.
type Config struct {
	Scripts ScriptsConfig `yaml:"scripts" json:"scripts"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScriptsConfig configures where scripts come from and how they are grouped
// into contexts.
type ScriptsConfig struct {
	Root        string             `yaml:"root" json:"root" validate:"required" jsonschema:"required,description=Directory scripts are loaded from"`
	Watch       bool               `yaml:"watch" json:"watch" jsonschema:"description=Reload scripts when their files change"`
	Assigner    string             `yaml:"assigner" json:"assigner" validate:"assigner" jsonschema:"enum=shared,enum=per_entity,enum=per_domain,enum=per_script,enum=per_attachment"`
	IndexBase   int                `yaml:"index_base" json:"index_base" validate:"oneof=0 1" jsonschema:"enum=0,enum=1"`
	Attachments []AttachmentConfig `yaml:"attachments" json:"attachments,omitempty" validate:"dive"`
}

// AttachmentConfig attaches a script at startup. Attachments naming the same
// entity label share one spawned entity; an empty label attaches the script
// to no entity.
type AttachmentConfig struct {
	Script string `yaml:"script" json:"script" validate:"required" jsonschema:"required"`
	Domain string `yaml:"domain" json:"domain,omitempty"`
	Entity string `yaml:"entity" json:"entity,omitempty"`
}

// RuntimeConfig configures the WebAssembly runtime.
type RuntimeConfig struct {
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" json:"memory_limit_pages" validate:"lte=65536" jsonschema:"maximum=65536"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console" jsonschema:"enum=json,enum=console"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required"`
	Listen    string `yaml:"listen" json:"listen,omitempty" validate:"omitempty,hostname_port" jsonschema:"description=Address serving /metrics"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("assigner", func(fl validator.FieldLevel) bool {
		return slices.Contains(lifecycle.AssignerNames, fl.Field().String())
	})
	return v
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default(root string) *Config {
	cfg := &Config{Scripts: ScriptsConfig{Root: root}}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate config")
	}
	return nil
}

// Assigner returns the configured context assigner.
func (c *Config) Assigner() (lifecycle.Assigner, error) {
	return lifecycle.AssignerByName(c.Scripts.Assigner)
}

// applyEnvOverrides applies SCRIPTBRIDGE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCRIPTBRIDGE_SCRIPTS_ROOT"); v != "" {
		cfg.Scripts.Root = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_SCRIPTS_WATCH"); v != "" {
		cfg.Scripts.Watch = parseBool(v)
	}
	if v := os.Getenv("SCRIPTBRIDGE_ASSIGNER"); v != "" {
		cfg.Scripts.Assigner = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_INDEX_BASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scripts.IndexBase = n
		}
	}
	if v := os.Getenv("SCRIPTBRIDGE_MEMORY_LIMIT_PAGES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Runtime.MemoryLimitPages = uint32(n)
		}
	}
	if v := os.Getenv("SCRIPTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("SCRIPTBRIDGE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Scripts.Assigner == "" {
		cfg.Scripts.Assigner = "per_attachment"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "scriptbridge"
	}
}

// String summarizes the configuration for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("root=%s watch=%t assigner=%s index_base=%d attachments=%d",
		c.Scripts.Root, c.Scripts.Watch, c.Scripts.Assigner, c.Scripts.IndexBase, len(c.Scripts.Attachments))
}
