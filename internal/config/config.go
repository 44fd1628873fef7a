// Package config loads and validates the YAML pipeline configuration,
// substituting ${VAR} and ${VAR:-default} references from the environment
// before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
)

// TargetConfig configures one replication target.
type TargetConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "mysql" or "oracle"
	DSN  string `yaml:"dsn"`
}

// FieldMappingConfig mirrors transform.FieldMapping in config form.
type FieldMappingConfig struct {
	SourceField  string            `yaml:"source_field"`
	TargetColumn string            `yaml:"target_column"`
	Converter    string            `yaml:"converter,omitempty"`
	Params       map[string]string `yaml:"params,omitempty"`
}

// TableMappingConfig configures replication for one source table.
type TableMappingConfig struct {
	SourceTable string               `yaml:"source_table"`
	TargetTable string               `yaml:"target_table"`
	PrimaryKey  string               `yaml:"primary_key,omitempty"`
	Fields      []FieldMappingConfig `yaml:"fields,omitempty"`
}

// Config is the top-level pipeline configuration.
type Config struct {
	SourcePath         string               `yaml:"source_path"`
	CheckpointPath     string               `yaml:"checkpoint_path"`
	Targets            []TargetConfig       `yaml:"targets"`
	Mappings           []TableMappingConfig `yaml:"mappings"`
	BatchSize          int                  `yaml:"batch_size"`
	CheckpointInterval int                  `yaml:"checkpoint_interval"`
	PollInterval       string               `yaml:"poll_interval"`
	LogLevel           string               `yaml:"log_level"`
}

var envRegex = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references in input
// with the named environment variable's value, or the default if the
// variable is unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(match string) string {
		groups := envRegex.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return fallback
	})
}

// Load reads, substitutes, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cdcerr.Config("read_file", err)
	}

	substituted := SubstituteEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, cdcerr.Config("parse_yaml", err)
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = "checkpoints.db"
	}

	if err := cfg.Validate(); err != nil {
		return nil, cdcerr.Config("validate", err)
	}
	return &cfg, nil
}

// Validate checks the structural invariants the engine depends on: at
// least one target, unique target names, and at least one table mapping.
func (c *Config) Validate() error {
	if c.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	seen := map[string]bool{}
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("target name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name: %s", t.Name)
		}
		seen[t.Name] = true
		if t.Kind != "mysql" && t.Kind != "oracle" {
			return fmt.Errorf("target %s: unsupported kind %q", t.Name, t.Kind)
		}
	}

	if len(c.Mappings) == 0 {
		return fmt.Errorf("at least one table mapping is required")
	}
	sourceTables := map[string]bool{}
	for _, m := range c.Mappings {
		if m.SourceTable == "" {
			return fmt.Errorf("mapping source_table is required")
		}
		if sourceTables[m.SourceTable] {
			return fmt.Errorf("duplicate source_table in mappings: %s", m.SourceTable)
		}
		sourceTables[m.SourceTable] = true
	}

	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}

	return nil
}

// TableMapping returns the mapping configured for sourceTable, or nil.
func (c *Config) TableMapping(sourceTable string) *TableMappingConfig {
	for i := range c.Mappings {
		if c.Mappings[i].SourceTable == sourceTable {
			return &c.Mappings[i]
		}
	}
	return nil
}
