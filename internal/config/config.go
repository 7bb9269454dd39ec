// Package config handles per-project configuration for SpecFlow. Settings
// live in <root>/.specflow/config.yaml and are loaded with viper, with
// environment variable overrides under the SPECFLOW_ prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/specflow/specflow/pkg/models"
)

// Default values applied when config.yaml omits a key.
const (
	DefaultDatabasePath   = ".specflow/specflow.db"
	DefaultTimeoutMinutes = 10
	DefaultMaxParallel    = 6
	DefaultDocsOutputDir  = "docs"
)

// Config holds all project-level settings.
type Config struct {
	// ProjectName is a display label only.
	ProjectName string `mapstructure:"project_name"`
	// DatabasePath is the store file path, relative to the project root.
	DatabasePath string `mapstructure:"database_path"`
	// SyncJSONL enables change-log mirroring and replay-on-load.
	SyncJSONL bool `mapstructure:"sync_jsonl"`
	// TimeoutMinutes is the default agent invocation timeout.
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MaxParallel is the default worker count for execute.
	MaxParallel int `mapstructure:"max_parallel"`
	// AgentModels optionally pins a model per role.
	AgentModels map[string]string `mapstructure:"agent_models"`
	// DocsOutputDir is opaque to the core.
	DocsOutputDir string `mapstructure:"docs_output_dir"`
}

// AgentTimeout returns the configured agent timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	minutes := c.TimeoutMinutes
	if minutes <= 0 {
		minutes = DefaultTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ModelFor returns the pinned model for a role, or "" for the tool default.
func (c *Config) ModelFor(role models.AgentType) string {
	if c.AgentModels == nil {
		return ""
	}
	return c.AgentModels[string(role)]
}

// Default returns a Config with all defaults applied.
func Default(projectName string) *Config {
	return &Config{
		ProjectName:    projectName,
		DatabasePath:   DefaultDatabasePath,
		SyncJSONL:      true,
		TimeoutMinutes: DefaultTimeoutMinutes,
		MaxParallel:    DefaultMaxParallel,
		DocsOutputDir:  DefaultDocsOutputDir,
	}
}

// Load reads <configDir>/config.yaml. A missing file yields defaults.
// Environment variables override file values: SPECFLOW_TIMEOUT_MINUTES,
// SPECFLOW_MAX_PARALLEL and friends.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SPECFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads a specific config file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to <configDir>/config.yaml.
func Save(configDir string, cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "config.yaml"))

	v.Set("project_name", cfg.ProjectName)
	v.Set("database_path", cfg.DatabasePath)
	v.Set("sync_jsonl", cfg.SyncJSONL)
	v.Set("timeout_minutes", cfg.TimeoutMinutes)
	v.Set("max_parallel", cfg.MaxParallel)
	v.Set("docs_output_dir", cfg.DocsOutputDir)
	if len(cfg.AgentModels) > 0 {
		v.Set("agent_models", cfg.AgentModels)
	}

	return v.WriteConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_name", "")
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("sync_jsonl", true)
	v.SetDefault("timeout_minutes", DefaultTimeoutMinutes)
	v.SetDefault("max_parallel", DefaultMaxParallel)
	v.SetDefault("docs_output_dir", DefaultDocsOutputDir)
}
