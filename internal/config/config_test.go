package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specflow/specflow/pkg/models"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath != DefaultDatabasePath {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, DefaultDatabasePath)
	}
	if cfg.TimeoutMinutes != DefaultTimeoutMinutes {
		t.Errorf("TimeoutMinutes = %d, want %d", cfg.TimeoutMinutes, DefaultTimeoutMinutes)
	}
	if cfg.MaxParallel != DefaultMaxParallel {
		t.Errorf("MaxParallel = %d, want %d", cfg.MaxParallel, DefaultMaxParallel)
	}
	if !cfg.SyncJSONL {
		t.Error("SyncJSONL should default to true")
	}
}

func TestLoad_ReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	content := `project_name: demo
database_path: data/flow.db
sync_jsonl: false
timeout_minutes: 25
agent_models:
  coder: some-model
  qa: another-model
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ProjectName != "demo" {
		t.Errorf("ProjectName = %q", cfg.ProjectName)
	}
	if cfg.DatabasePath != "data/flow.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.SyncJSONL {
		t.Error("SyncJSONL should be false")
	}
	if got := cfg.AgentTimeout(); got != 25*time.Minute {
		t.Errorf("AgentTimeout = %v, want 25m", got)
	}
	if got := cfg.ModelFor(models.AgentCoder); got != "some-model" {
		t.Errorf("ModelFor(coder) = %q", got)
	}
	if got := cfg.ModelFor(models.AgentReviewer); got != "" {
		t.Errorf("ModelFor(reviewer) = %q, want empty", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SPECFLOW_TIMEOUT_MINUTES", "3")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TimeoutMinutes != 3 {
		t.Errorf("TimeoutMinutes = %d, want 3 from env", cfg.TimeoutMinutes)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("roundtrip")
	cfg.TimeoutMinutes = 42
	cfg.AgentModels = map[string]string{"tester": "pinned"}

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ProjectName != "roundtrip" || got.TimeoutMinutes != 42 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.AgentModels["tester"] != "pinned" {
		t.Errorf("agent models lost: %v", got.AgentModels)
	}
}

func TestAgentTimeout_ZeroFallsBack(t *testing.T) {
	cfg := &Config{}
	if got := cfg.AgentTimeout(); got != DefaultTimeoutMinutes*time.Minute {
		t.Errorf("AgentTimeout = %v, want default", got)
	}
}
