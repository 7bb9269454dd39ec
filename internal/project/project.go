// Package project ties a SpecFlow project together: root discovery via the
// .specflow sentinel directory, init scaffolding, and a handle bundling the
// store, change log and configuration.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/config"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/store"
)

// Well-known paths relative to the project root.
const (
	ConfigDirName   = ".specflow"
	SpecsDirName    = "specs"
	WorktreeDirName = ".worktrees"
	ChangeLogName   = "specs.jsonl"
)

// Project is an open SpecFlow project.
type Project struct {
	Root   string
	Config *config.Config
	Store  *store.Store
	Log    *changelog.Log
}

// FindRoot walks upward from start looking for a .specflow directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		sentinel := filepath.Join(dir, ConfigDirName)
		if info, err := os.Stat(sentinel); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errs.New(errs.KindNotAProject,
				"not a SpecFlow project (no %s directory found)", ConfigDirName)
		}
		dir = parent
	}
}

// Init scaffolds a new project at path. Safe to re-run: existing files are
// never overwritten. When update is true only template files are
// refreshed; the database and config are left untouched.
func Init(path string, update bool) (*Project, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dirs := []string{
		filepath.Join(root, ConfigDirName, "memory"),
		filepath.Join(root, ConfigDirName, "logs"),
		filepath.Join(root, SpecsDirName),
		filepath.Join(root, WorktreeDirName),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}

	// Worktrees are throwaway build areas; keep them out of version control.
	gitignore := filepath.Join(root, WorktreeDirName, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte("*\n!.gitignore\n"), 0644); err != nil {
			return nil, fmt.Errorf("write worktree gitignore: %w", err)
		}
	}

	// The constitution is written once; --update refreshes it from the
	// current template.
	constitution := filepath.Join(root, ConfigDirName, "constitution.md")
	_, statErr := os.Stat(constitution)
	if os.IsNotExist(statErr) || update {
		content := fmt.Sprintf(constitutionTemplate, filepath.Base(root))
		if err := os.WriteFile(constitution, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("write constitution: %w", err)
		}
	}

	configDir := filepath.Join(root, ConfigDirName)
	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.Default(filepath.Base(root))
		if err := config.Save(configDir, cfg); err != nil {
			return nil, fmt.Errorf("write config: %w", err)
		}
	}

	return Load(root)
}

// Load opens the project rooted at or above path. When sync_jsonl is
// enabled the change log is attached and replayed before returning.
func Load(path string) (*Project, error) {
	root, err := FindRoot(path)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(root, ConfigDirName)
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	p := &Project{Root: root, Config: cfg, Store: s}
	if cfg.SyncJSONL {
		log, err := changelog.New(filepath.Join(configDir, ChangeLogName))
		if err != nil {
			s.Close()
			return nil, err
		}
		p.Log = log
		s.SetChangeLog(log)
		if _, err := s.ImportChanges(); err != nil {
			s.Close()
			return nil, fmt.Errorf("replay change log: %w", err)
		}
	}
	return p, nil
}

// Close releases project resources.
func (p *Project) Close() error {
	return p.Store.Close()
}

// SpecDir returns the directory for a specification.
func (p *Project) SpecDir(specID string) string {
	return filepath.Join(p.Root, SpecsDirName, specID)
}

// EnsureSpecDir creates the spec directory tree and returns its path.
func (p *Project) EnsureSpecDir(specID string) (string, error) {
	dir := p.SpecDir(specID)
	for _, d := range []string{dir, filepath.Join(dir, "implementation"), filepath.Join(dir, "qa")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", fmt.Errorf("create spec directory: %w", err)
		}
	}
	return dir, nil
}

// WorktreeDir returns the workspace directory for a task.
func (p *Project) WorktreeDir(taskID string) string {
	return filepath.Join(p.Root, WorktreeDirName, taskID)
}

const constitutionTemplate = `# Project Constitution

## Identity

- Project: %s
- Purpose: [Define your project's purpose]

## Immutable Principles

### Code Quality

- All code must have tests (unit + integration minimum)
- No code merges without passing CI
- Follow existing patterns in codebase
- Documentation required for public APIs

### Process

- Specs require human approval before implementation
- Implementation is fully autonomous after spec approval
- All changes happen in isolated worktrees
- QA validation required before merge

## Constraints

- [Security requirements]
- [Performance requirements]
- [Compatibility requirements]

## Out of Scope

- [Explicit exclusions]
`
