package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	cfg.applyFallbacks()
	if cfg.Engine != "mock" {
		t.Fatalf("engine = %q, want mock", cfg.Engine)
	}
	if cfg.Git.DefaultBranch != "main" {
		t.Fatalf("default branch = %q, want main", cfg.Git.DefaultBranch)
	}
	if cfg.Prompt.MaxTokens != 32000 || cfg.Prompt.OverheadRatio != 1.0 {
		t.Fatalf("prompt defaults = %+v", cfg.Prompt)
	}
	if cfg.WorkspaceBaseDir == "" {
		t.Fatal("workspace base dir fallback missing")
	}
}

func TestApplyFallbacksRepairsInvalid(t *testing.T) {
	cfg := &Config{
		Git:    GitOptions{TimeoutSeconds: -5},
		Prompt: PromptOptions{MaxTokens: 0, OverheadRatio: -1},
	}
	cfg.applyFallbacks()
	if cfg.Git.TimeoutSeconds != 30 {
		t.Fatalf("timeout = %d, want 30", cfg.Git.TimeoutSeconds)
	}
	if cfg.Prompt.MaxTokens != 32000 || cfg.Prompt.OverheadRatio != 1.0 {
		t.Fatalf("prompt = %+v, invalid values not repaired", cfg.Prompt)
	}
}

func TestLoadFromFileMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "engine: anthropic\ngit:\n  default_branch: trunk\nprompt:\n  max_tokens: 1000\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	if err := loadFromFile(path, cfg); err != nil {
		t.Fatalf("loadFromFile: %+v", err)
	}
	if cfg.Engine != "anthropic" {
		t.Fatalf("engine = %q, want anthropic", cfg.Engine)
	}
	if cfg.Git.DefaultBranch != "trunk" {
		t.Fatalf("branch = %q, file value must override the default", cfg.Git.DefaultBranch)
	}
	if cfg.Prompt.MaxTokens != 1000 {
		t.Fatalf("maxTokens = %d, want 1000", cfg.Prompt.MaxTokens)
	}
	// Fields absent from the file keep their prior values.
	if cfg.Git.TimeoutSeconds != 30 {
		t.Fatalf("timeout = %d, untouched fields must survive the merge", cfg.Git.TimeoutSeconds)
	}
}

func TestSessionDirectoryPrecedence(t *testing.T) {
	cfg := &Config{SessionDir: "/from/config"}
	t.Setenv(SessionDirEnv, "/from/env")
	if got := cfg.SessionDirectory(); got != "/from/env" {
		t.Fatalf("dir = %q, env override must win", got)
	}

	t.Setenv(SessionDirEnv, "")
	if got := cfg.SessionDirectory(); got != "/from/config" {
		t.Fatalf("dir = %q, want the config value", got)
	}

	cfg.SessionDir = ""
	if got := cfg.SessionDirectory(); got == "" {
		t.Fatal("session directory must always resolve to something")
	}
}

func TestGitTimeout(t *testing.T) {
	cfg := &Config{Git: GitOptions{TimeoutSeconds: 7}}
	if got := cfg.GitTimeout(); got != 7*time.Second {
		t.Fatalf("timeout = %v, want 7s", got)
	}
}
