package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/DefikitTeam/claude-code-container/errors"
	"gopkg.in/yaml.v3"
)

const (
	// SessionDirEnv overrides the session store directory from the
	// environment, taking precedence over every config file.
	SessionDirEnv = "CLAUDE_CONTAINER_SESSION_DIR"

	configDirName = ".claude-container"
)

type FilesystemAccess struct {
	Hidden []string `yaml:"hidden"`
}

type GitOptions struct {
	DefaultBranch  string `yaml:"default_branch"`
	CloneURL       string `yaml:"clone_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type PromptOptions struct {
	MaxTokens     int     `yaml:"max_tokens"`
	OverheadRatio float64 `yaml:"overhead_ratio"`
}

type Config struct {
	Engine           string           `yaml:"engine"`
	Model            string           `yaml:"model"`
	WorkspaceBaseDir string           `yaml:"workspace_base_dir"`
	SessionDir       string           `yaml:"session_dir"`
	Git              GitOptions       `yaml:"git"`
	Prompt           PromptOptions    `yaml:"prompt"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	// Internal state never belongs in a prompt.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, configDirName, configDirName+"/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, configDirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, configDirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyFallbacks()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Engine: "mock",
		Git: GitOptions{
			DefaultBranch:  "main",
			TimeoutSeconds: 30,
		},
		Prompt: PromptOptions{
			MaxTokens:     32000,
			OverheadRatio: 1.0,
		},
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyFallbacks() {
	if c.WorkspaceBaseDir == "" {
		c.WorkspaceBaseDir = filepath.Join(os.TempDir(), "claude-container-workspaces")
	}
	if c.Git.DefaultBranch == "" {
		c.Git.DefaultBranch = "main"
	}
	if c.Git.TimeoutSeconds <= 0 {
		c.Git.TimeoutSeconds = 30
	}
	if c.Prompt.MaxTokens <= 0 {
		c.Prompt.MaxTokens = 32000
	}
	if c.Prompt.OverheadRatio <= 0 {
		c.Prompt.OverheadRatio = 1.0
	}
}

// SessionDirectory resolves the session store directory. The environment
// override wins over the config file; the last resort is a dot directory
// under the user's home (or the working directory when home is unknown).
func (c *Config) SessionDirectory() string {
	if dir := os.Getenv(SessionDirEnv); dir != "" {
		return dir
	}
	if c.SessionDir != "" {
		return c.SessionDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDirName, "sessions")
	}
	return filepath.Join(home, configDirName, "sessions")
}

// GitTimeout returns the bounded wall-clock budget for a single git
// subprocess invocation.
func (c *Config) GitTimeout() time.Duration {
	return time.Duration(c.Git.TimeoutSeconds) * time.Second
}
