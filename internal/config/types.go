// Package config provides configuration loading for devflow.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/devflow/internal/logging"
)

// Workflow change classes form a closed set; branch names and commit
// messages are derived from them.
const (
	ClassChore   = "chore"
	ClassBug     = "bug"
	ClassFeature = "feature"
)

// Config is the root configuration for devflow.
type Config struct {
	Agent     AgentConfig     `koanf:"agent"`
	GitHub    GitHubConfig    `koanf:"github"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Server    ServerConfig    `koanf:"server"`
	Poller    PollerConfig    `koanf:"poller"`
	Retry     RetryConfig     `koanf:"retry"`
	Logging   logging.Config  `koanf:"logging"`
}

// AgentConfig configures the external coding-agent CLI.
type AgentConfig struct {
	// Command is the path to the agent CLI binary.
	Command string `koanf:"command"`
	// Model passed to the agent with --model.
	Model string `koanf:"model"`
	// Timeout bounds a single agent invocation.
	Timeout Duration `koanf:"timeout"`
}

// GitHubConfig configures the issue tracker client.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	// BotMarker prefixes every comment the engine posts; comments carrying
	// it are never treated as triggers (loop prevention).
	BotMarker string `koanf:"bot_marker"`
}

// WorkspaceConfig locates the working tree and run artifacts.
type WorkspaceConfig struct {
	// Root is the checkout the phases operate on.
	Root string `koanf:"root"`
	// AgentsDir holds per-run state, prompts, and transcripts.
	// Relative paths are resolved against Root.
	AgentsDir string `koanf:"agents_dir"`
	// DefaultBranch is the branch new work branches fork from.
	DefaultBranch string `koanf:"default_branch"`
	// E2EDir holds end-to-end scenario documents, one markdown file per
	// scenario. Relative paths are resolved against Root.
	E2EDir string `koanf:"e2e_dir"`
}

// ServerConfig configures the webhook ingress.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// PollerConfig configures the issue poller.
type PollerConfig struct {
	Interval Duration `koanf:"interval"`
	// SeenFile persists the per-issue dedup cursor across restarts.
	SeenFile string `koanf:"seen_file"`
}

// RetryConfig bounds the test retry/resolution loops.
type RetryConfig struct {
	MaxTestAttempts    int `koanf:"max_test_attempts"`
	MaxE2ETestAttempts int `koanf:"max_e2e_test_attempts"`
}

// NewDefaultConfig returns the hardcoded defaults, before file and
// environment overrides.
func NewDefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Command: "claude",
			Model:   "opus",
			Timeout: Duration(20 * time.Minute),
		},
		GitHub: GitHubConfig{
			BotMarker: "[DEVFLOW-BOT]",
		},
		Workspace: WorkspaceConfig{
			Root:          ".",
			AgentsDir:     "agents",
			DefaultBranch: "main",
			E2EDir:        "e2e",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8001,
		},
		Poller: PollerConfig{
			Interval: Duration(20 * time.Second),
			SeenFile: "agents/poller_seen.json",
		},
		Retry: RetryConfig{
			MaxTestAttempts:    4,
			MaxE2ETestAttempts: 4,
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate reports configuration errors that are fatal at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.Command == "" {
		errs = append(errs, errors.New("agent.command is required"))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, errors.New("agent.timeout must be positive"))
	}
	if !c.GitHub.Token.IsSet() {
		errs = append(errs, errors.New("github.token is required"))
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		errs = append(errs, errors.New("github.owner and github.repo are required"))
	}
	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if c.Retry.MaxTestAttempts < 1 || c.Retry.MaxE2ETestAttempts < 1 {
		errs = append(errs, errors.New("retry attempt limits must be at least 1"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Secret wraps strings that should be redacted in logs and serialization.
type Secret string

// String implements fmt.Stringer. Always returns redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
