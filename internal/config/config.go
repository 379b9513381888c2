// Package config handles codewright configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./codewright.yaml, ~/.config/codewright/config.yaml,
// /etc/codewright/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"codewright.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "codewright", "config.yaml"))
	}

	paths = append(paths, "/etc/codewright/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all codewright configuration. It is loaded once at session
// start and treated as read-only for the session lifetime.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Router     RouterConfig     `yaml:"router"`
	Retry      RetryConfig      `yaml:"retry"`
	Compaction CompactionConfig `yaml:"compaction"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
	Policy     PolicyConfig     `yaml:"policy"`
	ShellExec  ShellExecConfig  `yaml:"shell_exec"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Listen     ListenConfig     `yaml:"listen"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ModelConfig defines the default model used when routing is disabled
// or produces no override.
type ModelConfig struct {
	Default   string `yaml:"default"`
	OllamaURL string `yaml:"ollama_url"`
}

// RouterConfig defines task-class to model routing. When Enabled is
// false, Route returns the caller's model unchanged.
type RouterConfig struct {
	Enabled bool              `yaml:"enabled"`
	Models  map[string]string `yaml:"models"` // task class name → model id
}

// RetryConfig controls provider-call retry behavior.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	// RetryableErrors extends the built-in retryable signature set.
	RetryableErrors []string `yaml:"retryable_errors"`
}

// CompactionConfig controls conversation history compaction. Immutable
// per session.
type CompactionConfig struct {
	MaxUncompressedMessages int           `yaml:"max_uncompressed_messages"`
	MaxMessageAge           time.Duration `yaml:"max_message_age"`
	MaxMemoryBytes          int64         `yaml:"max_memory_bytes"`
	CompactionInterval      time.Duration `yaml:"compaction_interval"`
	MinContextConfidence    float64       `yaml:"min_context_confidence"`
	MaxContextAge           time.Duration `yaml:"max_context_age"`
	AutoCompactionEnabled   bool          `yaml:"auto_compaction_enabled"`
	// ArchivePath is the SQLite file evicted messages are archived to.
	// Empty disables archiving.
	ArchivePath string `yaml:"archive_path"`
}

// SnapshotConfig controls end-of-turn state snapshots.
type SnapshotConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Directory    string `yaml:"directory"`
	MaxSnapshots int    `yaml:"max_snapshots"`
	// CompressionThreshold is the state size in bytes above which the
	// snapshot blob is gzip-compressed on disk.
	CompressionThreshold int `yaml:"compression_threshold"`
}

// PolicyConfig defines tool authorization policy.
type PolicyConfig struct {
	// Default applies to tools without an explicit entry: allow, prompt, deny.
	Default string `yaml:"default"`
	// Tools maps tool name → allow/prompt/deny.
	Tools map[string]string `yaml:"tools"`
	// MaxSessions caps concurrently open session-based (interactive) tools.
	MaxSessions int `yaml:"max_sessions"`
	// Unrestricted selects the unrestricted permission mode: every tool is
	// allowed regardless of the table. Intended for automated execution.
	Unrestricted bool `yaml:"unrestricted"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All file tool
	// paths are relative to this directory. If empty, file tools are
	// disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// ListenConfig defines the optional observability endpoint.
type ListenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Router: RouterConfig{
			Enabled: true,
			Models:  map[string]string{},
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Compaction: CompactionConfig{
			MaxUncompressedMessages: 50,
			MaxMessageAge:           time.Hour,
			MaxMemoryBytes:          100 * 1024 * 1024,
			CompactionInterval:      5 * time.Minute,
			MinContextConfidence:    0.3,
			MaxContextAge:           2 * time.Hour,
			AutoCompactionEnabled:   true,
		},
		Snapshots: SnapshotConfig{
			Enabled:              true,
			Directory:            "snapshots",
			MaxSnapshots:         50,
			CompressionThreshold: 1024 * 1024,
		},
		Policy: PolicyConfig{
			Default:     "prompt",
			Tools:       map[string]string{},
			MaxSessions: 2,
		},
		Listen: ListenConfig{Port: 8080},
	}
}

// Validate rejects configurations that cannot produce a working session.
// Validation failures are fatal at session start.
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default must be set")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1.0")
	}
	if c.Compaction.MaxUncompressedMessages < 1 {
		return fmt.Errorf("compaction.max_uncompressed_messages must be at least 1")
	}
	if c.Policy.MaxSessions < 0 {
		return fmt.Errorf("policy.max_sessions must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Policy.Default {
	case "allow", "prompt", "deny":
	default:
		return fmt.Errorf("policy.default must be allow, prompt, or deny (got %q)", c.Policy.Default)
	}
	for name, p := range c.Policy.Tools {
		switch p {
		case "allow", "prompt", "deny":
		default:
			return fmt.Errorf("policy.tools[%s] must be allow, prompt, or deny (got %q)", name, p)
		}
	}
	return nil
}
