package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codewright.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  default: llama3.1:8b
  ollama_url: http://ollama.internal:11434
router:
  enabled: true
  models:
    simple: qwen3:0.6b
    codegen_heavy: qwen2.5-coder:7b
retry:
  max_attempts: 5
  initial_delay: 250ms
compaction:
  max_uncompressed_messages: 20
policy:
  default: allow
  tools:
    shell_exec: prompt
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Model.Default != "llama3.1:8b" {
		t.Errorf("model.default = %q", cfg.Model.Default)
	}
	if cfg.Router.Models["simple"] != "qwen3:0.6b" {
		t.Errorf("router.models = %v", cfg.Router.Models)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("retry.max_attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("retry.initial_delay = %v", cfg.Retry.InitialDelay)
	}
	if cfg.Compaction.MaxUncompressedMessages != 20 {
		t.Errorf("compaction ceiling = %d", cfg.Compaction.MaxUncompressedMessages)
	}
	if cfg.Policy.Tools["shell_exec"] != "prompt" {
		t.Errorf("policy.tools = %v", cfg.Policy.Tools)
	}
	// Untouched sections keep their defaults.
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("retry.max_delay = %v, want default", cfg.Retry.MaxDelay)
	}
	if !cfg.Snapshots.Enabled || cfg.Snapshots.MaxSnapshots != 50 {
		t.Errorf("snapshots defaults not preserved: %+v", cfg.Snapshots)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CW_TEST_MODEL", "env-model:1b")

	path := writeConfig(t, `
model:
  default: ${CW_TEST_MODEL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.Default != "env-model:1b" {
		t.Errorf("model.default = %q, want env expansion", cfg.Model.Default)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"missing model", func(c *Config) { c.Model.Default = "" }, "model.default"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"shrinking backoff", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"zero ceiling", func(c *Config) { c.Compaction.MaxUncompressedMessages = 0 }, "max_uncompressed_messages"},
		{"negative sessions", func(c *Config) { c.Policy.MaxSessions = -1 }, "max_sessions"},
		{"bad default policy", func(c *Config) { c.Policy.Default = "maybe" }, "policy.default"},
		{"bad tool policy", func(c *Config) { c.Policy.Tools = map[string]string{"x": "sometimes"} }, "policy.tools"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errSub == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errSub) {
				t.Errorf("got %v, want error containing %q", err, tc.errSub)
			}
		})
	}
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, "model:\n  default: m\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}

	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit missing path must error, not fall through to search")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"info", slog.LevelInfo, true},
		{"trace", LevelTrace, true},
		{"TRACE", LevelTrace, true},
		{"debug", slog.LevelDebug, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseLogLevel(%q) error = %v", tc.in, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
