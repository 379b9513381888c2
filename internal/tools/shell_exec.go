package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellExec runs shell commands on behalf of the model, with denied
// pattern screening, a per-command timeout, and bounded output.
type ShellExec struct {
	enabled        bool
	workingDir     string
	deniedPatterns []string
	defaultTimeout time.Duration
	maxOutputBytes int
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	Enabled        bool
	WorkingDir     string
	DeniedPatterns []string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// DefaultShellExecConfig returns safe defaults. Execution is off until
// explicitly enabled.
func DefaultShellExecConfig() ShellExecConfig {
	return ShellExecConfig{
		Enabled: false,
		DeniedPatterns: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
		},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 100 * 1024,
	}
}

// NewShellExec creates a shell executor.
func NewShellExec(cfg ShellExecConfig) *ShellExec {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	if cfg.DeniedPatterns == nil {
		cfg.DeniedPatterns = DefaultShellExecConfig().DeniedPatterns
	}
	return &ShellExec{
		enabled:        cfg.Enabled,
		workingDir:     cfg.WorkingDir,
		deniedPatterns: cfg.DeniedPatterns,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// Enabled reports whether shell execution is available.
func (s *ShellExec) Enabled() bool {
	return s.enabled
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Exec runs a command through the shell. A nonzero exit code is not an
// error; it is reported in the result so the model can react to it.
func (s *ShellExec) Exec(ctx context.Context, command string, timeoutSec int) (*ExecResult, error) {
	return s.ExecDir(ctx, command, s.workingDir, timeoutSec)
}

// ExecDir is Exec with an explicit working directory. Used by terminal
// sessions, which track their own cwd across commands.
func (s *ShellExec) ExecDir(ctx context.Context, command, dir string, timeoutSec int) (*ExecResult, error) {
	if !s.enabled {
		return nil, &ErrToolDisabled{ToolName: "shell_exec", Reason: "shell execution is disabled"}
	}

	if pattern := s.deniedMatch(command); pattern != "" {
		return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", pattern)
	}

	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	// Hard cap regardless of what the model asks for.
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: truncateOutput(stdout.String(), s.maxOutputBytes),
		Stderr: truncateOutput(stderr.String(), s.maxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Error = "command timed out"
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err.Error()
			result.ExitCode = -1
		}
	}

	return result, nil
}

func (s *ShellExec) deniedMatch(command string) string {
	cmdLower := strings.ToLower(command)
	for _, pattern := range s.deniedPatterns {
		if strings.Contains(cmdLower, strings.ToLower(pattern)) {
			return pattern
		}
	}
	return ""
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
