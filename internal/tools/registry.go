// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// SessionBased marks tools that hold a long-lived interactive
	// session. Opening one consumes a slot in the session guard.
	SessionBased bool                                                           `json:"-"`
	Handler      func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools    map[string]*Tool
	shell    *ShellExec
	files    *Workspace
	sessions *SessionStore
}

// NewRegistry creates a tool registry over the given capabilities.
// Tools whose backing capability is disabled are still listed so the
// model gets a clear error instead of silently missing functionality.
func NewRegistry(shell *ShellExec, files *Workspace, sessions *SessionStore) *Registry {
	r := &Registry{
		tools:    make(map[string]*Tool),
		shell:    shell,
		files:    files,
		sessions: sessions,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "shell_exec",
		Description: "Run a shell command in the workspace. Returns stdout, stderr, and the exit code. Use for builds, tests, searches, and one-off commands.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300)",
				},
			},
			"required": []string{"command"},
		},
		Handler: r.handleShellExec,
	})

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace. Supports a line window via offset (1-indexed) and limit.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "First line to read (1-indexed)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to read",
				},
			},
			"required": []string{"path"},
		},
		Handler: r.handleReadFile,
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full file content to write",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: r.handleWriteFile,
	})

	r.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace one occurrence of old_text with new_text in a file. old_text must be unique in the file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "Exact text to replace (must appear exactly once)",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "Replacement text",
				},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		Handler: r.handleEditFile,
	})

	r.Register(&Tool{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory. Directories carry a trailing slash.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path relative to the workspace root (default: workspace root)",
				},
			},
		},
		Handler: r.handleListDir,
	})

	r.Register(&Tool{
		Name:        "terminal_session",
		Description: "Manage a persistent terminal session. Working directory persists between commands. Actions: open, run, close, list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"description": "One of: open, run, close, list",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session ID (required for run and close)",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "Command to run (required for run)",
				},
				"dir": map[string]any{
					"type":        "string",
					"description": "Initial working directory for open",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds for run",
				},
			},
			"required": []string{"action"},
		},
		SessionBased: true,
		Handler:      r.handleTerminalSession,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// SessionBased reports whether a tool holds interactive sessions.
// Unknown tools are not session based.
func (r *Registry) SessionBased(name string) bool {
	t := r.tools[name]
	return t != nil && t.SessionBased
}

// List returns all tools in the wire shape the model expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON-encoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrUnknownTool{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return tool.Handler(ctx, args)
}

// ExecuteArgs runs a tool with already-decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrUnknownTool{ToolName: name}
	}
	return tool.Handler(ctx, args)
}

// Tool handlers

func (r *Registry) handleShellExec(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	timeoutSec := 0
	if t, ok := args["timeout_sec"].(float64); ok {
		timeoutSec = int(t)
	}

	result, err := r.shell.Exec(ctx, command, timeoutSec)
	if err != nil {
		return "", err
	}
	return formatExecResult(result), nil
}

func (r *Registry) handleReadFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	offset, limit := 0, 0
	if o, ok := args["offset"].(float64); ok {
		offset = int(o)
	}
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}

	return r.files.Read(ctx, path, offset, limit)
}

func (r *Registry) handleWriteFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	if err := r.files.Write(ctx, path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

func (r *Registry) handleEditFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" || oldText == "" {
		return "", fmt.Errorf("path and old_text are required")
	}

	if err := r.files.Edit(ctx, path, oldText, newText); err != nil {
		return "", err
	}
	return fmt.Sprintf("Edited %s", path), nil
}

func (r *Registry) handleListDir(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	entries, err := r.files.List(ctx, path)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), nil
	}
	return strings.Join(entries, "\n"), nil
}

func (r *Registry) handleTerminalSession(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)

	switch action {
	case "open":
		dir, _ := args["dir"].(string)
		s, err := r.sessions.Open(dir)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s opened (dir: %s)", s.ID, s.Dir), nil

	case "run":
		id, _ := args["session_id"].(string)
		command, _ := args["command"].(string)
		if id == "" || command == "" {
			return "", fmt.Errorf("session_id and command are required for run")
		}

		timeoutSec := 0
		if t, ok := args["timeout_sec"].(float64); ok {
			timeoutSec = int(t)
		}

		result, err := r.sessions.Run(ctx, id, command, timeoutSec)
		if err != nil {
			return "", err
		}
		return formatExecResult(result), nil

	case "close":
		id, _ := args["session_id"].(string)
		if id == "" {
			return "", fmt.Errorf("session_id is required for close")
		}
		if err := r.sessions.Close(id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s closed", id), nil

	case "list":
		sessions := r.sessions.List()
		if len(sessions) == 0 {
			return "No open sessions.", nil
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%d open session(s):\n", len(sessions)))
		for _, s := range sessions {
			sb.WriteString(fmt.Sprintf("- %s: dir=%s, commands=%d\n", s.ID, s.Dir, s.Commands))
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("unknown action: %q (expected open, run, close, or list)", action)
	}
}

// formatExecResult renders an ExecResult for the model.
func formatExecResult(result *ExecResult) string {
	var sb strings.Builder
	if result.Stdout != "" {
		sb.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(result.Stderr)
	}
	if result.TimedOut {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("(command timed out)")
	}
	if result.ExitCode != 0 {
		sb.WriteString(fmt.Sprintf("\n(exit code %d)", result.ExitCode))
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}
