package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace provides file read/write/edit operations rooted at a single
// directory. Paths that resolve outside the root are rejected.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace. An empty root disables file tools.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

// Enabled reports whether file operations are available.
func (w *Workspace) Enabled() bool {
	return w.root != ""
}

// Root returns the configured workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// resolve converts a tool-supplied path to an absolute path inside the
// workspace. Rejects paths that escape the root, including via "..".
func (w *Workspace) resolve(path string) (string, error) {
	if w.root == "" {
		return "", &ErrToolDisabled{ToolName: "file tools", Reason: "workspace not configured"}
	}

	rootAbs, err := filepath.Abs(w.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Clean(filepath.Join(rootAbs, path))
	}

	rel, err := filepath.Rel(rootAbs, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return absPath, nil
}

// Read returns file contents, optionally a line window (1-indexed
// offset, limit lines). Large content is truncated with a marker.
func (w *Workspace) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := w.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("read file: %w", err)
	}

	content := string(data)

	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")

		startLine := 0
		if offset > 0 {
			startLine = offset - 1
		}
		if startLine >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}

		endLine := len(lines)
		if limit > 0 && startLine+limit < endLine {
			endLine = startLine + limit
		}

		content = strings.Join(lines[startLine:endLine], "\n")
		if startLine > 0 || endLine < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", startLine+1, endLine, len(lines), content)
		}
	}

	const maxBytes = 50 * 1024
	if len(content) > maxBytes {
		content = content[:maxBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

// Write writes content to a file, creating parent directories as needed.
func (w *Workspace) Write(ctx context.Context, path, content string) error {
	absPath, err := w.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Edit replaces one occurrence of oldText with newText. The old text
// must appear exactly once so the edit cannot land in the wrong place.
func (w *Workspace) Edit(ctx context.Context, path, oldText, newText string) error {
	absPath, err := w.resolve(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("read file: %w", err)
	}

	content := string(data)

	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		if len(oldText) > 100 {
			return fmt.Errorf("old text not found in file (first 100 chars: %q...)", oldText[:100])
		}
		return fmt.Errorf("old text not found in file: %q", oldText)
	case count > 1:
		return fmt.Errorf("old text appears %d times in file; must be unique for safe editing", count)
	}

	newContent := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// List lists directory entries. Directories carry a trailing slash.
func (w *Workspace) List(ctx context.Context, path string) ([]string, error) {
	absPath, err := w.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		result = append(result, name)
	}

	return result, nil
}
