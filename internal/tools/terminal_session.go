package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlukens/codewright/internal/policy"
)

// TerminalSession is a long-lived shell context. Commands run in it
// share a working directory, so "cd" persists between calls the way it
// does for a human at a terminal.
type TerminalSession struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Commands  int       `json:"commands"`
}

// SessionStore manages open terminal sessions. Each open session holds
// one slot in the policy session guard; Close returns it. The store is
// safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*TerminalSession
	guard    *policy.SessionGuard
	shell    *ShellExec
}

// NewSessionStore creates a session store backed by the shell executor.
func NewSessionStore(shell *ShellExec, guard *policy.SessionGuard) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*TerminalSession),
		guard:    guard,
		shell:    shell,
	}
}

// Open creates a session rooted at dir (the executor's default working
// directory when empty). Fails when the concurrent session cap is
// reached.
func (st *SessionStore) Open(dir string) (*TerminalSession, error) {
	if !st.shell.Enabled() {
		return nil, &ErrToolDisabled{ToolName: "terminal_session", Reason: "shell execution is disabled"}
	}
	if err := st.guard.Acquire(); err != nil {
		return nil, err
	}

	if dir == "" {
		dir = st.shell.workingDir
	}
	now := time.Now().UTC()
	s := &TerminalSession{
		ID:        uuid.NewString()[:8],
		Dir:       dir,
		CreatedAt: now,
		LastUsed:  now,
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s, nil
}

// Run executes a command in the session's working directory. A bare
// "cd" command moves the session instead of spawning a shell.
func (st *SessionStore) Run(ctx context.Context, id, command string, timeoutSec int) (*ExecResult, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}

	if target, isCD := parseCD(command); isCD {
		return st.changeDir(s, target)
	}

	result, err := st.shell.ExecDir(ctx, command, s.Dir, timeoutSec)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	s.LastUsed = time.Now().UTC()
	s.Commands++
	st.mu.Unlock()
	return result, nil
}

func (st *SessionStore) changeDir(s *TerminalSession, target string) (*ExecResult, error) {
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.Dir, target)
	}
	target = filepath.Clean(target)

	fi, err := os.Stat(target)
	if err != nil || !fi.IsDir() {
		return &ExecResult{
			Stderr:   fmt.Sprintf("cd: no such directory: %s", target),
			ExitCode: 1,
		}, nil
	}

	st.mu.Lock()
	s.Dir = target
	s.LastUsed = time.Now().UTC()
	s.Commands++
	st.mu.Unlock()
	return &ExecResult{Stdout: target}, nil
}

// Close ends a session and releases its guard slot.
func (st *SessionStore) Close(id string) error {
	st.mu.Lock()
	_, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	st.guard.Release()
	return nil
}

// CloseAll ends every open session. Called at session shutdown.
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	n := len(st.sessions)
	st.sessions = make(map[string]*TerminalSession)
	st.mu.Unlock()

	for i := 0; i < n; i++ {
		st.guard.Release()
	}
}

// List returns the open sessions.
func (st *SessionStore) List() []*TerminalSession {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*TerminalSession, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// parseCD reports whether command is a plain directory change and
// returns the target. Compound commands ("cd x && make") are not
// treated as session moves.
func parseCD(command string) (string, bool) {
	trimmed := strings.TrimSpace(command)
	if trimmed != "cd" && !strings.HasPrefix(trimmed, "cd ") {
		return "", false
	}
	if strings.ContainsAny(trimmed, "&|;") {
		return "", false
	}

	target := strings.TrimSpace(strings.TrimPrefix(trimmed, "cd"))
	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		target = home
	}
	return target, true
}
