package policy

import (
	"fmt"
	"sync/atomic"
)

// DefaultMaxSessions caps concurrently open interactive sessions when
// no explicit limit is configured.
const DefaultMaxSessions = 2

// ErrSessionLimit is returned by Acquire when the cap is reached. The
// tool call is not executed; the turn continues.
type ErrSessionLimit struct {
	Max    int
	Active int
}

func (e *ErrSessionLimit) Error() string {
	return fmt.Sprintf("maximum interactive sessions (%d) exceeded, current active sessions: %d", e.Max, e.Active)
}

// SessionGuard is a bounded counter for session-based (interactive,
// terminal-attached) tools. It is shared across concurrently executing
// tool calls within a turn, so it uses atomic operations rather than a
// lock.
type SessionGuard struct {
	active atomic.Int64
	max    int64
}

// NewSessionGuard creates a guard allowing at most max concurrent
// sessions. A non-positive max falls back to DefaultMaxSessions.
func NewSessionGuard(max int) *SessionGuard {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &SessionGuard{max: int64(max)}
}

// Acquire reserves a session slot. Fails with ErrSessionLimit when the
// counter is at the cap. The compare-and-swap loop guarantees active
// never exceeds max even under concurrent acquires.
func (s *SessionGuard) Acquire() error {
	for {
		cur := s.active.Load()
		if cur >= s.max {
			return &ErrSessionLimit{Max: int(s.max), Active: int(cur)}
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Release frees a session slot. A release at zero is a no-op, not an
// error, to tolerate double-release from cleanup paths.
func (s *SessionGuard) Release() {
	for {
		cur := s.active.Load()
		if cur <= 0 {
			return
		}
		if s.active.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Active returns the current number of open sessions.
func (s *SessionGuard) Active() int {
	return int(s.active.Load())
}

// Max returns the configured cap.
func (s *SessionGuard) Max() int {
	return int(s.max)
}
