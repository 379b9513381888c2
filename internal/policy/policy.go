// Package policy authorizes tool invocations and caps concurrently
// open interactive sessions.
package policy

import (
	"fmt"
)

// Decision is the outcome of a tool authorization lookup.
type Decision int

const (
	// Allow executes the tool immediately.
	Allow Decision = iota
	// Prompt requires an affirmative user confirmation first.
	Prompt
	// Deny blocks the tool; the turn continues with an error result.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Prompt:
		return "prompt"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// ParseDecision converts a config string to a Decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "allow":
		return Allow, nil
	case "prompt", "":
		return Prompt, nil
	case "deny":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("unknown policy %q (valid: allow, prompt, deny)", s)
	}
}

// Mode selects the permission mode for a session. It is chosen at
// session construction and never mutated, keeping Authorize pure.
type Mode int

const (
	// ModeStandard consults the per-tool table and default decision.
	ModeStandard Mode = iota
	// ModeUnrestricted allows every tool regardless of the stored
	// table. Intended only for non-interactive, automated execution.
	ModeUnrestricted
)

// Guard answers authorization requests for tool invocations. The
// decision table is immutable after construction; Authorize has no
// side effects.
type Guard struct {
	mode         Mode
	defaultRule  Decision
	perTool      map[string]Decision
	sessionGuard *SessionGuard
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMode sets the permission mode.
func WithMode(m Mode) GuardOption {
	return func(g *Guard) { g.mode = m }
}

// WithSessionLimit caps concurrently open session-based tools.
func WithSessionLimit(max int) GuardOption {
	return func(g *Guard) { g.sessionGuard = NewSessionGuard(max) }
}

// NewGuard creates a guard with the given per-tool decisions and
// default rule for unlisted tools.
func NewGuard(perTool map[string]Decision, defaultRule Decision, opts ...GuardOption) *Guard {
	g := &Guard{
		mode:        ModeStandard,
		defaultRule: defaultRule,
		perTool:     make(map[string]Decision, len(perTool)),
	}
	for name, d := range perTool {
		g.perTool[name] = d
	}
	for _, o := range opts {
		o(g)
	}
	if g.sessionGuard == nil {
		g.sessionGuard = NewSessionGuard(DefaultMaxSessions)
	}
	return g
}

// Authorize returns the decision for a tool name. Lookup order:
// explicit per-tool policy, then the default rule. In unrestricted
// mode every lookup returns Allow.
func (g *Guard) Authorize(toolName string) Decision {
	if g.mode == ModeUnrestricted {
		return Allow
	}
	if d, ok := g.perTool[toolName]; ok {
		return d
	}
	return g.defaultRule
}

// Sessions returns the session concurrency guard shared by all
// session-based tool executions under this guard.
func (g *Guard) Sessions() *SessionGuard {
	return g.sessionGuard
}
