// Package compaction owns the canonical conversation history and keeps
// it within configured size, age, and memory bounds.
package compaction

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a history entry.
type MessageType int

const (
	UserMessage MessageType = iota
	AssistantMessage
	ToolResult
	SystemNote
	// CompactionSummary marks the synthesized entry that replaces an
	// evicted run of messages. Never re-expanded, never evicted.
	CompactionSummary
)

func (t MessageType) String() string {
	switch t {
	case UserMessage:
		return "user"
	case AssistantMessage:
		return "assistant"
	case ToolResult:
		return "tool_result"
	case SystemNote:
		return "system"
	case CompactionSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Priority orders messages for eviction. Lower priorities are evicted
// first; Critical messages go only when the ceiling cannot be met
// without them.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Message is an immutable conversation history entry. It is created by
// AddMessage and owned exclusively by the history thereafter.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Size      int64       `json:"size"`
	Type      MessageType `json:"type"`
	Priority  Priority    `json:"priority"`
	// Confidence estimates how likely the message still matters to the
	// current context. Entries below the configured minimum are evicted
	// first.
	Confidence float64 `json:"confidence"`
	// ToolName and ToolCallID are set for ToolResult entries.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls is set on AssistantMessage entries that requested tool
	// execution. Providers require the requesting entry to precede its
	// tool results, so the request must survive in the history.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord is one tool invocation requested by an assistant
// message, stored provider-neutrally.
type ToolCallRecord struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Keyword sets used by analyzePriority. Substring matched against
// lowercased content.
var (
	securityKeywords = []string{"password", "secret", "token", "credential", "api key", "apikey"}
	decisionKeywords = []string{"decided", "decision", "agreed", "must", "requirement", "always", "never"}
	codeKeywords     = []string{"```", "func ", "class ", "def ", "diff --git"}
)

func containsAny(content string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}

// analyzePriority assigns an eviction priority from message type and
// content signals. Security-related content is always critical.
func analyzePriority(content string, t MessageType) Priority {
	lower := strings.ToLower(content)

	if containsAny(lower, securityKeywords) {
		return PriorityCritical
	}

	switch t {
	case SystemNote:
		return PriorityCritical
	case UserMessage:
		if containsAny(lower, decisionKeywords) || containsAny(lower, codeKeywords) {
			return PriorityHigh
		}
		return PriorityNormal
	case AssistantMessage:
		if containsAny(lower, decisionKeywords) {
			return PriorityHigh
		}
		return PriorityNormal
	case ToolResult:
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
			return PriorityHigh
		}
		return PriorityLow
	case CompactionSummary:
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// confidenceFor maps a priority to an initial confidence score.
func confidenceFor(p Priority) float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.8
	case PriorityNormal:
		return 0.5
	default:
		return 0.2
	}
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseMessageType(s string) MessageType {
	switch s {
	case "user":
		return UserMessage
	case "assistant":
		return AssistantMessage
	case "tool_result":
		return ToolResult
	case "summary":
		return CompactionSummary
	default:
		return SystemNote
	}
}

func parsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// roleFor returns the wire-level role string for a message type.
func roleFor(t MessageType) string {
	switch t {
	case UserMessage:
		return "user"
	case AssistantMessage:
		return "assistant"
	case ToolResult:
		return "tool"
	default:
		return "system"
	}
}
