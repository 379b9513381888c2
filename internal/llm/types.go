// Package llm defines the provider-neutral model interface.
package llm

import (
	"time"
)

// Message represents a chat message sent to or received from a model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier, required for pairing
	// a tool result back to its request.
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any provider. All fields use
// proper Go types — wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}

// ChatRequest bundles everything a provider needs for one call.
type ChatRequest struct {
	Model    string
	Messages []Message
	// Tools carries tool descriptors in the common function-call shape.
	Tools []map[string]any
}
