// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrUnknownTool is returned when a tool call names a tool that is not
// registered. This is a capability mismatch, not a transient failure;
// callers should report it back to the model rather than retry.
type ErrUnknownTool struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.ToolName)
}

// ErrToolDisabled is returned when a tool exists but its backing
// capability is switched off in configuration.
type ErrToolDisabled struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrToolDisabled) Error() string {
	return fmt.Sprintf("tool %q is disabled: %s", e.ToolName, e.Reason)
}
