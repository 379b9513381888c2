package agent

import (
	"fmt"
	"strings"
)

// ErrProviderFailure is returned when a model call fails after the
// retry budget is exhausted. The turn ends; the session stays alive.
type ErrProviderFailure struct {
	Model string
	Err   error
}

func (e *ErrProviderFailure) Error() string {
	return fmt.Sprintf("provider call failed (model %s): %v", e.Model, e.Err)
}

func (e *ErrProviderFailure) Unwrap() error { return e.Err }

// ErrTurnLimit is returned when a turn exceeds its tool-call iteration
// budget without the model producing a final response.
type ErrTurnLimit struct {
	Iterations int
}

func (e *ErrTurnLimit) Error() string {
	return fmt.Sprintf("turn exceeded %d iterations without completing", e.Iterations)
}

// overflowSignatures identify a provider rejection caused by the
// request exceeding the model's context window. Matched
// case-insensitively against the error text.
var overflowSignatures = []string{
	"context length",
	"context window",
	"maximum context",
	"model is overloaded",
	"reduce the amount",
	"token limit",
	"503",
}

// isContextOverflow reports whether a provider error indicates the
// conversation no longer fits the model's context window. These are
// recovered by forced compaction, not by backoff.
func isContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range overflowSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
