package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlukens/codewright/internal/prompts"
)

// Summarizer generates summaries of evicted messages.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// LLMSummarizer uses a model call to generate summaries.
type LLMSummarizer struct {
	llmFunc func(ctx context.Context, prompt string) (string, error)
}

// NewLLMSummarizer creates a summarizer backed by a model call.
func NewLLMSummarizer(llmFunc func(ctx context.Context, prompt string) (string, error)) *LLMSummarizer {
	return &LLMSummarizer{llmFunc: llmFunc}
}

// Summarize generates a summary of the messages using the model.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	var sb strings.Builder
	for _, m := range messages {
		role := m.Role
		if len(role) > 0 {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", role, m.Content))
	}

	return s.llmFunc(ctx, prompts.CompactionPrompt(sb.String()))
}

// ExtractiveSummarizer creates a basic summary without a model call.
// Used as the fallback when no model is available or the model errors.
type ExtractiveSummarizer struct{}

// Summarize creates a simple extractive summary.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	var topics []string
	toolCalls := 0
	failures := 0

	for _, m := range messages {
		if m.Type == UserMessage && len(m.Content) < 100 {
			topics = append(topics, "- "+m.Content)
		}
		if m.Type == ToolResult {
			toolCalls++
			if strings.Contains(strings.ToLower(m.Content), "error") {
				failures++
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("Topics discussed:\n")
	if len(topics) > 0 {
		if len(topics) > 5 {
			topics = topics[:5]
		}
		for _, t := range topics {
			sb.WriteString(t + "\n")
		}
	} else {
		sb.WriteString("- General conversation\n")
	}

	if toolCalls > 0 {
		sb.WriteString(fmt.Sprintf("\nActions taken:\n- %d tool calls", toolCalls))
		if failures > 0 {
			sb.WriteString(fmt.Sprintf(" (%d failed)", failures))
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// formatSummary builds the content of the summary entry. It records
// the evicted count and period, folds in the previous summary when one
// exists, and appends the generated text.
func formatSummary(prev *Message, evicted []Message, totalEvicted int, text string) string {
	var sb strings.Builder
	sb.WriteString("[Conversation Summary]\n")

	if len(evicted) > 0 {
		sb.WriteString(fmt.Sprintf("Period: %s to %s\n",
			evicted[0].Timestamp.Format("2006-01-02 15:04"),
			evicted[len(evicted)-1].Timestamp.Format("2006-01-02 15:04")))
	}
	sb.WriteString(fmt.Sprintf("Messages compacted: %d (total so far: %d)\n\n", len(evicted), totalEvicted))

	if prev != nil {
		sb.WriteString("Earlier summary:\n")
		sb.WriteString(truncateSummary(prev.Content, maxFoldedSummaryBytes))
		sb.WriteString("\n\n")
	}

	sb.WriteString(text)
	return sb.String()
}

// maxFoldedSummaryBytes caps how much of the previous summary is
// carried into the next one. Without a bound the summary entry grows
// monotonically across compactions and defeats the size reduction.
const maxFoldedSummaryBytes = 2048

func truncateSummary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n[... earlier summary truncated ...]"
}
