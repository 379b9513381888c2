// Package router handles model tier selection for outgoing requests.
package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TaskClass is a coarse classification of a request's complexity used
// to pick a model tier.
type TaskClass int

const (
	TaskSimple TaskClass = iota
	TaskStandard
	TaskComplex
	TaskCodegenHeavy
	TaskRetrievalHeavy
)

func (c TaskClass) String() string {
	switch c {
	case TaskSimple:
		return "simple"
	case TaskStandard:
		return "standard"
	case TaskComplex:
		return "complex"
	case TaskCodegenHeavy:
		return "codegen_heavy"
	case TaskRetrievalHeavy:
		return "retrieval_heavy"
	default:
		return "unknown"
	}
}

// Config holds router configuration. When Enabled is false, Route
// returns the caller's model unchanged regardless of task class.
type Config struct {
	Enabled bool
	// Models maps TaskClass.String() → model identifier. Classes with
	// no entry (or an empty entry) fall back to the caller's model.
	Models map[string]string
	// MaxAuditLog bounds the in-memory decision log.
	MaxAuditLog int
}

// Decision records why a model was selected.
type Decision struct {
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	QueryLength int       `json:"query_length"`
	Class       string    `json:"class"`
	Selected    string    `json:"model_selected"`
	Routed      bool      `json:"routed"` // false when disabled or no mapping
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	ModelCounts   map[string]int64 `json:"model_counts"`
	ClassCounts   map[string]int64 `json:"class_counts"`
}

// Router selects models based on request characteristics. Classification
// and routing are pure; the router only accumulates an audit trail.
type Router struct {
	logger *slog.Logger
	config Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// New creates a router with the given configuration.
func New(logger *slog.Logger, config Config) *Router {
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	return &Router{
		logger:   logger,
		config:   config,
		auditLog: make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			ModelCounts: make(map[string]int64),
			ClassCounts: make(map[string]int64),
		},
	}
}

// markdown is a shared parser used to detect fenced code blocks in
// incoming requests. Parsing is read-only and goroutine-safe.
var markdown = goldmark.New()

// containsCodeFence reports whether the input contains a fenced or
// indented code block when parsed as markdown.
func containsCodeFence(input string) bool {
	src := []byte(input)
	root := markdown.Parser().Parse(text.NewReader(src))

	found := false
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

// Heuristic marker sets. Substring matched against the lowercased input.
var (
	patchMarkers = []string{
		"diff --git", "apply_patch", "unified diff", "edit_file", "create_file",
	}
	retrievalMarkers = []string{
		"search", "web", "docs", "cite", "source", "up-to-date",
	}
	complexMarkers = []string{
		"plan", "multi-step", "decompose", "orchestrate", "architecture",
		"benchmark", "implement end-to-end", "design api", "refactor module",
		"evaluate", "test suite",
	}
)

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ClassifyHeuristic classifies an input text deterministically.
// Fenced code blocks and diff/patch markers dominate, then retrieval
// markers, then complexity markers and length.
func ClassifyHeuristic(input string) TaskClass {
	lower := strings.ToLower(input)

	if containsCodeFence(input) || containsAny(lower, patchMarkers) {
		return TaskCodegenHeavy
	}
	if containsAny(lower, retrievalMarkers) {
		return TaskRetrievalHeavy
	}
	if containsAny(lower, complexMarkers) || len(lower) > 1200 {
		return TaskComplex
	}
	if len(lower) < 120 {
		return TaskSimple
	}
	return TaskStandard
}

// Route classifies the input and returns the model to use. fallback is
// the caller's already-selected model; it is returned unchanged when
// routing is disabled or no mapping exists for the class.
func (r *Router) Route(input, fallback string) (string, *Decision) {
	decision := &Decision{
		RequestID:   uuid.NewString(),
		Timestamp:   time.Now(),
		QueryLength: len(input),
	}

	if !r.config.Enabled {
		decision.Class = TaskStandard.String()
		decision.Selected = fallback
		r.recordDecision(*decision)
		return fallback, decision
	}

	class := ClassifyHeuristic(input)
	decision.Class = class.String()

	model := fallback
	if mapped, ok := r.config.Models[class.String()]; ok && mapped != "" {
		model = mapped
		decision.Routed = true
	}
	decision.Selected = model

	r.recordDecision(*decision)

	r.logger.Debug("model routed",
		"request_id", decision.RequestID,
		"class", decision.Class,
		"model", model,
		"routed", decision.Routed,
	)

	return model, decision
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.ModelCounts[d.Selected]++
	r.stats.ClassCounts[d.Class]++
}

// AuditLog returns the most recent routing decisions.
func (r *Router) AuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
