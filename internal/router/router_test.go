package router

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyHeuristic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  TaskClass
	}{
		{"short command", "list files", TaskSimple},
		{"fenced code", "fix this function:\n```go\nfunc main() {}\n```", TaskCodegenHeavy},
		{"diff marker", "apply this change\ndiff --git a/x b/x", TaskCodegenHeavy},
		{"retrieval marker", "search the docs for the websocket upgrade handshake and summarize what you find there", TaskRetrievalHeavy},
		{"complex marker", "please decompose this migration into independent workstreams and sequence them carefully", TaskComplex},
		{"long input", strings.Repeat("describe the module layout and dependencies in detail ", 30), TaskComplex},
		{
			"medium prose",
			"rename the helper in the config loader so that it matches the naming convention used by the rest of this package",
			TaskSimple,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHeuristic(tt.input); got != tt.want {
				t.Errorf("ClassifyHeuristic(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	input := "refactor module internal/llm to accept a context on every call"
	first := ClassifyHeuristic(input)
	for i := 0; i < 10; i++ {
		if got := ClassifyHeuristic(input); got != first {
			t.Fatalf("classification changed between calls: %v then %v", first, got)
		}
	}
}

func TestRouteDisabledPassthrough(t *testing.T) {
	r := New(testLogger(), Config{
		Enabled: false,
		Models:  map[string]string{"simple": "tiny-model"},
	})

	model, decision := r.Route("list files", "default-model")
	if model != "default-model" {
		t.Errorf("disabled router returned %q, want caller's model", model)
	}
	if decision.Routed {
		t.Error("disabled router must not mark the decision as routed")
	}
}

func TestRouteMapsClass(t *testing.T) {
	r := New(testLogger(), Config{
		Enabled: true,
		Models: map[string]string{
			"simple":        "tiny-model",
			"codegen_heavy": "coder-model",
		},
	})

	model, decision := r.Route("list files", "default-model")
	if model != "tiny-model" {
		t.Errorf("got model %q, want tiny-model", model)
	}
	if !decision.Routed {
		t.Error("expected routed decision")
	}
	if decision.Class != "simple" {
		t.Errorf("got class %q, want simple", decision.Class)
	}
	if decision.RequestID == "" {
		t.Error("decision should carry a request ID")
	}

	model, _ = r.Route("```python\nprint(1)\n```", "default-model")
	if model != "coder-model" {
		t.Errorf("got model %q, want coder-model", model)
	}
}

func TestRouteUnmappedClassFallsBack(t *testing.T) {
	r := New(testLogger(), Config{
		Enabled: true,
		Models:  map[string]string{"simple": "tiny-model"},
	})

	model, decision := r.Route(strings.Repeat("analyze the full dependency graph ", 50), "default-model")
	if model != "default-model" {
		t.Errorf("unmapped class should fall back, got %q", model)
	}
	if decision.Routed {
		t.Error("fallback must not be marked routed")
	}
}

func TestAuditLogBounded(t *testing.T) {
	r := New(testLogger(), Config{Enabled: true, MaxAuditLog: 5})

	for i := 0; i < 20; i++ {
		r.Route("list files", "m")
	}

	log := r.AuditLog(0)
	if len(log) != 5 {
		t.Errorf("audit log length = %d, want 5", len(log))
	}

	limited := r.AuditLog(2)
	if len(limited) != 2 {
		t.Errorf("AuditLog(2) length = %d, want 2", len(limited))
	}
}

func TestStats(t *testing.T) {
	r := New(testLogger(), Config{
		Enabled: true,
		Models:  map[string]string{"simple": "tiny-model"},
	})

	r.Route("list files", "m")
	r.Route("list files", "m")

	stats := r.GetStats()
	if stats.TotalRequests != 2 {
		t.Errorf("total requests = %d, want 2", stats.TotalRequests)
	}
	if stats.ModelCounts["tiny-model"] != 2 {
		t.Errorf("tiny-model count = %d, want 2", stats.ModelCounts["tiny-model"])
	}
	if stats.ClassCounts["simple"] != 2 {
		t.Errorf("simple count = %d, want 2", stats.ClassCounts["simple"])
	}
}
