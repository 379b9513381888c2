package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOllamaChat(t *testing.T) {
	var gotPath string
	var gotBody ollamaChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "test-model",
			CreatedAt:       "2026-08-23T10:00:00.000000000Z",
			Message:         Message{Role: "assistant", Content: "hi there"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       34,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, testLogger())
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if gotPath != "/api/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Stream {
		t.Error("streaming must be disabled on the wire")
	}
	if resp.Message.Content != "hi there" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 34 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
}

func TestOllamaChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, testLogger())
	_, err := c.Chat(context.Background(), ChatRequest{Model: "nope"})
	if err == nil || !strings.Contains(err.Error(), "API error 404") {
		t.Errorf("got %v, want API error 404", err)
	}
}

func TestOllamaChatTextToolCallFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "test-model",
			Message: Message{Role: "assistant", Content: `{"name":"read_file","arguments":{"path":"go.mod"}}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, testLogger())
	resp, err := c.Chat(context.Background(), ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("tool = %q", resp.Message.ToolCalls[0].Function.Name)
	}
	if resp.Message.Content != "" {
		t.Errorf("content should be cleared after extraction, got %q", resp.Message.Content)
	}
}

func TestOllamaDefaultBaseURL(t *testing.T) {
	c := NewOllamaClient("", testLogger())
	if c.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestParseTextToolCalls(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  []string
		none  bool
	}{
		{
			name: "single object",
			in:   `{"name":"shell_exec","arguments":{"command":"ls"}}`,
			want: []string{"shell_exec"},
		},
		{
			name: "array",
			in:   `[{"name":"read_file","arguments":{}},{"name":"list_dir","arguments":{}}]`,
			want: []string{"read_file", "list_dir"},
		},
		{
			name: "tool_call tags",
			in:   `thinking... <tool_call>{"name":"write_file","arguments":{"path":"x"}}</tool_call>`,
			want: []string{"write_file"},
		},
		{name: "plain prose", in: "I cannot do that.", none: true},
		{name: "empty", in: "", none: true},
		{name: "json without name", in: `{"arguments":{}}`, none: true},
		{name: "malformed json", in: `{"name": "broken`, none: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseTextToolCalls(tc.in)
			if tc.none {
				if len(got) != 0 {
					t.Errorf("got %d calls, want none", len(got))
				}
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d calls, want %d", len(got), len(tc.want))
			}
			for i, name := range tc.want {
				if got[i].Function.Name != name {
					t.Errorf("call %d = %q, want %q", i, got[i].Function.Name, name)
				}
			}
		})
	}
}
