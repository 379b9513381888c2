package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OllamaClient is a client for the Ollama chat API. It implements
// Client; wire-format details never leave this file.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Large models with tools need time.
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// ollamaChatRequest is the wire request for /api/chat.
type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// ollamaChatResponse is the wire response from /api/chat.
type ollamaChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wire := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
	}

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var wireResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Some models emit tool calls as JSON in the content instead of the
	// native tool_calls field.
	if len(wireResp.Message.ToolCalls) == 0 && wireResp.Message.Content != "" {
		if parsed := parseTextToolCalls(wireResp.Message.Content); len(parsed) > 0 {
			wireResp.Message.ToolCalls = parsed
			wireResp.Message.Content = ""
		}
	}

	out := &ChatResponse{
		Model:         wireResp.Model,
		Message:       wireResp.Message,
		Done:          wireResp.Done,
		InputTokens:   wireResp.PromptEvalCount,
		OutputTokens:  wireResp.EvalCount,
		TotalDuration: time.Duration(wireResp.TotalDuration),
	}
	if t, err := time.Parse(time.RFC3339Nano, wireResp.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	return out, nil
}

// parseTextToolCalls extracts tool calls from content text. Handles a
// raw JSON object, a JSON array, and <tool_call>...</tool_call> tags.
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if strings.Contains(content, "<tool_call>") {
		start := strings.Index(content, "<tool_call>")
		end := strings.Index(content, "</tool_call>")
		if end > start {
			content = strings.TrimSpace(content[start+len("<tool_call>") : end])
		}
	}

	if !strings.HasPrefix(content, "{") && !strings.HasPrefix(content, "[") {
		return nil
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	var calls []textCall
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &calls); err != nil {
			return nil
		}
	} else {
		var single textCall
		if err := json.Unmarshal([]byte(content), &single); err != nil {
			return nil
		}
		calls = []textCall{single}
	}

	var out []ToolCall
	for _, c := range calls {
		if c.Name == "" {
			continue
		}
		var tc ToolCall
		tc.Function.Name = c.Name
		tc.Function.Arguments = c.Arguments
		out = append(out, tc)
	}
	return out
}
