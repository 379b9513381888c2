package llm

import (
	"context"
	"strings"
	"testing"
)

type stubClient struct {
	name  string
	calls int
}

func (s *stubClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	return &ChatResponse{
		Model:   req.Model,
		Message: Message{Role: "assistant", Content: "from " + s.name},
		Done:    true,
	}, nil
}

func TestMultiClientRoutesByModel(t *testing.T) {
	local := &stubClient{name: "local"}
	remote := &stubClient{name: "remote"}

	m := NewMultiClient(local)
	m.AddProvider("remote", remote)
	m.AddModel("big-model", "remote")

	resp, err := m.Chat(context.Background(), ChatRequest{Model: "big-model"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Message.Content != "from remote" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if remote.calls != 1 || local.calls != 0 {
		t.Errorf("calls: remote=%d local=%d", remote.calls, local.calls)
	}
}

func TestMultiClientFallback(t *testing.T) {
	local := &stubClient{name: "local"}
	m := NewMultiClient(local)

	resp, err := m.Chat(context.Background(), ChatRequest{Model: "unmapped"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Message.Content != "from local" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestMultiClientUnknownProviderFallsBack(t *testing.T) {
	local := &stubClient{name: "local"}
	m := NewMultiClient(local)
	m.AddModel("orphan", "missing-provider")

	resp, err := m.Chat(context.Background(), ChatRequest{Model: "orphan"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Message.Content != "from local" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestMultiClientNoProvider(t *testing.T) {
	m := NewMultiClient(nil)

	_, err := m.Chat(context.Background(), ChatRequest{Model: "anything"})
	if err == nil || !strings.Contains(err.Error(), "no provider") {
		t.Errorf("got %v, want no-provider error", err)
	}
}
