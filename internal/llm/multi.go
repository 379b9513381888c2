package llm

import (
	"context"
	"fmt"
	"sync"
)

// MultiClient fans requests out to per-provider clients keyed by model
// name. The task router picks models freely; this keeps the
// orchestrator unaware of which provider serves which model.
type MultiClient struct {
	mu        sync.RWMutex
	providers map[string]Client // provider name → client
	routes    map[string]string // model name → provider name
	fallback  Client
}

// NewMultiClient creates a multi-provider client. Models with no
// registered route go to fallback, which may be nil.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		providers: make(map[string]Client),
		routes:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers a named provider client.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.mu.Lock()
	m.providers[name] = client
	m.mu.Unlock()
}

// AddModel routes a model name to a registered provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.mu.Lock()
	m.routes[modelName] = providerName
	m.mu.Unlock()
}

// Chat dispatches to the client serving the requested model. A route
// to an unregistered provider falls back rather than failing, so a
// half-configured routing table degrades to the default provider.
func (m *MultiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.RLock()
	client := m.fallback
	if provider, ok := m.routes[req.Model]; ok {
		if c, ok := m.providers[provider]; ok {
			client = c
		}
	}
	m.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return client.Chat(ctx, req)
}
