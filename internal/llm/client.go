package llm

import "context"

// Client is the narrow interface every model provider implements.
// Wire-level request/response mapping lives behind this boundary; the
// runtime core only sees classifiable errors and unified responses.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Chat implements Client.
func (f ClientFunc) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}
