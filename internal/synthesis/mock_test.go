package synthesis

import (
	"context"
	"sync"

	"github.com/sells-group/venue-research/pkg/llm"
)

// fakeProvider answers each request with respond and records every call.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(ctx context.Context, n int, req llm.Request) (*llm.Response, error)
}

func (f *fakeProvider) Name() string { return "anthropic" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(ctx, n, req)
}

func (f *fakeProvider) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Text:  text,
		Model: "claude-haiku-4-5-20251001",
		Usage: llm.Usage{InputTokens: 1000, OutputTokens: 200},
	}
}
