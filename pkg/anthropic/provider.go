package anthropic

import (
	"context"
	"errors"

	"github.com/sells-group/venue-research/pkg/llm"
)

// Provider adapts a Client to llm.Provider.
type Provider struct {
	client Client
}

// NewProvider wraps client as an llm.Provider.
func NewProvider(client Client) *Provider {
	return &Provider{client: client}
}

// Name identifies the provider in logs and errors.
func (p *Provider) Name() string { return "anthropic" }

// Complete sends req as a single user turn.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.client.CreateMessage(ctx, MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		CacheSystem: req.CacheSystem,
		User:        req.User,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	return &llm.Response{
		Text:       resp.Text,
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}, nil
}

func (p *Provider) classify(ctx context.Context, err error) error {
	if llm.IsTimeout(ctx, err) {
		return &llm.Error{Kind: llm.KindTimeout, Provider: p.Name(), Err: err}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &llm.Error{Kind: llm.KindForStatus(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Provider: p.Name(), Err: err}
	}
	// Transport failures without a status are treated as server-side.
	return &llm.Error{Kind: llm.KindServerError, Provider: p.Name(), Err: err}
}
