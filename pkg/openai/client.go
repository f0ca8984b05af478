// Package openai adapts the OpenAI chat completions API to llm.Provider.
package openai

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/venue-research/pkg/llm"
)

// ChatClient is the subset of *goopenai.Client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Provider implements llm.Provider on top of go-openai.
type Provider struct {
	client ChatClient
}

// NewClient builds a go-openai client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL string) *goopenai.Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return goopenai.NewClientWithConfig(cfg)
}

// NewProvider wraps client as an llm.Provider.
func NewProvider(client ChatClient) *Provider {
	return &Provider{client: client}
}

// Name identifies the provider in logs and errors.
func (p *Provider) Name() string { return "openai" }

// Complete sends a system + user chat completion. CacheSystem is ignored;
// OpenAI caches long shared prefixes on its own.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.User})

	creq := goopenai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.Error{Kind: llm.KindServerError, Provider: p.Name(), Err: eris.New("openai: no choices returned")}
	}

	cached := 0
	if resp.Usage.PromptTokensDetails != nil {
		cached = resp.Usage.PromptTokensDetails.CachedTokens
	}
	return &llm.Response{
		Text:       resp.Choices[0].Message.Content,
		Model:      resp.Model,
		StopReason: string(resp.Choices[0].FinishReason),
		Usage: llm.Usage{
			InputTokens:     resp.Usage.PromptTokens - cached,
			OutputTokens:    resp.Usage.CompletionTokens,
			CacheReadTokens: cached,
		},
	}, nil
}

func (p *Provider) classify(ctx context.Context, err error) error {
	wrapped := eris.Wrap(err, "openai: create chat completion")
	if llm.IsTimeout(ctx, err) {
		return &llm.Error{Kind: llm.KindTimeout, Provider: p.Name(), Err: wrapped}
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &llm.Error{Kind: llm.KindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Provider: p.Name(), Err: wrapped}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.Error{Kind: llm.KindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Provider: p.Name(), Err: wrapped}
	}
	return &llm.Error{Kind: llm.KindServerError, Provider: p.Name(), Err: wrapped}
}
