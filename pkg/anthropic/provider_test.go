package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-research/pkg/llm"
)

func TestProvider_Complete(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 2048 &&
			req.System == "system prompt" && req.CacheSystem &&
			req.User == "venues: Cafe Luz"
	})).Return(&MessageResponse{
		Model:      "claude-haiku-4-5-20251001",
		Text:       `{"venues":[]}`,
		StopReason: "end_turn",
		Usage:      llm.Usage{InputTokens: 900, OutputTokens: 40, CacheReadTokens: 700},
	}, nil)

	p := NewProvider(mc)
	resp, err := p.Complete(context.Background(), llm.Request{
		Model:       "claude-haiku-4-5-20251001",
		System:      "system prompt",
		User:        "venues: Cafe Luz",
		MaxTokens:   2048,
		CacheSystem: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"venues":[]}`, resp.Text)
	assert.Equal(t, 900, resp.Usage.InputTokens)
	assert.Equal(t, 700, resp.Usage.CacheReadTokens)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "anthropic", p.Name())
	mc.AssertExpectations(t)
}

func TestProvider_Complete_UncachedSystem(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req MessageRequest) bool {
		return req.System == "s" && !req.CacheSystem
	})).Return(&MessageResponse{Text: "ok"}, nil)

	resp, err := NewProvider(mc).Complete(context.Background(), llm.Request{System: "s", User: "u", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestProvider_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"rate limited", &APIError{StatusCode: 429, Err: errors.New("rate_limit_error")}, llm.KindRateLimited},
		{"overloaded", &APIError{StatusCode: 529, Err: errors.New("overloaded_error")}, llm.KindServerError},
		{"bad request", &APIError{StatusCode: 400, Err: errors.New("invalid_request_error")}, llm.KindClientError},
		{"deadline", context.DeadlineExceeded, llm.KindTimeout},
		{"transport", errors.New("connection reset by peer"), llm.KindServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := &mockClient{}
			mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewProvider(mc).Complete(context.Background(), llm.Request{User: "u"})
			require.Error(t, err)
			var le *llm.Error
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.want, le.Kind)
		})
	}
}
