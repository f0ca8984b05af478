package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindForStatus(429))
	assert.Equal(t, KindServerError, KindForStatus(500))
	assert.Equal(t, KindServerError, KindForStatus(529))
	assert.Equal(t, KindTimeout, KindForStatus(408))
	assert.Equal(t, KindClientError, KindForStatus(400))
	assert.Equal(t, KindClientError, KindForStatus(401))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.Background(), fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(context.Background(), context.Canceled))

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	assert.True(t, IsTimeout(ctx, errors.New("request aborted")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &Error{Kind: KindRateLimited, StatusCode: 429, Err: errors.New("slow down")}, true},
		{"server", &Error{Kind: KindServerError, StatusCode: 503, Err: errors.New("unavailable")}, true},
		{"timeout", &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}, true},
		{"client", &Error{Kind: KindClientError, StatusCode: 400, Err: errors.New("bad request")}, false},
		{"bad credentials", &Error{Kind: KindClientError, StatusCode: 401, Err: errors.New("invalid x-api-key")}, false},
		{"billing on 5xx", &Error{Kind: KindServerError, StatusCode: 500, Err: errors.New("credit balance is too low")}, false},
		{"wrapped", fmt.Errorf("pass a: %w", &Error{Kind: KindRateLimited}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindRateLimited, StatusCode: 429, Provider: "anthropic", Err: errors.New("slow down")}
	assert.Equal(t, "anthropic: rate_limited (429): slow down", err.Error())

	err = &Error{Kind: KindTimeout, Provider: "openai", Err: context.DeadlineExceeded}
	assert.Equal(t, "openai: timeout: context deadline exceeded", err.Error())
}
