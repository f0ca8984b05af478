// Package llm defines the provider-neutral text completion contract used by
// the synthesis passes.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/venue-research/internal/resilience"
)

// Provider completes a system + user prompt.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature *float64

	// CacheSystem asks the provider to cache the system prompt when it
	// supports prompt caching. Providers without caching ignore it.
	CacheSystem bool
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
}

// Response is the text output of one completion call.
type Response struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindServerError ErrorKind = "server_error"
	KindClientError ErrorKind = "client_error"
	KindTimeout     ErrorKind = "timeout"
)

// Error is returned by providers for any failed call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Provider   string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status code onto an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 408:
		return KindTimeout
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}

// IsTimeout reports whether a call failed because its deadline passed.
func IsTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// IsRetryable reports whether a failed call should be attempted again:
// rate limits, server errors and timeouts are, unless the message is one
// of the known permanent account failures.
func IsRetryable(err error) bool {
	if err == nil || resilience.IsPermanent(err) {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		switch le.Kind {
		case KindRateLimited, KindServerError, KindTimeout:
			return true
		case KindClientError:
			return false
		}
		return false
	}
	return resilience.IsTransient(err)
}
