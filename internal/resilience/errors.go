package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry. StatusCode is the HTTP
// status that produced it, or 0.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// permanentPatterns are provider messages about credentials or billing.
var permanentPatterns = []string{
	"invalid x-api-key",
	"invalid api key",
	"incorrect api key",
	"authentication_error",
	"permission_error",
	"credit balance is too low",
	"insufficient balance",
	"insufficient_quota",
	"billing",
	"account is disabled",
	"account has been disabled",
	"organization has been disabled",
}

// IsPermanent returns true if err carries one of the known non-retryable
// provider messages. A permanent error overrides any transient wrapping.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), permanentPatterns)
}

// transientPatterns match network and overload failures that arrive as
// plain errors rather than typed ones.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"overloaded",
}

// transientStatus lists HTTP statuses worth retrying. 529 is Anthropic's
// overloaded status.
var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	529:                            true,
}

// IsTransient reports whether err is worth retrying. Typed transient errors
// and network failures qualify; permanent errors never do.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return containsAny(strings.ToLower(err.Error()), transientPatterns)
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	return transientStatus[statusCode]
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
