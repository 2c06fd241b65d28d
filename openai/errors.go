package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed remote call. RateLimited, Timeout and
// Transient are retryable; ContentRejected and Unknown are terminal for
// the page.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindTransient       ErrorKind = "transient"
	KindContentRejected ErrorKind = "content_rejected"
	KindUnknown         ErrorKind = "unknown"
)

// CallError is the typed failure returned by the vision-model client.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("openai: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai: %s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class permits another attempt.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	}
	return false
}

// Classify maps an arbitrary error from the remote call into an ErrorKind.
func Classify(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable reports whether err belongs to a retryable failure class.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	}
	return false
}

// classifyStatus maps an HTTP error response to a CallError.
func classifyStatus(status int, body string) *CallError {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindTransient
	case status == http.StatusBadRequest && looksLikePolicyRejection(body):
		kind = KindContentRejected
	}
	return &CallError{Kind: kind, StatusCode: status, Message: truncate(body, 512)}
}

func looksLikePolicyRejection(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "content_policy") ||
		strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "safety system")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
