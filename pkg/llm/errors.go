package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across providers. All of them are recoverable:
// the attempt loop converts each into advancing to the next attempt.
var (
	// ErrEmptyResponse marks a transport-level success whose payload
	// carried no usable content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnparseableResponse marks a response that yielded none of the
	// recognized artifact shapes.
	ErrUnparseableResponse = errors.New("no artifact found in response")

	// ErrExhausted is returned after every configured attempt failed.
	ErrExhausted = errors.New("all providers exhausted")

	// ErrNotConfigured marks a provider that is missing its key or is
	// switched off. The attempt loop skips it without consuming retries.
	ErrNotConfigured = errors.New("provider not configured")
)

// TransportError wraps network-level failures (dial, TLS, timeouts,
// HTTP status errors) so they stay distinguishable from errors the
// provider signaled inside a successful exchange.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a failure the provider reported inside an HTTP 200
// body, detected by content inspection rather than status code.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s signaled error: %s", e.Provider, e.Message)
}

// TaskError is a terminal async task outcome: the task reported a
// failure status, its artifact could not be fetched, or the deadline
// passed before it completed.
type TaskError struct {
	Status  string
	Reason  string
	Timeout bool
}

func (e *TaskError) Error() string {
	if e.Timeout {
		return "async task timed out"
	}
	if e.Reason != "" {
		return fmt.Sprintf("async task failed: status=%s reason=%s", e.Status, e.Reason)
	}
	return fmt.Sprintf("async task failed: status=%s", e.Status)
}

// slowRetrySignatures are error text fragments that indicate connection
// level trouble where immediate retries tend to hit the same wall.
var slowRetrySignatures = []string{
	"ssl",
	"tls",
	"handshake",
	"timed out",
	"timeout",
	"deadline exceeded",
}

// IsSlowRetrySignature reports whether the error text matches a
// TLS/timeout signature that warrants the longer retry delay.
func IsSlowRetrySignature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range slowRetrySignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
