package ai

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// AuthError indicates authentication/authorization failures (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

// ModelNotFoundError indicates the requested model is not available.
type ModelNotFoundError struct{ *APIError }

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: %s", e.APIError.Error())
}

// BadRequestError indicates a 4xx request problem (e.g., 400 validation).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// QuotaExceededError indicates billing/quota problems.
type QuotaExceededError struct{ *APIError }

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.APIError.Error())
}

// ServerError indicates 5xx errors from the provider.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("provider error: %s", e.APIError.Error()) }

// UnreachableError indicates the target runtime is not reachable (e.g., local Ollama down).
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("endpoint unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MissingKeyError means no credential is configured for a provider that needs one.
type MissingKeyError struct{ Provider string }

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s api key is missing (set INSIGHTLOOM_API_KEY or api_key in config)", e.Provider)
}

// EmptyResponseError means the provider answered without usable text.
type EmptyResponseError struct {
	Reason    string
	RequestID string
}

func (e *EmptyResponseError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("empty response (request_id=%s): %s", e.RequestID, e.Reason)
	}
	return "empty response: " + e.Reason
}

// IsConfigError reports failures that no retry can fix: credentials, unknown
// models, exhausted quota.
func IsConfigError(err error) bool {
	var (
		ae *AuthError
		mk *MissingKeyError
		mn *ModelNotFoundError
		qe *QuotaExceededError
	)
	return errors.As(err, &ae) || errors.As(err, &mk) || errors.As(err, &mn) || errors.As(err, &qe)
}

// IsTransient reports failures worth retrying: pacing, provider faults,
// timeouts, dropped connections and empty answers.
func IsTransient(err error) bool {
	var (
		rl *RateLimitError
		se *ServerError
		ue *UnreachableError
		ee *EmptyResponseError
	)
	switch {
	case errors.As(err, &rl), errors.As(err, &se), errors.As(err, &ue), errors.As(err, &ee):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	return isRetryableNetErr(err)
}

// RetryAfter returns the provider's requested wait, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
