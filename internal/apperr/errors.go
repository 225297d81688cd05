// Package apperr defines the error kinds surfaced by InsightLoom operations.
// Callers classify with errors.As; every kind unwraps to its cause.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError rejects input before any work is done. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "invalid input: " + e.Message
}

// Validation is shorthand for a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseError means the dataset became unreadable mid-stream.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse dataset at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse dataset: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LLMError is a transient text-generation failure that survived all retries,
// or a malformed/empty response.
type LLMError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *LLMError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// LLMConfigError is a credential or configuration problem with the
// text-generation endpoint. Never retried.
type LLMConfigError struct {
	Err error
}

func (e *LLMConfigError) Error() string {
	return fmt.Sprintf("text generation misconfigured: %v", e.Err)
}

func (e *LLMConfigError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "report"
	}
	return fmt.Sprintf("%s not found: %s", kind, e.ID)
}

// NotFound is shorthand for a report NotFoundError.
func NotFound(id string) error { return &NotFoundError{Kind: "report", ID: id} }

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind returns a stable short name for err, used in API responses and logs.
func Kind(err error) string {
	var (
		ve *ValidationError
		pe *ParseError
		le *LLMError
		ce *LLMConfigError
		ne *NotFoundError
		se *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &ce):
		return "llm_config"
	case errors.As(err, &le):
		return "llm"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &se):
		return "persistence"
	default:
		return "internal"
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
