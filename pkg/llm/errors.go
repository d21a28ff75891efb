package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies completion failures.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error is a structured completion error with classification.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable implements retry.RetryableError without importing retry.
func (e *Error) IsRetryable() bool { return e.Retryable }

// NewError creates a structured completion error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

// ClassifyError categorizes a raw provider error into a structured Error so
// callers can distinguish "the arbiter failed" from "the arbiter answered".
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)

	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return NewError(ErrorTypeModel, "model not found", false, err)

	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "context canceled"):
		return NewError(ErrorTypeTimeout, "request timeout", true, err)

	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host"):
		return NewError(ErrorTypeEndpoint, "connection failed", true, err)

	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeUnknown, "rate limited", true, err)

	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	}

	return NewError(ErrorTypeUnknown, "completion error", false, err)
}
