package turn

import "fmt"

// ErrorType classifies turn-level failures.
type ErrorType string

// Error taxonomy. InsufficientCredits and Validation are terminal;
// ServiceUnavailable, Timeout, and RateLimited are retryable up to the
// retry cap; Unexpected is the terminal catch-all.
const (
	ErrInsufficientCredits ErrorType = "insufficient_credits"
	ErrServiceUnavailable  ErrorType = "service_unavailable"
	ErrTimeout             ErrorType = "timeout"
	ErrRateLimited         ErrorType = "rate_limited"
	ErrValidation          ErrorType = "validation_error"
	ErrUnexpected          ErrorType = "unexpected_error"
)

// ErrorInfo is the error-shaped state update nodes produce instead of
// letting an error escape into the executor.
type ErrorInfo struct {
	Code      string         `json:"code,omitempty"`
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

// Error implements the error interface.
func (e *ErrorInfo) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ErrorInfo) IsRetryable() bool {
	return e != nil && e.Retryable
}

// NewError builds an ErrorInfo with retryability derived from the type.
func NewError(errType ErrorType, message string) *ErrorInfo {
	retryable := false
	switch errType {
	case ErrServiceUnavailable, ErrTimeout, ErrRateLimited:
		retryable = true
	}
	return &ErrorInfo{Type: errType, Message: message, Retryable: retryable}
}

// WithDetail attaches a key/value detail and returns the receiver for
// chaining.
func (e *ErrorInfo) WithDetail(key string, value any) *ErrorInfo {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}
