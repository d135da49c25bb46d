// Package credit wraps the prepaid credit service every action handler
// meters through. The service owns balance atomicity; this package only
// provides the client contract, typed errors, and transports.
package credit

import (
	"context"
	"fmt"
)

// Service is the external credit API consumed by the action handler
// protocol. All balance changes go through Check/Deduct/Refund; the turn
// pipeline never mutates a balance directly.
type Service interface {
	// Check verifies the user can afford amount for the given operation
	// type. Returns *InsufficientError when the balance is too low and
	// *ServiceError for transport or server failures.
	Check(ctx context.Context, userID string, amount float64, opType string) error

	// Deduct charges amount against the user's balance. opID is the
	// idempotency key for the operation; the service deduplicates on it.
	Deduct(ctx context.Context, userID string, amount float64, opType, opID string, details map[string]any) error

	// Refund returns a prior deduction, tagged with the failure reason.
	Refund(ctx context.Context, userID string, amount float64, opType, opID, reason string) error
}

// InsufficientError reports a balance too low for the requested operation.
// Terminal: retrying cannot help, the user has to top up.
type InsufficientError struct {
	Required  float64
	Available float64
}

// Error implements the error interface.
func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: required %.2f, available %.2f", e.Required, e.Available)
}

// IsRetryable always reports false; topping up is on the user.
func (e *InsufficientError) IsRetryable() bool { return false }

// ServiceError reports a credit-service transport or server failure.
type ServiceError struct {
	Op        string // "check", "deduct", "refund"
	Status    int
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("credit %s failed (HTTP %d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("credit %s failed: %s", e.Op, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ServiceError) IsRetryable() bool { return e.Retryable }
