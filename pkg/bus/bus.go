// Package bus publishes turn lifecycle and credit events so outboard
// consumers (dashboards, billing reconciliation) can follow the pipeline.
// The default implementation uses NATS, with an in-memory option for tests
// and the one-shot CLI mode.
package bus

import (
	"context"
	"errors"
	"time"
)

// Event subjects. Wildcard subscriptions ("adpilot.>") receive everything.
const (
	SubjectTurnStarted     = "adpilot.turn.started"
	SubjectTurnCompleted   = "adpilot.turn.completed"
	SubjectTurnSuspended   = "adpilot.turn.suspended"
	SubjectActionCompleted = "adpilot.action.completed"
	SubjectCreditDeducted  = "adpilot.credit.deducted"
	SubjectCreditRefunded  = "adpilot.credit.refunded"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the event publication interface. Implementations must be
// safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler runs in a separate goroutine per message. Supports
	// wildcards: "adpilot.turn.*" and "adpilot.>".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message is an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription covers.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL. Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for connect operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "adpilot",
		Timeout: 30 * time.Second,
	}
}
