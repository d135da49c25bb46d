// Package reliability provides the exponential-backoff retry wrapper shared
// by every network-calling component: the classifier client, the credit
// service, and the action execution backends.
package reliability

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/adpilot-ai/adpilot/pkg/telemetry"
)

func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0.5
	}
	n := binary.BigEndian.Uint64(b[:]) >> 11 // 53 bits
	return float64(n) / float64(uint64(1)<<53)
}

// Retryable is implemented by errors that know whether a retry can help.
// The credit service, model client, and turn error types all implement it.
type Retryable interface {
	IsRetryable() bool
}

// Strategy implements exponential backoff with jitter for retrying failed
// operations. Transient errors (timeouts, rate limits, service outages) are
// retried; terminal errors (insufficient credits, validation failures) fail
// fast.
type Strategy struct {
	// MaxRetries is the number of retry attempts after the initial
	// execution: MaxRetries=3 means up to 4 total attempts.
	MaxRetries int

	// BaseDelay is the delay before the first retry; subsequent delays are
	// BaseDelay * Multiplier^attempt with ±25% jitter, capped at MaxDelay.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// Default returns the strategy used across the turn pipeline: three retries,
// one-second base delay doubling up to ten seconds.
func Default() *Strategy {
	return &Strategy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// Execute runs fn with automatic retry on retriable errors. Context
// cancellation stops the loop immediately. Returns nil once fn succeeds, the
// error itself for non-retriable failures, or a wrapped "max retries
// exceeded" error after the final attempt.
func (s *Strategy) Execute(ctx context.Context, fn func() error) error {
	_, err := s.ExecuteCounted(ctx, fn)
	return err
}

// ExecuteCounted behaves like Execute and additionally reports how many
// retries ran after the first attempt, so callers can charge them against a
// shared per-turn budget.
func (s *Strategy) ExecuteCounted(ctx context.Context, fn func() error) (int, error) {
	var lastErr error
	delay := s.BaseDelay
	retries := 0

	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			// ±25% jitter to prevent thundering herd.
			jitterFactor := 0.75 + cryptoRandFloat64()*0.5
			jitter := time.Duration(float64(delay) * jitterFactor)

			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return retries, ctx.Err()
			}

			delay = time.Duration(float64(delay) * s.Multiplier)
			if delay > s.MaxDelay {
				delay = s.MaxDelay
			}

			retries++
			telemetry.RecordRetry()
		}

		err := fn()
		if err == nil {
			return retries, nil
		}
		if !IsRetriable(err) {
			return retries, err
		}
		lastErr = err
	}

	return retries, fmt.Errorf("max retries (%d) exceeded: %w", s.MaxRetries, lastErr)
}

// Limited returns a strategy retrying at most n times, keeping the delay
// schedule. Non-positive n disables retries.
func (s *Strategy) Limited(n int) *Strategy {
	if n < 0 {
		n = 0
	}
	if n >= s.MaxRetries {
		return s
	}
	capped := *s
	capped.MaxRetries = n
	return &capped
}

// IsRetriable classifies an error as transient or terminal.
//
// Retriable: context.DeadlineExceeded, net timeouts, and any error in the
// chain implementing Retryable with IsRetryable() == true.
// Terminal: context.Canceled, Retryable errors reporting false, and unknown
// error types (fail fast rather than hammer a broken dependency).
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
