package engine

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// RetryConfig controls the exponential backoff between agent step attempts.
// A step's retry_delay overrides InitialDelay for that step only.
type RetryConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the standard backoff: 1s initial, doubling,
// capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ComputeBackoff calculates the delay after the given failed attempt
// (1-based): initial * multiplier^(attempt-1), capped at MaxDelay.
func ComputeBackoff(cfg RetryConfig, initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = cfg.InitialDelay
	}
	if initial <= 0 || attempt < 1 {
		return 0
	}

	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))
	if delay < 0 {
		// Overflow from a large attempt count.
		delay = cfg.MaxDelay
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the delay or returns early if the context is
// cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryableError classifies whether a failed agent attempt should be
// retried. Retryable by default: timeouts and network errors. Non-retryable:
// configuration-class errors, guard violations, open circuits, and
// cancellation (the run is shutting down).
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A per-attempt deadline is retryable; the next attempt gets a fresh one.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var bErr *schema.BatonError
	if errors.As(err, &bErr) {
		switch bErr.Code {
		case schema.ErrCodeConfiguration,
			schema.ErrCodeValidation,
			schema.ErrCodeExpression,
			schema.ErrCodeGuardViolation,
			schema.ErrCodeAgentUnavailable,
			schema.ErrCodeCircuitOpen,
			schema.ErrCodeCancelled:
			return false
		case schema.ErrCodeTimeout:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"temporary failure",
		"too many requests",
		"service unavailable",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Let the attempt budget limit unknown failures.
	return true
}
