// Package retry provides a classification-driven retry wrapper with capped
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cometsec/comet/pkg/telemetry"
)

// Category names the failure family an error was classified into.
type Category string

const (
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryConfiguration   Category = "configuration"
	CategoryPayloadTooLarge Category = "payload-too-large"
	CategoryRateLimit       Category = "rate-limit"
	CategoryServer          Category = "server"
	CategoryNetwork         Category = "network"
	CategoryUnknown         Category = "unknown"
)

// Classification describes how an error must be handled. Fatal halts the
// current scope outright; Retryable permits another attempt; neither means
// fail this operation but keep the scope going.
type Classification struct {
	Category    Category `json:"category"`
	Retryable   bool     `json:"retryable"`
	Fatal       bool     `json:"fatal"`
	Remediation string   `json:"remediation,omitempty"`
}

// Classifier maps an error onto its Classification. Implementations must
// inspect the whole unwrap chain so wrapping never changes the outcome.
type Classifier func(error) Classification

// Executor retries operations whose failures classify as retryable. The
// wait before retry n is min(maxWait, initialWait * 2^(n-1)).
type Executor struct {
	maxAttempts int
	initialWait time.Duration
	maxWait     time.Duration
	classify    Classifier
	tracker     *telemetry.Tracker
	sleep       func(context.Context, time.Duration) error
}

// New builds an Executor. maxAttempts counts retries after the first call,
// so an operation runs at most maxAttempts+1 times.
func New(maxAttempts int, initialWait, maxWait time.Duration, classify Classifier) *Executor {
	return &Executor{
		maxAttempts: maxAttempts,
		initialWait: initialWait,
		maxWait:     maxWait,
		classify:    classify,
		sleep:       sleepCtx,
	}
}

// WithTracker attaches per-attempt metrics.
func (e *Executor) WithTracker(t *telemetry.Tracker) *Executor {
	e.tracker = t
	return e
}

// Do runs fn until it succeeds, fails permanently, or attempts run out. The
// last observed error is returned unchanged so upstream classification
// still sees the original cause.
func (e *Executor) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts+1; attempt++ {
		start := time.Now()
		err := fn(ctx)
		if err == nil {
			slog.Debug("operation succeeded",
				"operation", operation, "attempt", attempt, "elapsed", time.Since(start))
			return nil
		}
		lastErr = err

		class := e.classify(err)
		if class.Fatal || !class.Retryable {
			slog.Error("operation failed permanently",
				"operation", operation, "attempt", attempt,
				"category", string(class.Category), "error", err)
			return err
		}
		if attempt > e.maxAttempts {
			break
		}

		wait := e.backoff(attempt)
		slog.Warn("operation failed, retrying",
			"operation", operation, "attempt", attempt,
			"category", string(class.Category), "wait", wait, "error", err)
		if e.tracker != nil {
			e.tracker.RetryAttempt(ctx, operation, string(class.Category), attempt)
		}
		if serr := e.sleep(ctx, wait); serr != nil {
			return errors.Join(err, serr)
		}
	}

	slog.Error("operation failed after retries",
		"operation", operation, "attempts", e.maxAttempts+1, "error", lastErr)
	return lastErr
}

// backoff doubles the initial wait per completed attempt, capped at maxWait.
func (e *Executor) backoff(attempt int) time.Duration {
	wait := e.initialWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= e.maxWait {
			return e.maxWait
		}
	}
	return min(wait, e.maxWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
