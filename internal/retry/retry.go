package retry

import (
	"context"
	"fmt"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"time"
)

const (
	report_attempt_failed = "attempt-failed"
	report_exhausted      = "exhausted"
)

// Attempt is the outcome of one call of the wrapped operation.
type Attempt struct {
	Ordinal int
	Err     error
}

func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Policy retries an operation a bounded number of times with a fixed pause
// between attempts.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Retryable defaults to debts.Retryable.
	Retryable func(err error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
	Tel       telemetry.API
}

func DefaultPolicy(tel telemetry.API) Policy {
	return Policy{
		Attempts: 3,
		Backoff:  5 * time.Second,
		Tel:      tel,
	}
}

// Do calls op until it succeeds, fails with a non retryable error or the
// attempts run out. The pause between attempts does not grow. Every attempt
// made is returned alongside the result.
func Do[T any](ctx context.Context, p Policy, label string, op func(ctx context.Context) (T, error)) (T, []Attempt, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = debts.Retryable
	}
	wait := p.Sleep
	if wait == nil {
		wait = chrono.Sleep
	}
	var tel telemetry.API = telemetry.SlogAPI{}
	if p.Tel != nil {
		tel = p.Tel
	}
	tel = telemetry.NewScopedAPI("retry", tel)

	var zero T
	var history []Attempt
	var lastErr error
	for ordinal := 1; ordinal <= attempts; ordinal++ {
		if ordinal > 1 {
			err := wait(ctx, p.Backoff)
			if err != nil {
				return zero, history, err
			}
		}

		result, err := op(ctx)
		history = append(history, Attempt{Ordinal: ordinal, Err: err})
		if err == nil {
			return result, history, nil
		}
		lastErr = err

		tel.ReportWarning(
			report_attempt_failed,
			telemetry.KV{Key: "label", Value: label},
			telemetry.KV{Key: "attempt", Value: ordinal},
			telemetry.KV{Key: "of", Value: attempts},
			err,
		)
		if !retryable(err) {
			return zero, history, err
		}
	}

	tel.ReportWarning(report_exhausted, telemetry.KV{Key: "label", Value: label}, lastErr)
	return zero, history, fmt.Errorf("%d attempts failed: %w", attempts, lastErr)
}
