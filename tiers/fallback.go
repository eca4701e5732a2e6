package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Scorer computes a result for the given tier. Implementations must honor
// ctx cancellation; the fallback runner applies the manager's per-attempt
// timeout and walks down the tier ladder on timeout or failure.
type Scorer[R any] func(ctx context.Context, t Tier) (R, error)

// RunWithFallback executes fn at the manager's current tier, detecting one
// first if needed. On timeout or failure it retries one tier lower until an
// attempt succeeds or the minimal tier has failed; the minimal-tier failure
// is terminal and surfaces as *TimeoutError or *FailureError. Intermediate
// failures are recovered and logged, never returned.
//
// Free functions rather than methods because Go methods cannot introduce
// type parameters.
func RunWithFallback[R any](ctx context.Context, m *Manager, fn Scorer[R]) (R, error) {
	target, ok := m.CurrentTier()
	if !ok {
		var err error
		if target, err = m.DetectTier(ctx, false); err != nil {
			var zero R
			return zero, err
		}
	}
	return RunWithFallbackFrom(ctx, m, target, fn)
}

// RunWithFallbackFrom is RunWithFallback starting from an explicit tier,
// bypassing detection.
func RunWithFallbackFrom[R any](ctx context.Context, m *Manager, target Tier, fn Scorer[R]) (R, error) {
	var zero R
	if !target.Valid() {
		return zero, fmt.Errorf("tiers: run scorer: tier %d: %w", int(target), ErrUnknownTier)
	}

	// Plain descending loop, at most one attempt per tier.
	attempts := 0
	for t := target; ; t-- {
		attempts++
		res, err := runAttempt(ctx, m.timeout, t, fn)
		if err == nil {
			if attempts > 1 {
				m.logger.Info("tiers: scorer recovered after fallback",
					"tier", t.String(), "attempts", attempts)
			}
			return res, nil
		}

		// Caller cancellation preempts any further fallback.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		timedOut := errors.Is(err, context.DeadlineExceeded)
		if t == TierMinimal {
			m.logger.Error("tiers: scorer fallback exhausted",
				"tier", t.String(), "attempts", attempts, "error", err)
			if counter, merr := meter.Int64Counter("opennotes.scorer.exhaustions"); merr == nil {
				counter.Add(ctx, 1, otelmetric.WithAttributes(
					attribute.Bool("timeout", timedOut)))
			}
			if timedOut {
				return zero, &TimeoutError{Tier: t, Attempts: attempts, Err: err}
			}
			return zero, &FailureError{Tier: t, Attempts: attempts, Err: err}
		}

		reason := "failure"
		if timedOut {
			reason = "timeout"
		}
		next := t - 1
		m.logger.Warn("tiers: scorer fallback",
			"failed_tier", t.String(), "reason", reason, "error", err, "next_tier", next.String())
		if counter, merr := meter.Int64Counter("opennotes.scorer.fallbacks"); merr == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("failed_tier", t.String()),
				attribute.String("reason", reason)))
		}
	}
}

// runAttempt runs one scorer attempt under its own deadline. The scorer runs
// in a goroutine so the deadline fires promptly even against a scorer that
// ignores ctx; such a scorer leaks its goroutine until it returns on its own.
func runAttempt[R any](ctx context.Context, timeout time.Duration, t Tier, fn Scorer[R]) (R, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attempt struct {
		val R
		err error
	}
	done := make(chan attempt, 1)
	go func() {
		val, err := fn(attemptCtx, t)
		done <- attempt{val, err}
	}()

	select {
	case a := <-done:
		return a.val, a.err
	case <-attemptCtx.Done():
		var zero R
		return zero, attemptCtx.Err()
	}
}
