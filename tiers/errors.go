package tiers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDetected is returned by Manager.CurrentConfig when no tier has
	// been detected yet and no override is set.
	ErrNotDetected = errors.New("tiers: tier not detected yet, call DetectTier first")

	// ErrUnknownTier is returned for tier values outside the defined enum.
	// Callers using the Tier constants never see it.
	ErrUnknownTier = errors.New("tiers: unknown tier")
)

// TimeoutError is the terminal error of a fallback cascade whose last
// attempt timed out with no lower tier left to try.
type TimeoutError struct {
	Tier     Tier  // tier of the final attempt
	Attempts int   // total attempts including the final one
	Err      error // deadline error from the final attempt
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tiers: scorer timeout at tier %s with no fallback available (%d attempts)", e.Tier, e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FailureError is the terminal error of a fallback cascade whose last
// attempt failed with no lower tier left to try.
type FailureError struct {
	Tier     Tier
	Attempts int
	Err      error // scorer error from the final attempt
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("tiers: scorer failed at tier %s with no fallback available (%d attempts): %v", e.Tier, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }
