package round

import (
	"errors"
	"time"
)

// ErrTooLate is returned when a stake or override arrives after its cutoff.
// The caller must surface it as a rejected operation, never retry it.
var ErrTooLate = errors.New("round: betting window closed")

// SecondsLeft returns the whole seconds remaining until endsAt, rounded up
// and clamped to zero.
func SecondsLeft(endsAt, now time.Time) int {
	d := endsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Gates holds the admission cutoffs. Both checks are pure functions of
// (endsAt, now) and must be evaluated at the instant of the write; caching
// the answer reintroduces the stale-check race the cutoffs exist to close.
type Gates struct {
	// StakeCutoffSec is the dead margin before expiry with no new stakes.
	// It is what makes the settlement sweep see a closed set of pending
	// stakes without any database-level lock; shrinking it reopens the
	// race between late inserts and the sweep.
	StakeCutoffSec int

	// OverrideCutoffSec closes the override window before the preview
	// flicker starts, so the flicker cannot diverge from the fixed result.
	OverrideCutoffSec int
}

// StakeAllowed reports whether a new stake may still be admitted.
// secondsLeft equal to the cutoff is already too late.
func (g Gates) StakeAllowed(endsAt, now time.Time) bool {
	return SecondsLeft(endsAt, now) > g.StakeCutoffSec
}

// OverrideAllowed reports whether a manual result may still be registered.
func (g Gates) OverrideAllowed(endsAt, now time.Time) bool {
	return SecondsLeft(endsAt, now) > g.OverrideCutoffSec
}
