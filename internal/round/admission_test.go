package round

import (
	"testing"
	"time"
)

func TestSecondsLeft(t *testing.T) {
	endsAt := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)

	cases := []struct {
		before time.Duration
		want   int
	}{
		{35 * time.Second, 35},
		{15*time.Second + 200*time.Millisecond, 16}, // rounds up
		{time.Millisecond, 1},
		{0, 0},
		{-3 * time.Second, 0}, // clamped
	}
	for _, tc := range cases {
		now := endsAt.Add(-tc.before)
		if got := SecondsLeft(endsAt, now); got != tc.want {
			t.Errorf("SecondsLeft(%v before end) = %d, want %d", tc.before, got, tc.want)
		}
	}
}

func TestStakeAdmissionBoundary(t *testing.T) {
	g := Gates{StakeCutoffSec: 15, OverrideCutoffSec: 5}
	endsAt := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)

	if !g.StakeAllowed(endsAt, endsAt.Add(-16*time.Second)) {
		t.Error("stake at 16s remaining should be accepted")
	}
	if g.StakeAllowed(endsAt, endsAt.Add(-15*time.Second)) {
		t.Error("stake at 15s remaining should be rejected")
	}
	if g.StakeAllowed(endsAt, endsAt.Add(-1*time.Second)) {
		t.Error("stake at 1s remaining should be rejected")
	}
}

func TestOverrideAdmissionBoundary(t *testing.T) {
	g := Gates{StakeCutoffSec: 15, OverrideCutoffSec: 5}
	endsAt := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)

	if !g.OverrideAllowed(endsAt, endsAt.Add(-6*time.Second)) {
		t.Error("override at 6s remaining should be accepted")
	}
	if g.OverrideAllowed(endsAt, endsAt.Add(-5*time.Second)) {
		t.Error("override at 5s remaining should be rejected")
	}
	// Reference scenario: override at 10s remaining is still inside the window.
	if !g.OverrideAllowed(endsAt, endsAt.Add(-10*time.Second)) {
		t.Error("override at 10s remaining should be accepted")
	}
}
