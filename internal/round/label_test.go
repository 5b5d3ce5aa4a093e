package round

import (
	"testing"
	"time"
)

func TestComputeRoundLabelRoundsUpToBoundary(t *testing.T) {
	interval := 5 * time.Minute

	cases := []struct {
		now  string
		want string
	}{
		{"2026-08-28T10:00:00Z", "10:05"}, // exact boundary belongs to next round
		{"2026-08-28T10:00:01Z", "10:05"},
		{"2026-08-28T10:04:30Z", "10:05"},
		{"2026-08-28T10:04:59.999Z", "10:05"},
		{"2026-08-28T10:05:00Z", "10:10"},
		{"2026-08-28T10:57:12Z", "11:00"}, // hour carry
		{"2026-08-28T23:58:00Z", "00:00"}, // day carry
	}
	for _, tc := range cases {
		now, err := time.Parse(time.RFC3339, tc.now)
		if err != nil {
			t.Fatal(err)
		}
		if got := ComputeRoundLabel(now, interval, time.UTC); got != tc.want {
			t.Errorf("ComputeRoundLabel(%s) = %q, want %q", tc.now, got, tc.want)
		}
	}
}

func TestComputeRoundLabelIdempotentWithinInterval(t *testing.T) {
	interval := 5 * time.Minute
	start := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)

	// Every instant in (10:05, 10:10] side of the window maps to one label,
	// and the label changes exactly at the boundary.
	prev := ""
	changes := 0
	for offset := time.Duration(0); offset < 10*time.Minute; offset += time.Second {
		label := ComputeRoundLabel(start.Add(offset), interval, time.UTC)
		if label != prev {
			changes++
			prev = label
		}
	}
	if changes != 2 {
		t.Fatalf("label changed %d times over two intervals, want 2", changes)
	}
}

func TestNextBoundaryStrictlyAfterNow(t *testing.T) {
	interval := 5 * time.Minute
	boundary := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)
	if got := NextBoundary(boundary, interval); !got.Equal(boundary.Add(interval)) {
		t.Fatalf("NextBoundary at exact boundary = %v, want %v", got, boundary.Add(interval))
	}
	if got := NextBoundary(boundary.Add(-time.Nanosecond), interval); !got.Equal(boundary) {
		t.Fatalf("NextBoundary just before boundary = %v, want %v", got, boundary)
	}
}
