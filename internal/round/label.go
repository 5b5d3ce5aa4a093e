package round

import "time"

// NextBoundary returns the first interval-aligned instant strictly after now.
// An instant exactly on a boundary belongs to the round that just closed,
// so it maps to the next boundary.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Label derives the human-readable round label from the round's end instant.
// The label is the join key between stakes and results.
func Label(endsAt time.Time, loc *time.Location) string {
	return endsAt.In(loc).Format("15:04")
}

// ComputeRoundLabel returns the label of the round that is active at now:
// the minute-of-hour rounded up to the next multiple of interval, carrying
// hour and day overflow.
func ComputeRoundLabel(now time.Time, interval time.Duration, loc *time.Location) string {
	return Label(NextBoundary(now, interval), loc)
}
