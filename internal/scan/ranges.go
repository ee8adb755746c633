package scan

import (
	"iter"
	"time"
)

// DefaultChunkPeriod bounds the window of a single device enumeration.
const DefaultChunkPeriod = 30 * 24 * time.Hour

// Range is a half-open time window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range covers no time.
func (r Range) Empty() bool {
	return !r.End.After(r.Start)
}

// Percent is how much of the range lies between cursor and End. A range
// with no span is 0 percent done.
func (r Range) Percent(cursor time.Time) float64 {
	span := r.End.Sub(r.Start)
	if span <= 0 {
		return 0
	}
	return float64(r.End.Sub(cursor)) / float64(span) * 100
}

// Chunks walks the range from End back to Start in windows of at most
// period, yielding each window with the percent done once it is scanned.
// An empty or inverted range yields nothing.
func (r Range) Chunks(period time.Duration) iter.Seq2[Range, float64] {
	if period <= 0 {
		period = DefaultChunkPeriod
	}
	return func(yield func(Range, float64) bool) {
		cursor := r.End
		for cursor.After(r.Start) {
			lo := cursor.Add(-period)
			if lo.Before(r.Start) {
				lo = r.Start
			}
			if !yield(Range{Start: lo, End: cursor}, r.Percent(lo)) {
				return
			}
			cursor = lo
		}
	}
}
