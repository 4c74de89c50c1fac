// Package rules implements the windowed heuristic detectors that turn
// the consumer's event/process-state stream into alerts.
package rules

import "time"

// bucketSpan is the fixed tick size every detector's circular window
// drains on (spec §4.5 "circular bucket of counts per 100 ms tick").
const bucketSpan = 100 * time.Millisecond

// window is a fixed-duration circular counter: buckets[i] holds the
// count for one 100ms tick, and the window's total is the sum of every
// bucket not yet expired relative to the most recent event seen.
type window struct {
	span    time.Duration
	buckets []uint64
	// bucketStart[i] is the wall time the count in buckets[i] began
	// accumulating against; a bucket whose start is more than span old
	// is stale and drained before counting a new event into it.
	bucketStart []time.Time
	size        int
	total       uint64
}

// newWindow builds a circular window covering span, using 100ms ticks.
func newWindow(span time.Duration) *window {
	n := int(span / bucketSpan)
	if n < 1 {
		n = 1
	}
	return &window{
		span:        span,
		buckets:     make([]uint64, n),
		bucketStart: make([]time.Time, n),
		size:        n,
	}
}

func (w *window) index(t time.Time) int {
	return int(t.UnixNano()/int64(bucketSpan)) % w.size
}

// drain zeroes any bucket whose tick has fallen outside the window
// relative to now, subtracting its count from the running total.
func (w *window) drain(now time.Time) {
	cutoff := now.Add(-w.span)
	for i := range w.buckets {
		if w.buckets[i] == 0 {
			continue
		}
		if w.bucketStart[i].Before(cutoff) {
			w.total -= w.buckets[i]
			w.buckets[i] = 0
		}
	}
}

// Add drains expired buckets then increments the bucket for now by
// delta, returning the window's new total (spec: "thresholds are
// compared on every increment").
func (w *window) Add(now time.Time, delta uint64) uint64 {
	w.drain(now)

	idx := w.index(now)
	tickStart := now.Truncate(bucketSpan)
	if w.bucketStart[idx].IsZero() || !w.bucketStart[idx].Equal(tickStart) {
		// Bucket slot is being reused for a new tick (either empty or
		// holding a now-expired previous occupant); reset it.
		w.total -= w.buckets[idx]
		w.buckets[idx] = 0
		w.bucketStart[idx] = tickStart
	}
	w.buckets[idx] += delta
	w.total += delta
	return w.total
}

// Total returns the window's current total after draining expired
// buckets relative to now, without adding anything.
func (w *window) Total(now time.Time) uint64 {
	w.drain(now)
	return w.total
}
