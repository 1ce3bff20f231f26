package window

import (
	"sync"
	"time"
)

// DefaultTickInterval is the periodic cadence at which a running node should
// re-check CurrentWatermark when no new data has arrived to trigger it.
const DefaultTickInterval = 30 * time.Second

// BoundedOutOfOrdernessGenerator computes a watermark as the highest event
// timestamp observed so far, minus a fixed allowance for lateness. It never
// emits a watermark that would move backwards.
type BoundedOutOfOrdernessGenerator struct {
	mu          sync.Mutex
	maxSeen     time.Time
	maxLateness time.Duration
	lastEmitted time.Time
	hasEmitted  bool
}

// DefaultMaxLateness is the allowance NewBoundedOutOfOrdernessGenerator uses
// when the caller doesn't have an opinion; pass it (or use
// NewDefaultBoundedOutOfOrdernessGenerator) instead of a literal duration to
// ask for "unset". A literal 0 is itself a valid, meaningful choice (zero
// tolerance for out-of-order arrival) and is honored as given, not coerced.
const DefaultMaxLateness time.Duration = -1

// NewBoundedOutOfOrdernessGenerator builds a generator allowing maxLateness
// of out-of-order arrival. maxLateness must be >= 0; pass DefaultMaxLateness
// to get the package default (5 minutes) instead of choosing a value.
func NewBoundedOutOfOrdernessGenerator(maxLateness time.Duration) *BoundedOutOfOrdernessGenerator {
	if maxLateness == DefaultMaxLateness {
		maxLateness = 5 * time.Minute
	} else if maxLateness < 0 {
		maxLateness = 0
	}
	return &BoundedOutOfOrdernessGenerator{maxLateness: maxLateness}
}

// NewDefaultBoundedOutOfOrdernessGenerator builds a generator using the
// package default lateness allowance (5 minutes).
func NewDefaultBoundedOutOfOrdernessGenerator() *BoundedOutOfOrdernessGenerator {
	return NewBoundedOutOfOrdernessGenerator(DefaultMaxLateness)
}

// Observe records a data item's event timestamp.
func (g *BoundedOutOfOrdernessGenerator) Observe(ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts.After(g.maxSeen) {
		g.maxSeen = ts
	}
}

// CurrentWatermark returns the candidate watermark and whether emitting it
// now would advance the previously emitted one.
func (g *BoundedOutOfOrdernessGenerator) CurrentWatermark() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxSeen.IsZero() {
		return time.Time{}, false
	}
	candidate := g.maxSeen.Add(-g.maxLateness)
	if g.hasEmitted && !candidate.After(g.lastEmitted) {
		return candidate, false
	}
	g.lastEmitted = candidate
	g.hasEmitted = true
	return candidate, true
}
