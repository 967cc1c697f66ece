package usecase

import (
	"sort"
	"sync"
	"time"
)

const (
	latencyWindowSize  = 100
	budgetHeadroom     = 1.2
	hardBudgetMultiple = 2
)

// StageBudget is the adaptive time allowance for one pipeline stage. Soft is
// advisory (exceeding it is logged and counted), Hard is enforced with a
// context timeout.
type StageBudget struct {
	Soft time.Duration
	Hard time.Duration
}

// LatencyTracker keeps a rolling window of stage latencies and derives the
// soft budget as P95 of the window plus headroom, never below the floor.
// The hard budget is a fixed multiple of the soft one.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	floor   time.Duration
}

func NewLatencyTracker(floor time.Duration) *LatencyTracker {
	if floor <= 0 {
		floor = 50 * time.Millisecond
	}
	return &LatencyTracker{
		samples: make([]time.Duration, latencyWindowSize),
		floor:   floor,
	}
}

func (t *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

func (t *LatencyTracker) Budget() StageBudget {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	window := make([]time.Duration, n)
	copy(window, t.samples[:n])
	t.mu.Unlock()

	soft := t.floor
	if len(window) > 0 {
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		p95 := window[(len(window)*95)/100]
		if len(window) < 20 {
			// Too few samples for a stable P95, use the max instead.
			p95 = window[len(window)-1]
		}
		padded := time.Duration(float64(p95) * budgetHeadroom)
		if padded > soft {
			soft = padded
		}
	}
	return StageBudget{Soft: soft, Hard: hardBudgetMultiple * soft}
}
