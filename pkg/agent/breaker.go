package agent

import (
	"sync"
	"time"
)

// Burst breaker defaults: five failures inside sixty seconds stop restarts.
const (
	DefaultBurstThreshold = 5
	DefaultBurstWindow    = 60 * time.Second
)

// BurstBreaker trips when too many failures land inside a sliding window.
// The supervisor consults it before restarting an agent: a tripped breaker
// parks the agent in its error state until a human intervenes.
type BurstBreaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  []time.Time
	tripped   bool
	now       func() time.Time
}

// NewBurstBreaker creates a breaker tripping at threshold failures per window.
func NewBurstBreaker(threshold int, window time.Duration) *BurstBreaker {
	if threshold <= 0 {
		threshold = DefaultBurstThreshold
	}
	if window <= 0 {
		window = DefaultBurstWindow
	}
	return &BurstBreaker{
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (b *BurstBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// RecordFailure notes one failure and reports whether the breaker is now
// tripped. Failures outside the window are forgotten first.
func (b *BurstBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)
	b.failures = append(b.failures, now)
	if len(b.failures) >= b.threshold {
		b.tripped = true
	}
	return b.tripped
}

// Tripped reports whether restarts are currently blocked. A tripped breaker
// stays tripped until Reset; time alone does not heal it.
func (b *BurstBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Reset clears all recorded failures and the tripped latch.
func (b *BurstBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.tripped = false
}

func (b *BurstBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
