package agent

import "time"

// Restart backoff defaults: 1s doubling up to 60s.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 60 * time.Second
)

// Backoff computes exponential restart delays. The zero value is not usable;
// use NewBackoff.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

// NewBackoff creates a backoff starting at base and doubling up to max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay before the next restart and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.base
	for i := 0; i < b.attempts; i++ {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempts++
	return delay
}

// Attempts returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset clears the counter after a healthy run.
func (b *Backoff) Reset() {
	b.attempts = 0
}
