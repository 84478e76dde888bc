// Package limiter provides per-user request rate limiting with token buckets.
package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"starkagent/pkg/fault"
	"starkagent/pkg/logx"
)

// staleAfter is how long an idle bucket survives before sweep reclaims it.
const staleAfter = 10 * time.Minute

// RateLimitError reports a rejected request and when capacity returns.
type RateLimitError struct {
	UserID string
	Wait   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("user %s rate limited, retry in %s", e.UserID, e.Wait.Round(time.Millisecond))
}

// RetryAfter returns how long the caller should wait before retrying.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.Wait
}

// bucket tracks one user's remaining capacity. Fractional tokens accumulate
// continuously; the refill uses the full elapsed duration, so sub-second
// elapsed time still earns credit.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

// Limiter enforces a per-user tokens-per-minute budget. Buckets start full
// and refill continuously at perMinute tokens per minute; requests charge a
// cost proportional to their size.
type Limiter struct {
	logger    *logx.Logger
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute float64
	now       func() time.Time
}

// NewLimiter creates a limiter allowing perMinute requests per user per
// minute. perMinute must be positive.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Limiter{
		logger:    logx.NewLogger("limiter"),
		buckets:   make(map[string]*bucket),
		perMinute: float64(perMinute),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow consumes one token from the user's bucket. An empty user id shares
// the anonymous bucket. The returned error is a RateLimitError wrapped with
// the rate-limited fault kind.
func (l *Limiter) Allow(userID string) error {
	return l.AllowN(userID, 1)
}

// AllowN consumes n tokens from the user's bucket, letting expensive requests
// drain the budget faster than cheap ones. The cost is floored at one token
// and capped at the bucket capacity so an oversized request charges the whole
// bucket instead of becoming unsatisfiable.
func (l *Limiter) AllowN(userID string, n int) error {
	if userID == "" {
		userID = "anonymous"
	}
	cost := float64(n)
	if cost < 1 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost > l.perMinute {
		cost = l.perMinute
	}

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.perMinute, lastRefill: now}
		l.buckets[userID] = b
	}
	l.refill(b, now)
	b.lastUsed = now

	if b.tokens < cost {
		wait := time.Duration((cost - b.tokens) / l.perMinute * float64(time.Minute))
		l.logger.Debug("user %s over limit, %.2f tokens left, %.0f needed", userID, b.tokens, cost)
		return fault.Wrap(&RateLimitError{UserID: userID, Wait: wait},
			fault.KindRateLimited, "limiter", "request rejected")
	}

	b.tokens -= cost
	return nil
}

// Remaining reports the user's current token balance after refill.
func (l *Limiter) Remaining(userID string) float64 {
	if userID == "" {
		userID = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		return l.perMinute
	}
	l.refill(b, l.now())
	return b.tokens
}

// refill credits tokens for the full duration since the last refill. The
// elapsed time is consumed exactly: no truncation to whole seconds, so rapid
// calls never forfeit accumulated credit.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(l.perMinute, b.tokens+elapsed.Minutes()*l.perMinute)
	b.lastRefill = now
}

// Sweep drops buckets idle longer than staleAfter and returns how many were
// reclaimed. Callers run it periodically; a reclaimed user simply starts
// fresh with a full bucket.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var removed int
	for id, b := range l.buckets {
		if now.Sub(b.lastUsed) > staleAfter {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// ActiveUsers returns the number of live buckets.
func (l *Limiter) ActiveUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
