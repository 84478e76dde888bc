// Package dispatch races equivalent data endpoints and returns the fastest
// answer. Calls are cached briefly, rate-limited endpoints sit out a cooldown,
// and every attempt is reported back for diagnostics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"starkagent/pkg/fault"
	"starkagent/pkg/logx"
	"starkagent/pkg/proto"
)

// DefaultCooldown applies to rate-limited endpoints that do not say when to
// come back.
const DefaultCooldown = 60 * time.Second

// DefaultAttemptTimeout bounds each individual endpoint attempt.
const DefaultAttemptTimeout = 10 * time.Second

// Endpoint is one interchangeable upstream data source.
type Endpoint interface {
	Name() string
	Call(ctx context.Context, method string, args map[string]any) (any, error)
}

// RetryAfterError is implemented by errors that carry an upstream retry hint.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Attempt records one endpoint's part in a dispatch.
type Attempt struct {
	Endpoint string        `json:"endpoint"`
	Latency  time.Duration `json:"latency_ns"`
	Err      string        `json:"error,omitempty"`
	Winner   bool          `json:"winner,omitempty"`
	Canceled bool          `json:"canceled,omitempty"`
}

// Result is a completed dispatch: the winning value plus per-attempt
// diagnostics, ordered fastest first.
type Result struct {
	Value    any
	Endpoint string
	Cached   bool
	Attempts []Attempt
}

// AllFailedError reports a dispatch where no endpoint produced a value.
type AllFailedError struct {
	Method      string
	Attempts    []Attempt
	CoolingDown bool
	RetryAt     time.Time
}

func (e *AllFailedError) Error() string {
	if e.CoolingDown {
		return fmt.Sprintf("dispatch %s: all endpoints cooling down until %s",
			e.Method, e.RetryAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("dispatch %s: all %d endpoints failed", e.Method, len(e.Attempts))
}

// Options tune a dispatcher. Zero values fall back to defaults.
type Options struct {
	CacheSize       int
	CacheTTL        time.Duration
	AttemptTimeout  time.Duration
	DefaultCooldown time.Duration
	// OnAlert receives endpoint cooldown notifications. Optional.
	OnAlert func(proto.Alert)
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Dispatcher fans a call out to every eligible endpoint concurrently and
// keeps the first success. Losing attempts are cancelled but still reported.
type Dispatcher struct {
	logger *logx.Logger

	mu        sync.RWMutex
	endpoints []Endpoint
	cooldowns map[string]time.Time

	cache          *ttlCache
	attemptTimeout time.Duration
	cooldown       time.Duration
	onAlert        func(proto.Alert)
	now            func() time.Time
}

// NewDispatcher creates a dispatcher over the given endpoints.
func NewDispatcher(endpoints []Endpoint, opts Options) *Dispatcher {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{
		logger:         logx.NewLogger("dispatch"),
		endpoints:      append([]Endpoint(nil), endpoints...),
		cooldowns:      make(map[string]time.Time),
		cache:          newTTLCache(opts.CacheSize, opts.CacheTTL, opts.Clock),
		attemptTimeout: opts.AttemptTimeout,
		cooldown:       opts.DefaultCooldown,
		onAlert:        opts.OnAlert,
		now:            opts.Clock,
	}
}

// AddEndpoint registers another endpoint. Safe at runtime.
func (d *Dispatcher) AddEndpoint(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, ep)
}

// Endpoints returns the registered endpoint names.
func (d *Dispatcher) Endpoints() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.endpoints))
	for i, ep := range d.endpoints {
		names[i] = ep.Name()
	}
	return names
}

// CoolingDown reports whether the named endpoint is currently sitting out,
// and until when.
func (d *Dispatcher) CoolingDown(name string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	until, ok := d.cooldowns[name]
	if !ok || d.now().After(until) {
		return time.Time{}, false
	}
	return until, true
}

// Dispatch races the call across all eligible endpoints and returns the
// fastest successful answer. Successful results are cached; a cache hit
// returns immediately with no attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, args map[string]any) (Result, error) {
	key, keyErr := cacheKey(method, args)
	if keyErr == nil {
		if v, ep, ok := d.cache.get(key); ok {
			d.logger.Debug("cache hit for %s", method)
			return Result{Value: v, Endpoint: ep, Cached: true}, nil
		}
	}

	eligible, earliest := d.eligibleEndpoints()
	if len(eligible) == 0 {
		d.mu.RLock()
		total := len(d.endpoints)
		d.mu.RUnlock()
		if total == 0 {
			return Result{}, fault.New(fault.KindInternal, "dispatch", "no endpoints registered")
		}
		return Result{}, &AllFailedError{Method: method, CoolingDown: true, RetryAt: earliest}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		attempt Attempt
		value   any
		ok      bool
	}

	results := make(chan outcome, len(eligible))
	for _, ep := range eligible {
		go func(ep Endpoint) {
			attemptCtx, attemptCancel := context.WithTimeout(raceCtx, d.attemptTimeout)
			defer attemptCancel()

			start := time.Now()
			value, err := ep.Call(attemptCtx, method, args)
			attempt := Attempt{Endpoint: ep.Name(), Latency: time.Since(start)}

			if err != nil {
				attempt.Err = err.Error()
				attempt.Canceled = errors.Is(err, context.Canceled) && raceCtx.Err() != nil
				d.noteFailure(ep.Name(), err)
				results <- outcome{attempt: attempt}
				return
			}
			results <- outcome{attempt: attempt, value: value, ok: true}
		}(ep)
	}

	var (
		attempts []Attempt
		winner   *outcome
	)
	for i := 0; i < len(eligible); i++ {
		out := <-results
		if out.ok && winner == nil {
			o := out
			o.attempt.Winner = true
			winner = &o
			// First success cancels the rest of the race.
			cancel()
			attempts = append(attempts, o.attempt)
			continue
		}
		attempts = append(attempts, out.attempt)
	}

	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].Latency < attempts[j].Latency
	})

	if winner == nil {
		return Result{Attempts: attempts}, &AllFailedError{Method: method, Attempts: attempts}
	}

	if keyErr == nil {
		d.cache.put(key, winner.value, winner.attempt.Endpoint)
	}
	d.logger.Debug("%s answered by %s in %s", method, winner.attempt.Endpoint, winner.attempt.Latency)

	return Result{
		Value:    winner.value,
		Endpoint: winner.attempt.Endpoint,
		Attempts: attempts,
	}, nil
}

// eligibleEndpoints filters out endpoints in cooldown, clearing expired
// entries on the way. earliest is the soonest cooldown expiry among skipped
// endpoints.
func (d *Dispatcher) eligibleEndpoints() ([]Endpoint, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var eligible []Endpoint
	var earliest time.Time
	for _, ep := range d.endpoints {
		until, cooling := d.cooldowns[ep.Name()]
		if cooling && now.Before(until) {
			if earliest.IsZero() || until.Before(earliest) {
				earliest = until
			}
			continue
		}
		if cooling {
			delete(d.cooldowns, ep.Name())
		}
		eligible = append(eligible, ep)
	}
	return eligible, earliest
}

// noteFailure places rate-limited endpoints into cooldown, honouring an
// upstream retry hint when one is present.
func (d *Dispatcher) noteFailure(name string, err error) {
	var hint RetryAfterError
	rateLimited := errors.As(err, &hint) || fault.KindOf(err) == fault.KindRateLimited
	if !rateLimited {
		return
	}

	wait := d.cooldown
	if hint != nil && hint.RetryAfter() > 0 {
		wait = hint.RetryAfter()
	}
	until := d.now().Add(wait)

	d.mu.Lock()
	d.cooldowns[name] = until
	d.mu.Unlock()

	d.logger.Warn("endpoint %s rate limited, cooling down for %s", name, wait)
	if d.onAlert != nil {
		d.onAlert(proto.NewAlert(proto.AlertEndpointCooldown, proto.SeverityWarning, map[string]any{
			"endpoint": name,
			"until":    until.UTC().Format(time.RFC3339),
		}))
	}
}
