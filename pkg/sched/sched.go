// Package sched runs recurring report jobs on fixed intervals. Runs of the
// same schedule never overlap: a run that outlasts its interval skips the
// ticks it swallowed and raises one lag alert per missed tick instead.
package sched

import (
	"context"
	"sync"
	"time"

	"starkagent/pkg/fault"
	"starkagent/pkg/logx"
	"starkagent/pkg/proto"
)

// ReportFunc is one scheduled job. The context carries the per-run deadline.
type ReportFunc func(ctx context.Context) error

// Schedule declares a recurring job.
type Schedule struct {
	Name     string
	Interval time.Duration
	Run      ReportFunc
}

// Status is a point-in-time view of one schedule.
type Status struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval_ns"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastStart    time.Time     `json:"last_start,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	Running      bool          `json:"running"`
}

type entry struct {
	spec Schedule

	mu           sync.Mutex
	runs         uint64
	failures     uint64
	lastStart    time.Time
	lastDuration time.Duration
	lastError    string
	inFlight     bool
}

// Scheduler owns the schedule goroutines. Register before Start; StopAll
// waits for in-flight runs up to a grace period.
type Scheduler struct {
	logger  *logx.Logger
	onAlert func(proto.Alert)

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. onAlert receives lag and failure alerts; nil is
// allowed.
func New(onAlert func(proto.Alert)) *Scheduler {
	if onAlert == nil {
		onAlert = func(proto.Alert) {}
	}
	return &Scheduler{
		logger:  logx.NewLogger("sched"),
		onAlert: onAlert,
		entries: make(map[string]*entry),
	}
}

// Register adds a schedule. Fails on duplicates, empty names, non-positive
// intervals, or after Start.
func (s *Scheduler) Register(spec Schedule) error {
	if spec.Name == "" {
		return fault.New(fault.KindUsage, "sched", "schedule has no name")
	}
	if spec.Interval <= 0 {
		return fault.New(fault.KindUsage, "sched", "schedule %q has non-positive interval", spec.Name)
	}
	if spec.Run == nil {
		return fault.New(fault.KindUsage, "sched", "schedule %q has no job", spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fault.New(fault.KindUsage, "sched", "scheduler already started")
	}
	if _, exists := s.entries[spec.Name]; exists {
		return fault.New(fault.KindUsage, "sched", "duplicate schedule %q", spec.Name)
	}
	s.entries[spec.Name] = &entry{spec: spec}
	s.order = append(s.order, spec.Name)
	return nil
}

// Start launches one goroutine per schedule. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, name := range s.order {
		e := s.entries[name]
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.runSchedule(runCtx, e)
		}(e)
	}
	s.logger.Info("started %d schedules", len(s.order))
}

// runSchedule is the per-schedule loop. Work executes inline. A run that
// overlaps its next tick leaves one coalesced tick pending in the ticker;
// that tick was already counted as missed, so it is drained rather than run
// late.
func (s *Scheduler) runSchedule(ctx context.Context, e *entry) {
	ticker := time.NewTicker(e.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.runOnce(ctx, e) > 0 {
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// runOnce executes one run with a deadline just under the interval, records
// its outcome, and raises failure alerts plus one lag alert per tick the run
// overlapped. Returns the number of ticks missed.
func (s *Scheduler) runOnce(ctx context.Context, e *entry) int {
	e.mu.Lock()
	e.inFlight = true
	e.runs++
	start := time.Now()
	e.lastStart = start
	e.mu.Unlock()

	// The deadline is slightly inside the interval so a well-behaved job
	// always finishes before its next tick.
	deadline := e.spec.Interval - e.spec.Interval/20
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	err := e.spec.Run(runCtx)
	cancel()

	elapsed := time.Since(start)

	e.mu.Lock()
	e.inFlight = false
	e.lastDuration = elapsed
	if err != nil {
		e.failures++
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.mu.Unlock()

	misses := int(elapsed / e.spec.Interval)
	if misses > 0 {
		s.logger.Warn("schedule %s ran %s, missing %d ticks of its %s interval",
			e.spec.Name, elapsed.Round(time.Millisecond), misses, e.spec.Interval)
		for i := 0; i < misses; i++ {
			s.onAlert(proto.NewAlert(proto.AlertScheduleLag, proto.SeverityWarning, map[string]any{
				"schedule":    e.spec.Name,
				"interval_ms": e.spec.Interval.Milliseconds(),
				"elapsed_ms":  elapsed.Milliseconds(),
			}))
		}
	}
	if err != nil && !fault.IsCancelled(err) {
		s.logger.Warn("schedule %s failed: %v", e.spec.Name, err)
		s.onAlert(proto.NewAlert(proto.AlertReportError, proto.SeverityError, map[string]any{
			"schedule": e.spec.Name,
			"error":    err.Error(),
		}))
	}
	return misses
}

// StopAll cancels every schedule and waits up to grace for in-flight runs.
// Returns false when the grace period expired with runs still going.
func (s *Scheduler) StopAll(grace time.Duration) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all schedules stopped")
		return true
	case <-time.After(grace):
		s.logger.Warn("grace period expired with schedules still running")
		return false
	}
}

// Statuses returns a snapshot of every schedule in registration order.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		e.mu.Lock()
		out = append(out, Status{
			Name:         e.spec.Name,
			Interval:     e.spec.Interval,
			Runs:         e.runs,
			Failures:     e.failures,
			LastStart:    e.lastStart,
			LastDuration: e.lastDuration,
			LastError:    e.lastError,
			Running:      e.inFlight,
		})
		e.mu.Unlock()
	}
	return out
}
