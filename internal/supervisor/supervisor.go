// Package supervisor owns the lifecycle of background agents: start, stop,
// pause, resume, auto-restart with backoff, and crash isolation. A panic in
// one agent never reaches its peers or the supervisor itself.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"starkagent/pkg/agent"
	"starkagent/pkg/fault"
	"starkagent/pkg/logx"
	"starkagent/pkg/proto"
)

// DefaultGrace bounds how long Stop waits for an agent to unwind.
const DefaultGrace = 10 * time.Second

// transitionHistory bounds the per-agent transition log kept for status views.
const transitionHistory = 32

// RestartPolicy configures auto-restart for one agent.
type RestartPolicy struct {
	AutoRestart bool
	// BackoffBase and BackoffMax default to 1s and 60s.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// BurstThreshold failures inside BurstWindow latch the agent in Error
	// until an operator restarts it. Defaults: 5 in 60s.
	BurstThreshold int
	BurstWindow    time.Duration
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.BackoffBase <= 0 {
		p.BackoffBase = agent.DefaultBackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = agent.DefaultBackoffMax
	}
	if p.BurstThreshold <= 0 {
		p.BurstThreshold = agent.DefaultBurstThreshold
	}
	if p.BurstWindow <= 0 {
		p.BurstWindow = agent.DefaultBurstWindow
	}
	return p
}

// Status is a point-in-time view of one supervised agent.
type Status struct {
	Name        string                          `json:"name"`
	State       proto.AgentState                `json:"state"`
	Restarts    uint64                          `json:"restarts"`
	LastError   string                          `json:"last_error,omitempty"`
	Transitions []proto.StateChangeNotification `json:"transitions,omitempty"`
}

// Options configures a supervisor.
type Options struct {
	// Grace bounds Stop/StopAll waits. Defaults to DefaultGrace.
	Grace time.Duration
	// OnAlert receives agent_error and force_killed alerts. Optional.
	OnAlert func(proto.Alert)
	// OnRestart observes auto-restarts for instrumentation. Optional.
	OnRestart func(agentName, cause string)
}

type entry struct {
	agent  agent.Agent
	policy RestartPolicy

	state       proto.AgentState
	lastError   string
	restarts    uint64
	transitions []proto.StateChangeNotification

	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	backoff *agent.Backoff
	breaker *agent.BurstBreaker
}

// Supervisor runs registered agents under a shared root context. All public
// methods are safe for concurrent use.
type Supervisor struct {
	logger *logx.Logger
	root   context.Context
	opts   Options

	mu     sync.RWMutex
	agents map[string]*entry
	order  []string
}

// New creates a supervisor. The root context owns every agent scope:
// cancelling it stops everything.
func New(root context.Context, opts Options) *Supervisor {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.OnAlert == nil {
		opts.OnAlert = func(proto.Alert) {}
	}
	if opts.OnRestart == nil {
		opts.OnRestart = func(string, string) {}
	}
	return &Supervisor{
		logger: logx.NewLogger("supervisor"),
		root:   root,
		opts:   opts,
		agents: make(map[string]*entry),
	}
}

// Register adds an agent under its name. Duplicate names are invariant
// violations.
func (s *Supervisor) Register(a agent.Agent, policy RestartPolicy) error {
	name := a.Name()
	if name == "" {
		return fault.New(fault.KindFatal, "supervisor", "agent has no name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[name]; exists {
		return fault.New(fault.KindFatal, "supervisor", "duplicate agent %q", name)
	}

	policy = policy.withDefaults()
	s.agents[name] = &entry{
		agent:   a,
		policy:  policy,
		state:   proto.StateStopped,
		backoff: agent.NewBackoff(policy.BackoffBase, policy.BackoffMax),
		breaker: agent.NewBurstBreaker(policy.BurstThreshold, policy.BurstWindow),
	}
	s.order = append(s.order, name)
	return nil
}

// Start launches the named agent. Starting an agent that is already active
// is a warning no-op.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.agents[name]
	if !ok {
		return fault.New(fault.KindNotFound, "supervisor", "unknown agent %q", name)
	}
	switch e.state {
	case proto.StateStarting, proto.StateRunning:
		s.logger.Warn("agent %s already %s, start ignored", name, e.state)
		return nil
	case proto.StateStopping:
		return fault.New(fault.KindUsage, "supervisor", "agent %q is stopping", name)
	}
	// An Error-state agent sleeping in restart backoff still owns a live
	// scope; starting a second one would break the single-runner rule.
	if e.done != nil {
		select {
		case <-e.done:
		default:
			s.logger.Warn("agent %s scope still unwinding, start ignored", name)
			return nil
		}
	}

	// Operator start clears a latched burst breaker.
	e.breaker.Reset()
	e.backoff.Reset()
	s.launchLocked(name, e)
	return nil
}

// launchLocked spawns the agent scope. Callers hold s.mu.
func (s *Supervisor) launchLocked(name string, e *entry) {
	ctx, cancel := context.WithCancel(s.root)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.paused = false
	s.transitionLocked(name, e, proto.StateStarting, "")

	go s.runAgent(ctx, name, e, e.done)
}

// runAgent is the per-agent loop: run, and on failure restart per policy.
func (s *Supervisor) runAgent(ctx context.Context, name string, e *entry, done chan struct{}) {
	defer close(done)

	for {
		s.setState(name, e, proto.StateRunning, "")
		err := s.invoke(ctx, e)

		if ctx.Err() != nil {
			// Operator stop or root shutdown; paused agents keep their
			// resume intent.
			s.mu.Lock()
			if e.paused {
				s.transitionLocked(name, e, proto.StatePaused, "")
			} else {
				s.transitionLocked(name, e, proto.StateStopped, "")
			}
			s.mu.Unlock()
			return
		}

		if err == nil {
			s.setState(name, e, proto.StateStopped, "")
			return
		}

		s.logger.Error("agent %s failed: %v", name, err)
		s.setState(name, e, proto.StateError, err.Error())
		s.opts.OnAlert(proto.NewAlert(proto.AlertAgentError, proto.SeverityError, map[string]any{
			"agent": name,
			"error": err.Error(),
		}))

		tripped := e.breaker.RecordFailure()
		if !e.policy.AutoRestart {
			return
		}
		if tripped {
			s.logger.Error("agent %s tripped the burst breaker, auto-restart disabled until operator start", name)
			return
		}

		delay := e.backoff.Next()
		s.opts.OnRestart(name, "error")
		s.logger.Info("restarting agent %s in %s", name, delay)
		select {
		case <-ctx.Done():
			// Halted mid-backoff; paused agents keep their resume intent.
			s.mu.Lock()
			if e.paused {
				s.transitionLocked(name, e, proto.StatePaused, "")
			} else {
				s.transitionLocked(name, e, proto.StateStopped, "")
			}
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		e.restarts++
		s.transitionLocked(name, e, proto.StateStarting, "")
		s.mu.Unlock()
	}
}

// invoke runs the agent with panic isolation.
func (s *Supervisor) invoke(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return e.agent.Run(ctx)
}

// Stop cancels the named agent's scope and waits up to the grace period.
// Expired grace abandons the scope with a force_killed alert.
func (s *Supervisor) Stop(name string) error {
	return s.halt(name, false)
}

// Pause stops the agent but keeps its intent to resume and its run counter.
func (s *Supervisor) Pause(name string) error {
	return s.halt(name, true)
}

func (s *Supervisor) halt(name string, pause bool) error {
	s.mu.Lock()
	e, ok := s.agents[name]
	if !ok {
		s.mu.Unlock()
		return fault.New(fault.KindNotFound, "supervisor", "unknown agent %q", name)
	}
	// The scope is live until its done channel closes; that covers agents
	// sleeping in restart backoff as well as Running ones.
	active := false
	if e.done != nil {
		select {
		case <-e.done:
		default:
			active = true
		}
	}
	if !active {
		s.mu.Unlock()
		s.logger.Warn("agent %s is %s, nothing to stop", name, e.state)
		return nil
	}
	e.paused = pause
	done := e.done
	s.transitionLocked(name, e, proto.StateStopping, "")
	e.cancel()
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.Grace):
	}

	// The scope is abandoned, not waited on further. The runner goroutine
	// will still record its final transition if it ever unwinds.
	s.logger.Error("agent %s ignored cancellation for %s, abandoning scope", name, s.opts.Grace)
	s.opts.OnAlert(proto.NewAlert(proto.AlertForceKilled, proto.SeverityCritical, map[string]any{
		"agent":    name,
		"grace_ms": s.opts.Grace.Milliseconds(),
	}))
	s.mu.Lock()
	target := proto.StateStopped
	if pause {
		target = proto.StatePaused
	}
	s.transitionLocked(name, e, target, "force_killed")
	s.mu.Unlock()
	return nil
}

// Resume starts a fresh scope for a paused agent. Backoff state carries over.
func (s *Supervisor) Resume(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.agents[name]
	if !ok {
		return fault.New(fault.KindNotFound, "supervisor", "unknown agent %q", name)
	}
	if e.state != proto.StatePaused {
		return fault.New(fault.KindUsage, "supervisor", "agent %q is %s, not paused", name, e.state)
	}
	s.launchLocked(name, e)
	return nil
}

// StopAll stops every active agent, in registration order.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.RUnlock()

	for _, name := range names {
		_ = s.Stop(name)
	}
}

// AwaitAll blocks until every agent scope has exited or the deadline elapses.
// Returns false on deadline expiry.
func (s *Supervisor) AwaitAll(deadline time.Duration) bool {
	expire := time.After(deadline)
	for {
		s.mu.RLock()
		var pending []chan struct{}
		for _, e := range s.agents {
			if e.done != nil {
				select {
				case <-e.done:
				default:
					pending = append(pending, e.done)
				}
			}
		}
		s.mu.RUnlock()

		if len(pending) == 0 {
			return true
		}
		select {
		case <-pending[0]:
		case <-expire:
			return false
		}
	}
}

// Status returns the lifecycle snapshot for one agent.
func (s *Supervisor) Status(name string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.agents[name]
	if !ok {
		return Status{}, fault.New(fault.KindNotFound, "supervisor", "unknown agent %q", name)
	}
	return s.statusLocked(name, e), nil
}

// StatusAll returns snapshots for every agent in registration order.
func (s *Supervisor) StatusAll() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.statusLocked(name, s.agents[name]))
	}
	return out
}

func (s *Supervisor) statusLocked(name string, e *entry) Status {
	transitions := make([]proto.StateChangeNotification, len(e.transitions))
	copy(transitions, e.transitions)
	return Status{
		Name:        name,
		State:       e.state,
		Restarts:    e.restarts,
		LastError:   e.lastError,
		Transitions: transitions,
	}
}

func (s *Supervisor) setState(name string, e *entry, to proto.AgentState, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(name, e, to, errMsg)
}

// transitionLocked records a state change. Callers hold s.mu.
func (s *Supervisor) transitionLocked(name string, e *entry, to proto.AgentState, errMsg string) {
	from := e.state
	e.state = to
	if errMsg != "" && to == proto.StateError {
		e.lastError = errMsg
	}
	e.transitions = append(e.transitions, proto.StateChangeNotification{
		AgentName: name,
		FromState: from,
		ToState:   to,
		Err:       errMsg,
		Timestamp: time.Now().UTC(),
	})
	if len(e.transitions) > transitionHistory {
		e.transitions = e.transitions[len(e.transitions)-transitionHistory:]
	}
	s.logger.Debug("agent %s: %s -> %s", name, from, to)
}
