// Package orch is the orchestrator facade: it ties the kernel's capabilities
// together into the request path (rate limit, route, execute skill, respond)
// and owns the background half of the runtime (supervised agents and report
// schedules) including ordered shutdown.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"starkagent/internal/kernel"
	"starkagent/internal/supervisor"
	"starkagent/pkg/agent"
	"starkagent/pkg/fault"
	"starkagent/pkg/limiter"
	"starkagent/pkg/logx"
	"starkagent/pkg/persistence"
	"starkagent/pkg/proto"
	"starkagent/pkg/sched"
)

const (
	dailyReportInterval   = 24 * time.Hour
	stateSnapshotInterval = time.Hour
	limiterSweepInterval  = 10 * time.Minute

	// tokensPerUnit converts estimated prompt tokens into limiter units so
	// the per-minute budget tracks model usage, not just message counts.
	tokensPerUnit = 200
)

// Orchestrator is the runtime facade. One instance per process.
type Orchestrator struct {
	kernel *kernel.Kernel
	logger *logx.Logger

	supervisor *supervisor.Supervisor
	scheduler  *sched.Scheduler
	agentNames []string

	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// New assembles the facade over a constructed kernel: supervised agents and
// report schedules are registered but not started until RunForever.
func New(k *kernel.Kernel) (*Orchestrator, error) {
	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		kernel: k,
		logger: logx.NewLogger("orch"),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.supervisor = supervisor.New(root, supervisor.Options{
		Grace:   k.Cfg.ShutdownGrace,
		OnAlert: k.PublishAlert,
		OnRestart: func(agentName, cause string) {
			k.Metrics.IncAgentRestart(agentName, cause)
		},
	})

	for _, a := range []agent.Agent{
		o.newMarketWatchAgent(),
		o.newWhaleWatchAgent(),
		o.newLimiterSweepAgent(),
	} {
		if err := o.supervisor.Register(a, supervisor.RestartPolicy{AutoRestart: true}); err != nil {
			cancel()
			return nil, err
		}
		o.agentNames = append(o.agentNames, a.Name())
	}

	o.scheduler = sched.New(k.PublishAlert)
	for _, spec := range []sched.Schedule{
		{Name: "daily-report", Interval: dailyReportInterval, Run: o.buildDailyReport},
		{Name: "state-snapshot", Interval: stateSnapshotInterval, Run: o.snapshotState},
	} {
		spec.Run = o.instrument(spec.Name, spec.Run)
		if err := o.scheduler.Register(spec); err != nil {
			cancel()
			return nil, err
		}
	}

	return o, nil
}

// instrument wraps a report job with metrics and the audit trail.
func (o *Orchestrator) instrument(name string, run sched.ReportFunc) sched.ReportFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		err := run(ctx)
		elapsed := time.Since(start)

		o.kernel.Metrics.IncScheduleRun(name, err == nil)
		rec := persistence.ReportRunRecord{
			Schedule:   name,
			StartedAt:  start.UTC(),
			DurationMS: elapsed.Milliseconds(),
			Status:     "ok",
		}
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
		}
		o.kernel.AuditLog.RecordReportRun(rec)
		return err
	}
}

// requestCost prices a message for the rate limiter: one unit per
// tokensPerUnit estimated prompt tokens, minimum one per message.
func (o *Orchestrator) requestCost(text string) int {
	cost := (o.kernel.Tokens.CountTokens(text) + tokensPerUnit - 1) / tokensPerUnit
	if cost < 1 {
		cost = 1
	}
	return cost
}

// Handle routes one message through rate limiting, the router, and the
// resolved skill. It always returns an envelope; errors become one-line
// bodies with diagnostics, never panics or stack traces. Long prompts charge
// the limiter more than short ones.
func (o *Orchestrator) Handle(ctx context.Context, msg proto.Message) proto.Envelope {
	start := time.Now()

	if err := o.kernel.Limiter.AllowN(msg.UserID, o.requestCost(msg.Text)); err != nil {
		o.kernel.Metrics.IncRateLimited("unrouted")
		body := "rate limit exceeded, slow down"
		var rle *limiter.RateLimitError
		if errors.As(err, &rle) {
			body = rle.Error()
		}
		env := proto.Envelope{
			Status: proto.StatusRateLimited,
			Body:   body,
			Diagnostics: proto.Diagnostics{
				LatencyMS: time.Since(start).Milliseconds(),
				ErrorKind: fault.KindRateLimited.String(),
				Component: "limiter",
			},
		}
		o.record(msg, proto.RoutingDecision{}, env, start)
		return env
	}

	decision := o.kernel.Router.Route(msg)
	env := o.execute(ctx, decision)
	env.Diagnostics.Skill = decision.Skill
	env.Diagnostics.Confidence = decision.Confidence
	env.Diagnostics.Reasoning = decision.Reasoning
	env.Diagnostics.LatencyMS = time.Since(start).Milliseconds()

	o.record(msg, decision, env, start)
	return env
}

// execute runs the routed skill and shapes its outcome into an envelope.
func (o *Orchestrator) execute(ctx context.Context, decision proto.RoutingDecision) proto.Envelope {
	sk, ok := o.kernel.Skills.Get(decision.Skill)
	if !ok {
		// The router only emits registered names; reaching here means the
		// skill set and router profiles drifted apart.
		return proto.Envelope{
			Status: proto.StatusError,
			Body:   "no handler for skill " + decision.Skill,
			Diagnostics: proto.Diagnostics{
				ErrorKind: fault.KindNotFound.String(),
				Component: "orch",
			},
		}
	}

	body, err := sk.Handle(ctx, decision, o.kernel.Capabilities())
	if err != nil {
		kind := fault.KindOf(err)
		component := fault.ComponentOf(err)
		if component == "" {
			component = decision.Skill
		}
		if kind != fault.KindCancelled {
			o.logger.Warn("skill %s failed: %v", decision.Skill, err)
		}
		return proto.Envelope{
			Status: proto.StatusError,
			Body:   err.Error(),
			Diagnostics: proto.Diagnostics{
				ErrorKind: kind.String(),
				Component: component,
			},
		}
	}

	return proto.Envelope{Status: proto.StatusOK, Body: body}
}

// record writes the request to the event log, the audit trail, and metrics.
// All three are fire-and-forget from the caller's point of view.
func (o *Orchestrator) record(msg proto.Message, decision proto.RoutingDecision, env proto.Envelope, start time.Time) {
	if err := o.kernel.EventLog.WriteRequest(env); err != nil {
		o.logger.Warn("failed to log request: %v", err)
	}

	rec := persistence.MessageRecord{
		RequestID:  msg.ID,
		UserID:     msg.UserID,
		Skill:      decision.Skill,
		Confidence: decision.Confidence,
		Status:     string(env.Status),
		Prompt:     msg.Text,
		Response:   env.Body,
		LatencyMS:  env.Diagnostics.LatencyMS,
		CreatedAt:  start.UTC(),
	}
	if env.Status == proto.StatusError {
		rec.Error = env.Body
	}
	o.kernel.AuditLog.RecordMessage(rec)

	skill := decision.Skill
	if skill == "" {
		skill = "unrouted"
	}
	o.kernel.Metrics.ObserveRequest(skill, env.Status == proto.StatusOK, time.Since(start))
}

// RunForever restores state, starts every agent and schedule, and blocks
// until the context is cancelled or Shutdown is called. Shutdown is ordered:
// schedules first, then agents, then the state flush and resource release.
func (o *Orchestrator) RunForever(ctx context.Context) error {
	if err := o.kernel.State.Load(); err != nil {
		return err
	}

	for _, name := range o.agentNames {
		if err := o.supervisor.Start(name); err != nil {
			return err
		}
	}
	o.scheduler.Start(ctx)
	o.logger.Info("runtime up: %d agents, %d schedules", len(o.agentNames), len(o.scheduler.Statuses()))

	select {
	case <-ctx.Done():
	case <-o.done:
	}
	o.Shutdown(o.kernel.Cfg.ShutdownGrace)
	return nil
}

// Shutdown stops the runtime in dependency order and releases resources.
// Safe to call more than once and concurrently with RunForever.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.shutdownOnce.Do(func() {
		close(o.done)

		if !o.scheduler.StopAll(grace) {
			o.logger.Warn("schedules did not stop within %s", grace)
		}
		o.supervisor.StopAll()
		if !o.supervisor.AwaitAll(grace) {
			o.logger.Warn("agents did not stop within %s", grace)
		}
		o.cancel()

		if err := o.kernel.State.Save(); err != nil {
			o.logger.Error("failed to save state on shutdown: %v", err)
		}
		o.kernel.Close()
		o.logger.Info("shutdown complete")
	})
}

// Agents returns supervisor snapshots in registration order.
func (o *Orchestrator) Agents() []supervisor.Status {
	return o.supervisor.StatusAll()
}

// Schedules returns scheduler snapshots in registration order.
func (o *Orchestrator) Schedules() []sched.Status {
	return o.scheduler.Statuses()
}

// StartAgent starts one named agent.
func (o *Orchestrator) StartAgent(name string) error {
	return o.supervisor.Start(name)
}

// StopAgent stops one named agent.
func (o *Orchestrator) StopAgent(name string) error {
	return o.supervisor.Stop(name)
}

// PauseAgent pauses one named agent.
func (o *Orchestrator) PauseAgent(name string) error {
	return o.supervisor.Pause(name)
}

// ResumeAgent resumes a paused agent.
func (o *Orchestrator) ResumeAgent(name string) error {
	return o.supervisor.Resume(name)
}
