// Package agent defines the background agent contract, restart policy
// helpers, and the language-model client interface shared by all skills.
package agent

import (
	"context"
	"time"
)

// Agent is a supervised background worker. Run blocks until the context is
// cancelled (clean stop, return nil) or the agent fails (return the error).
// The supervisor owns the goroutine, restart policy, and lifecycle state;
// agents only do work.
type Agent interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a plain function into an Agent.
type Func struct {
	AgentName string
	RunFunc   func(ctx context.Context) error
}

func (f Func) Name() string { return f.AgentName }

func (f Func) Run(ctx context.Context) error { return f.RunFunc(ctx) }

// TickerAgent runs a work function on a fixed interval until cancelled.
// A work error is returned immediately so the supervisor can apply its
// restart policy.
type TickerAgent struct {
	AgentName string
	Interval  time.Duration
	Work      func(ctx context.Context) error
}

func (t *TickerAgent) Name() string { return t.AgentName }

func (t *TickerAgent) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Work(ctx); err != nil {
				return err
			}
		}
	}
}
