package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/agent"
	"starkagent/pkg/fault"
	"starkagent/pkg/proto"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []proto.Alert
}

func (s *alertSink) record(a proto.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *alertSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Kind
	}
	return out
}

// blockingAgent runs until cancelled.
func blockingAgent(name string) agent.Agent {
	return &agent.Func{
		AgentName: name,
		RunFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}
}

func waitForState(t *testing.T, s *Supervisor, name string, want proto.AgentState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		st, err := s.Status(name)
		require.NoError(t, err)
		if st.State == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("agent %s never reached %s (currently %s)", name, want, st.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := New(context.Background(), Options{})
	require.NoError(t, s.Register(blockingAgent("a"), RestartPolicy{}))
	err := s.Register(blockingAgent("a"), RestartPolicy{})
	require.Error(t, err)
	assert.Equal(t, fault.KindFatal, fault.KindOf(err))
}

func TestStartStopLifecycle(t *testing.T) {
	s := New(context.Background(), Options{Grace: time.Second})
	require.NoError(t, s.Register(blockingAgent("worker"), RestartPolicy{}))

	st, err := s.Status("worker")
	require.NoError(t, err)
	assert.Equal(t, proto.StateStopped, st.State)

	require.NoError(t, s.Start("worker"))
	waitForState(t, s, "worker", proto.StateRunning)

	require.NoError(t, s.Stop("worker"))
	waitForState(t, s, "worker", proto.StateStopped)
	assert.True(t, s.AwaitAll(time.Second))
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	s := New(context.Background(), Options{Grace: time.Second})
	require.NoError(t, s.Register(blockingAgent("worker"), RestartPolicy{}))

	require.NoError(t, s.Start("worker"))
	waitForState(t, s, "worker", proto.StateRunning)
	require.NoError(t, s.Start("worker"))

	st, _ := s.Status("worker")
	assert.Equal(t, proto.StateRunning, st.State)
	require.NoError(t, s.Stop("worker"))
}

func TestAutoRestartAfterFailure(t *testing.T) {
	sink := &alertSink{}
	s := New(context.Background(), Options{Grace: time.Second, OnAlert: sink.record})

	// Fails once, then blocks until cancelled.
	var runs int32
	a := &agent.Func{
		AgentName: "flaky",
		RunFunc: func(ctx context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				return errors.New("tick 3 exploded")
			}
			<-ctx.Done()
			return nil
		},
	}
	require.NoError(t, s.Register(a, RestartPolicy{AutoRestart: true, BackoffBase: 20 * time.Millisecond}))

	start := time.Now()
	require.NoError(t, s.Start("flaky"))
	waitForState(t, s, "flaky", proto.StateRunning)

	// The second Running only happens after an error and one backoff wait.
	for time.Since(start) < 2*time.Second {
		st, _ := s.Status("flaky")
		if st.Restarts >= 1 && st.State == proto.StateRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	st, err := s.Status("flaky")
	require.NoError(t, err)
	assert.Equal(t, proto.StateRunning, st.State)
	assert.Equal(t, uint64(1), st.Restarts)
	assert.Equal(t, "tick 3 exploded", st.LastError)
	assert.Contains(t, sink.kinds(), proto.AlertAgentError)

	// Transition history shows the mandated sequence.
	var states []proto.AgentState
	for _, tr := range st.Transitions {
		states = append(states, tr.ToState)
	}
	assert.Equal(t, []proto.AgentState{
		proto.StateStarting, proto.StateRunning, proto.StateError,
		proto.StateStarting, proto.StateRunning,
	}, states)

	require.NoError(t, s.Stop("flaky"))
}

func TestBurstBreakerLatchesAfterRepeatedFailures(t *testing.T) {
	sink := &alertSink{}
	s := New(context.Background(), Options{Grace: time.Second, OnAlert: sink.record})

	a := &agent.Func{
		AgentName: "crashloop",
		RunFunc:   func(context.Context) error { return errors.New("always fails") },
	}
	require.NoError(t, s.Register(a, RestartPolicy{
		AutoRestart:    true,
		BackoffBase:    time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		BurstThreshold: 3,
		BurstWindow:    time.Minute,
	}))

	require.NoError(t, s.Start("crashloop"))
	require.True(t, s.AwaitAll(5*time.Second), "breaker should end the restart loop")

	st, err := s.Status("crashloop")
	require.NoError(t, err)
	assert.Equal(t, proto.StateError, st.State)
	assert.Equal(t, uint64(2), st.Restarts)

	// Operator start clears the latch.
	require.NoError(t, s.Start("crashloop"))
	require.True(t, s.AwaitAll(5*time.Second))
}

func TestPanicIsIsolatedToOneAgent(t *testing.T) {
	sink := &alertSink{}
	s := New(context.Background(), Options{Grace: time.Second, OnAlert: sink.record})

	require.NoError(t, s.Register(&agent.Func{
		AgentName: "panicky",
		RunFunc:   func(context.Context) error { panic("nil map write") },
	}, RestartPolicy{}))
	require.NoError(t, s.Register(blockingAgent("steady"), RestartPolicy{}))

	require.NoError(t, s.Start("panicky"))
	require.NoError(t, s.Start("steady"))

	waitForState(t, s, "panicky", proto.StateError)
	waitForState(t, s, "steady", proto.StateRunning)

	st, _ := s.Status("panicky")
	assert.Contains(t, st.LastError, "panicked")
	assert.Contains(t, st.LastError, "nil map write")

	require.NoError(t, s.Stop("steady"))
}

func TestPauseAndResume(t *testing.T) {
	s := New(context.Background(), Options{Grace: time.Second})
	require.NoError(t, s.Register(blockingAgent("worker"), RestartPolicy{}))

	require.NoError(t, s.Start("worker"))
	waitForState(t, s, "worker", proto.StateRunning)

	require.NoError(t, s.Pause("worker"))
	waitForState(t, s, "worker", proto.StatePaused)

	// Resume requires Paused; a second pause has nothing to stop.
	require.NoError(t, s.Resume("worker"))
	waitForState(t, s, "worker", proto.StateRunning)

	require.Error(t, s.Resume("worker"))
	require.NoError(t, s.Stop("worker"))
}

func TestPauseDuringRestartBackoff(t *testing.T) {
	s := New(context.Background(), Options{Grace: time.Second})

	// Fails once, then blocks until cancelled. The hour-long backoff keeps
	// the runner sleeping so the pause lands mid-backoff.
	var runs int32
	a := &agent.Func{
		AgentName: "flaky",
		RunFunc: func(ctx context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				return errors.New("feed dropped")
			}
			<-ctx.Done()
			return nil
		},
	}
	require.NoError(t, s.Register(a, RestartPolicy{
		AutoRestart: true,
		BackoffBase: time.Hour,
		BackoffMax:  time.Hour,
	}))

	require.NoError(t, s.Start("flaky"))
	waitForState(t, s, "flaky", proto.StateError)

	require.NoError(t, s.Pause("flaky"))
	waitForState(t, s, "flaky", proto.StatePaused)

	require.NoError(t, s.Resume("flaky"))
	waitForState(t, s, "flaky", proto.StateRunning)
	require.NoError(t, s.Stop("flaky"))
}

func TestStopForceKillsStubbornAgent(t *testing.T) {
	sink := &alertSink{}
	s := New(context.Background(), Options{Grace: 30 * time.Millisecond, OnAlert: sink.record})

	require.NoError(t, s.Register(&agent.Func{
		AgentName: "stubborn",
		RunFunc: func(context.Context) error {
			time.Sleep(10 * time.Second) // ignores cancellation
			return nil
		},
	}, RestartPolicy{}))

	require.NoError(t, s.Start("stubborn"))
	waitForState(t, s, "stubborn", proto.StateRunning)

	require.NoError(t, s.Stop("stubborn"))
	st, _ := s.Status("stubborn")
	assert.Equal(t, proto.StateStopped, st.State)
	assert.Contains(t, sink.kinds(), proto.AlertForceKilled)
}

func TestRootContextStopsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, Options{Grace: time.Second})

	require.NoError(t, s.Register(blockingAgent("a"), RestartPolicy{}))
	require.NoError(t, s.Register(blockingAgent("b"), RestartPolicy{}))
	require.NoError(t, s.Start("a"))
	require.NoError(t, s.Start("b"))
	waitForState(t, s, "a", proto.StateRunning)
	waitForState(t, s, "b", proto.StateRunning)

	cancel()
	require.True(t, s.AwaitAll(time.Second))
	waitForState(t, s, "a", proto.StateStopped)
	waitForState(t, s, "b", proto.StateStopped)
}

func TestStatusAllPreservesRegistrationOrder(t *testing.T) {
	s := New(context.Background(), Options{})
	for _, name := range []string{"gamma", "alpha", "beta"} {
		require.NoError(t, s.Register(blockingAgent(name), RestartPolicy{}))
	}

	statuses := s.StatusAll()
	require.Len(t, statuses, 3)
	assert.Equal(t, "gamma", statuses[0].Name)
	assert.Equal(t, "alpha", statuses[1].Name)
	assert.Equal(t, "beta", statuses[2].Name)
}

func TestUnknownAgentOperations(t *testing.T) {
	s := New(context.Background(), Options{})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(s.Start("ghost")))
	assert.Equal(t, fault.KindNotFound, fault.KindOf(s.Stop("ghost")))
	_, err := s.Status("ghost")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
