package kernel

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/config"
	"starkagent/pkg/eventlog"
	"starkagent/pkg/proto"
	"starkagent/pkg/router"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		StateFile:          filepath.Join(dir, "state.json"),
		ShutdownGrace:      2 * time.Second,
		DispatchCacheTTL:   30 * time.Second,
		RateLimitPerMinute: 10,
		HTTPTimeout:        time.Second,
		AttemptTimeout:     time.Second,
	}
}

func TestNewWiresEverything(t *testing.T) {
	k, err := New(testConfig(t))
	require.NoError(t, err)
	defer k.Close()

	assert.NotNil(t, k.State)
	assert.NotNil(t, k.EventLog)
	assert.NotNil(t, k.Audit)
	assert.NotNil(t, k.AuditLog)
	assert.NotNil(t, k.Limiter)
	assert.NotNil(t, k.Dispatcher)
	assert.NotNil(t, k.Registry)
	assert.NotNil(t, k.Router)
	assert.NotNil(t, k.Skills)

	// No model configured: the runtime degrades instead of failing.
	assert.Nil(t, k.LLM)
	assert.Nil(t, k.Loop)

	// The built-in tool catalog is registered.
	for _, name := range []string{"get_price", "list_whale_movements", "list_arbitrage_opportunities"} {
		_, ok := k.Registry.Get(name)
		assert.True(t, ok, "missing tool %s", name)
	}
}

func TestCapabilitiesShareKernelHandles(t *testing.T) {
	k, err := New(testConfig(t))
	require.NoError(t, err)
	defer k.Close()

	caps := k.Capabilities()
	assert.Same(t, k.State, caps.State)
	assert.Same(t, k.Dispatcher, caps.Dispatcher)
	assert.Same(t, k.Registry, caps.Tools)
}

func TestProfileOverridesFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skills = []config.SkillProfileConfig{
		{Name: "whale", Keywords: []string{"leviathan"}, Priority: 20},
		{Name: "no-such-skill", Keywords: []string{"ghost"}},
	}

	k, err := New(cfg)
	require.NoError(t, err)
	defer k.Close()

	// The override replaces the built-in keywords entirely.
	decision := k.Router.Route(proto.NewMessage("any leviathan sightings?", "u1", "c1"))
	assert.Equal(t, "whale", decision.Skill)

	decision = k.Router.Route(proto.NewMessage("whale movements please", "u1", "c1"))
	assert.Equal(t, router.GeneralSkill, decision.Skill)

	// The unknown name was skipped, not registered.
	decision = k.Router.Route(proto.NewMessage("ghost ghost ghost", "u1", "c1"))
	assert.Equal(t, router.GeneralSkill, decision.Skill)
}

func TestPublishAlertReachesStateAndEventLog(t *testing.T) {
	k, err := New(testConfig(t))
	require.NoError(t, err)
	defer k.Close()

	k.PublishAlert(proto.NewAlert("endpoint_cooldown", proto.SeverityWarning, map[string]any{"endpoint": "coingecko"}))

	alerts := k.State.Alerts.List(nil, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, "endpoint_cooldown", alerts[0].Kind)

	events, err := eventlog.ReadEvents(k.EventLog.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCloseIsSafeTwice(t *testing.T) {
	k, err := New(testConfig(t))
	require.NoError(t, err)
	k.Close()
	k.Close()
}
