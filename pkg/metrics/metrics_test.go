package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReturnsSameRecorder(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestRenderExposesRuntimeFamilies(t *testing.T) {
	r := Default()
	r.ObserveRequest("prices", true, 50*time.Millisecond)
	r.ObserveDispatch("get_price", "dexscreener", true, 10*time.Millisecond)
	r.IncRateLimited("prices")
	r.IncAgentRestart("whale-watcher", "panic")
	r.AddDroppedNotifications("market", 3)
	r.IncScheduleRun("daily-report", false)
	r.IncToolExecution("get_price", true)
	r.ObserveLLMRequest("gpt-4o-mini", 200*time.Millisecond)

	out, err := Render()
	require.NoError(t, err)

	assert.Contains(t, out, "starkagent_requests_total")
	assert.Contains(t, out, `skill="prices"`)
	assert.Contains(t, out, "starkagent_dispatch_total")
	assert.Contains(t, out, `endpoint="dexscreener"`)
	assert.Contains(t, out, "starkagent_rate_limit_rejections_total")
	assert.Contains(t, out, `cause="panic"`)
	assert.Contains(t, out, "starkagent_dropped_notifications_total")
	assert.Contains(t, out, "starkagent_schedule_runs_total")
	assert.Contains(t, out, `status="error"`)
	assert.Contains(t, out, "starkagent_llm_request_duration_seconds")

	// Standard process collectors stay out of the rendered view.
	assert.NotContains(t, out, "go_goroutines")
}
