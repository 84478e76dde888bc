// Package metrics provides Prometheus-based metrics recording for the
// routing runtime.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface the runtime components report into.
type Recorder struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	dispatchTotal       *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	rateLimitTotal      *prometheus.CounterVec
	agentRestartsTotal  *prometheus.CounterVec
	droppedEventsTotal  *prometheus.CounterVec
	scheduleRunsTotal   *prometheus.CounterVec
	toolExecutionsTotal *prometheus.CounterVec
	llmRequestDuration  *prometheus.HistogramVec
}

var (
	defaultRecorder *Recorder
	defaultOnce     sync.Once
)

// Default returns the process-wide recorder. Metrics register on the default
// Prometheus registry exactly once no matter how many callers ask.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = newRecorder()
	})
	return defaultRecorder
}

func newRecorder() *Recorder {
	return &Recorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_requests_total",
				Help: "Total routed requests by resolved skill and outcome",
			},
			[]string{"skill", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starkagent_request_duration_seconds",
				Help:    "End to end request handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"skill"},
		),
		dispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_dispatch_total",
				Help: "Total dispatch races by method, winning endpoint, and outcome",
			},
			[]string{"method", "endpoint", "status"},
		),
		dispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starkagent_dispatch_duration_seconds",
				Help:    "Duration of dispatch races in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rateLimitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_rate_limit_rejections_total",
				Help: "Requests rejected by the per-user rate limiter",
			},
			[]string{"skill"},
		),
		agentRestartsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_agent_restarts_total",
				Help: "Supervisor restarts by agent and cause",
			},
			[]string{"agent", "cause"},
		),
		droppedEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_dropped_notifications_total",
				Help: "State change notifications dropped on slow subscribers",
			},
			[]string{"collection"},
		),
		scheduleRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_schedule_runs_total",
				Help: "Scheduled report runs by schedule and outcome",
			},
			[]string{"schedule", "status"},
		),
		toolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starkagent_tool_executions_total",
				Help: "Tool invocations by tool name and outcome",
			},
			[]string{"tool", "status"},
		),
		llmRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starkagent_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ObserveRequest records one routed request.
func (r *Recorder) ObserveRequest(skill string, success bool, duration time.Duration) {
	r.requestsTotal.WithLabelValues(skill, statusLabel(success)).Inc()
	r.requestDuration.WithLabelValues(skill).Observe(duration.Seconds())
}

// ObserveDispatch records one endpoint race. The endpoint is the winner, or
// empty when every endpoint failed.
func (r *Recorder) ObserveDispatch(method, endpoint string, success bool, duration time.Duration) {
	r.dispatchTotal.WithLabelValues(method, endpoint, statusLabel(success)).Inc()
	r.dispatchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncRateLimited records a rejection from the per-user limiter.
func (r *Recorder) IncRateLimited(skill string) {
	r.rateLimitTotal.WithLabelValues(skill).Inc()
}

// IncAgentRestart records a supervisor restart.
func (r *Recorder) IncAgentRestart(agent, cause string) {
	r.agentRestartsTotal.WithLabelValues(agent, cause).Inc()
}

// AddDroppedNotifications records notifications dropped on a slow subscriber.
func (r *Recorder) AddDroppedNotifications(collection string, n uint64) {
	r.droppedEventsTotal.WithLabelValues(collection).Add(float64(n))
}

// IncScheduleRun records one scheduled report run.
func (r *Recorder) IncScheduleRun(schedule string, success bool) {
	r.scheduleRunsTotal.WithLabelValues(schedule, statusLabel(success)).Inc()
}

// IncToolExecution records one tool invocation.
func (r *Recorder) IncToolExecution(tool string, success bool) {
	r.toolExecutionsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
}

// ObserveLLMRequest records the duration of one model call.
func (r *Recorder) ObserveLLMRequest(model string, duration time.Duration) {
	r.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}
