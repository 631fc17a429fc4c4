package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentflow"

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	modelCallTotal   *prometheus.CounterVec
	modelCallLatency *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec

	activeStreams       prometheus.Gauge
	streamEventsDropped prometheus.Counter

	laneWait    prometheus.Histogram
	activeLanes prometheus.Gauge

	sessionOperationDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_executions_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_runs_total",
					Help:      "Total agent runs by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration in seconds by provider.",
					Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"provider"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_calls_total",
					Help:      "Total model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallLatency: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "model_call_duration_seconds",
					Help:      "Model provider call latency in seconds.",
					Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"provider"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tokens_total",
					Help:      "Tokens consumed by provider and kind (prompt, completion).",
				},
				[]string{"provider", "kind"},
			),
			activeStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_streams",
					Help:      "Registered conversation event streams.",
				},
			),
			streamEventsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stream_events_dropped_total",
					Help:      "Events evicted from full stream queues.",
				},
			),
			laneWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_wait_seconds",
					Help:      "Time a run waited for its conversation lane.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_lanes",
					Help:      "Conversation lanes with queued or running work.",
				},
			),
			sessionOperationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_operation_duration_seconds",
					Help:      "Conversation store operation duration by operation.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.modelCallTotal,
			m.modelCallLatency,
			m.tokensTotal,
			m.activeStreams,
			m.streamEventsDropped,
			m.laneWait,
			m.activeLanes,
			m.sessionOperationDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentRun(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, outcome).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, status(success)).Inc()
	m.modelCallLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordTokens(provider string, prompt, completion int) {
	m := getMetrics()
	if prompt > 0 {
		m.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

func SetActiveStreams(count int) {
	getMetrics().activeStreams.Set(float64(count))
}

func RecordStreamDrop() {
	getMetrics().streamEventsDropped.Inc()
}

func RecordLaneWait(duration time.Duration) {
	getMetrics().laneWait.Observe(duration.Seconds())
}

func SetActiveLanes(count int) {
	getMetrics().activeLanes.Set(float64(count))
}

func RecordSessionOperation(operation string, duration time.Duration) {
	getMetrics().sessionOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
