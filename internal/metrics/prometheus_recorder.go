package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthValues maps health names to gauge values so dashboards can alert on
// thresholds (green=0, amber=1, red=2).
var healthValues = map[string]float64{
	"green": 0,
	"amber": 1,
	"red":   2,
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	taskTransitions *prom.CounterVec
	taskDuration    *prom.HistogramVec
	stageResults    *prom.CounterVec
	syncsInFlight   *prom.GaugeVec
	serverHealth    *prom.GaugeVec
	clientRetries   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.taskTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pulp_manager",
			Name:      "task_transitions_total",
			Help:      "Task state transitions by task type and new state",
		}, []string{"task_type", "state"})
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "pulp_manager",
			Name:      "task_duration_seconds",
			Help:      "Task wall time from start to terminal state",
			Buckets:   prom.ExponentialBuckets(1, 4, 10),
		}, []string{"task_type"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pulp_manager",
			Name:      "sync_stage_results_total",
			Help:      "Sync stage outcomes by stage and result",
		}, []string{"stage", "result"})
		pr.syncsInFlight = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "pulp_manager",
			Name:      "syncs_in_flight",
			Help:      "Repo syncs currently in flight per server",
		}, []string{"server"})
		pr.serverHealth = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "pulp_manager",
			Name:      "server_health",
			Help:      "Repo sync health rollup per server (0=green 1=amber 2=red)",
		}, []string{"server"})
		pr.clientRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pulp_manager",
			Name:      "client_retries_total",
			Help:      "Content-server client retries on transient failures",
		}, []string{"server"})
		reg.MustRegister(pr.taskTransitions, pr.taskDuration, pr.stageResults,
			pr.syncsInFlight, pr.serverHealth, pr.clientRetries)
	})
	return pr
}

func (p *PrometheusRecorder) IncTaskTransition(taskType, state string) {
	if p == nil || p.taskTransitions == nil {
		return
	}
	p.taskTransitions.WithLabelValues(taskType, state).Inc()
}

func (p *PrometheusRecorder) ObserveTaskDuration(taskType string, d time.Duration) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSyncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) SetSyncsInFlight(server string, n int) {
	if p == nil || p.syncsInFlight == nil {
		return
	}
	p.syncsInFlight.WithLabelValues(server).Set(float64(n))
}

func (p *PrometheusRecorder) SetServerHealth(server string, health string) {
	if p == nil || p.serverHealth == nil {
		return
	}
	v, ok := healthValues[health]
	if !ok {
		return
	}
	p.serverHealth.WithLabelValues(server).Set(v)
}

func (p *PrometheusRecorder) IncClientRetry(server string) {
	if p == nil || p.clientRetries == nil {
		return
	}
	p.clientRetries.WithLabelValues(server).Inc()
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the
// provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.DefaultRegisterer.(*prom.Registry)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
