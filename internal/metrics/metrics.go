// Package metrics holds the orchestrator's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

const namespace = "scenarios"

// Metrics contains all orchestrator metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   *prometheus.CounterVec
	RunsFinished  *prometheus.CounterVec
	RunsActive    prometheus.Gauge
	RunDuration   *prometheus.HistogramVec
	RunScore      *prometheus.HistogramVec
	Verdicts      *prometheus.CounterVec
	PipelineCalls *prometheus.CounterVec
	PipelineTime  prometheus.Histogram
	Subscribers   *prometheus.GaugeVec
	Dropped       *prometheus.CounterVec
	RunsCleaned   prometheus.Counter
}

// New creates the metrics and registers them, together with Go runtime
// collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "started_total",
				Help:      "Total number of runs started",
			},
			[]string{"scenario"},
		),
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "finished_total",
				Help:      "Total number of runs that reached a terminal state",
			},
			[]string{"scenario", "status"},
		),
		RunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "active",
				Help:      "Runs currently queued or running",
			},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of runs",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"scenario"},
		),
		RunScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "score",
				Help:      "Total score of completed runs",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"scenario"},
		),
		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "verdicts_total",
				Help:      "Policy verdicts of completed runs",
			},
			[]string{"verdict"},
		),
		PipelineCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "requests_total",
				Help:      "Detection pipeline requests by outcome",
			},
			[]string{"outcome"},
		),
		PipelineTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "request_duration_seconds",
				Help:      "Detection pipeline response time",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "subscribers",
				Help:      "Attached stream observers",
			},
			[]string{"channel"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "dropped_total",
				Help:      "Records discarded because an observer queue was full",
			},
			[]string{"channel"},
		),
		RunsCleaned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "cleaned_total",
				Help:      "Terminal runs removed from the registry",
			},
		),
	}

	m.registry.MustRegister(
		m.RunsStarted,
		m.RunsFinished,
		m.RunsActive,
		m.RunDuration,
		m.RunScore,
		m.Verdicts,
		m.PipelineCalls,
		m.PipelineTime,
		m.Subscribers,
		m.Dropped,
		m.RunsCleaned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RunStarted records a newly accepted run.
func (m *Metrics) RunStarted(scenario string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(scenario).Inc()
	m.RunsActive.Inc()
}

// RunFinished records a run reaching a terminal state.
func (m *Metrics) RunFinished(run *domain.Run) {
	if m == nil || run == nil {
		return
	}
	m.RunsFinished.WithLabelValues(run.ScenarioName, string(run.Status)).Inc()
	m.RunsActive.Dec()
	if run.StartedAt != nil && run.FinishedAt != nil {
		m.RunDuration.WithLabelValues(run.ScenarioName).Observe(run.FinishedAt.Sub(*run.StartedAt).Seconds())
	}
	if run.Score != nil {
		m.RunScore.WithLabelValues(run.ScenarioName).Observe(run.Score.TotalScore)
	}
	if run.Verdict != "" {
		m.Verdicts.WithLabelValues(string(run.Verdict)).Inc()
	}
}

// PipelineCall records one detection request.
func (m *Metrics) PipelineCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineCalls.WithLabelValues(outcome).Inc()
	m.PipelineTime.Observe(d.Seconds())
}

// Cleaned records runs removed from the registry.
func (m *Metrics) Cleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RunsCleaned.Add(float64(n))
}

// Ensure Metrics observes the stream broadcaster.
var _ stream.Observer = (*Metrics)(nil)

// SubscriberAdded implements stream.Observer.
func (m *Metrics) SubscriberAdded(ch stream.Channel) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(string(ch)).Inc()
}

// SubscriberRemoved implements stream.Observer.
func (m *Metrics) SubscriberRemoved(ch stream.Channel) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(string(ch)).Dec()
}

// RecordDropped implements stream.Observer.
func (m *Metrics) RecordDropped(ch stream.Channel) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(string(ch)).Inc()
}
