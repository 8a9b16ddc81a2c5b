// Package metrics defines the Prometheus collectors of the publish pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "discopilot"

type Metrics struct {
	Registry *prometheus.Registry

	Triggers         *prometheus.CounterVec
	Publishes        *prometheus.CounterVec
	PublishDuration  *prometheus.HistogramVec
	RunDuration      prometheus.Histogram
	LimiterRemaining *prometheus.GaugeVec
	DroppedEvents    prometheus.Counter
}

// New registers every collector on a fresh registry (plus Go and process
// collectors). A nil *Metrics is valid and records nothing.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Triggers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Trigger events by decision",
			},
			[]string{"decision"}, // "authorized" or a rejection reason
		),
		Publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_total",
				Help:      "Destination publish attempts by outcome",
			},
			[]string{"destination", "status"},
		),
		PublishDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Duration of one destination publish",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"destination"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full trigger fan-out, reply included",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		LimiterRemaining: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "limiter_remaining_calls",
				Help:      "Calls left in the current rate limit window",
			},
			[]string{"destination"},
		),
		DroppedEvents: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_events_total",
				Help:      "Inbound events dropped because the pipeline was saturated",
			},
		),
	}
}

func (m *Metrics) Trigger(decision string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(decision).Inc()
}

func (m *Metrics) Publish(dest, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(dest, status).Inc()
	m.PublishDuration.WithLabelValues(dest).Observe(took.Seconds())
}

func (m *Metrics) Run(took time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(took.Seconds())
}

func (m *Metrics) Remaining(dest string, n int) {
	if m == nil {
		return
	}
	m.LimiterRemaining.WithLabelValues(dest).Set(float64(n))
}

func (m *Metrics) Dropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.DroppedEvents.Add(float64(n))
}
