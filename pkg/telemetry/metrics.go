package telemetry

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink records guarded runs as prometheus metrics.
type MetricsSink struct {
	// lock wait latency - histogram to track p50/p90/p99
	// labels: class (key prefix: code, db, graph, docgen); per-key detail
	// lives in Stats since file keys are unbounded
	waitDuration *prometheus.HistogramVec

	// guarded run counter - counts outcomes
	// use this to calculate busy rate: busy / total
	// labels: class, outcome
	runsTotal *prometheus.CounterVec

	// time spent inside the guarded operation
	runDuration *prometheus.HistogramVec

	// operations currently inside a guarded section
	// useful for detecting lock leaks
	inFlight prometheus.Gauge
}

// NewMetricsSink registers the metrics on reg. A nil reg uses the default
// prometheus registerer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsSink{
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stompguard_lock_wait_duration_seconds",
				Help:    "time spent waiting to acquire all locks of a guarded run",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"class"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stompguard_guarded_runs_total",
				Help: "total number of guarded runs by outcome",
			},
			[]string{"class", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stompguard_guarded_run_duration_seconds",
				Help:    "wall time of guarded runs including lock wait",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"class"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stompguard_guarded_runs_in_flight",
				Help: "guarded operations currently holding their locks",
			},
		),
	}
}

func (s *MetricsSink) Emit(_ context.Context, ev Event) {
	for _, class := range classesOf(ev.Keys) {
		s.waitDuration.WithLabelValues(class).Observe(ev.Wait.Seconds())
		s.runsTotal.WithLabelValues(class, string(ev.Outcome)).Inc()
		s.runDuration.WithLabelValues(class).Observe(ev.Duration.Seconds())
	}
}

// classesOf returns the distinct key prefixes of keys, in first-seen order.
func classesOf(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		class, _, ok := strings.Cut(key, ":")
		if !ok {
			class = "unknown"
		}
		if !seen[class] {
			seen[class] = true
			out = append(out, class)
		}
	}
	return out
}

// Enter and Leave bracket the operation body.
func (s *MetricsSink) Enter() { s.inFlight.Inc() }

func (s *MetricsSink) Leave() { s.inFlight.Dec() }
