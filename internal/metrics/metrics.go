// Package metrics exposes Prometheus instrumentation for identification and
// tiling runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "idmaker"

// Metrics is the set of collectors updated by the workflows.
type Metrics struct {
	Tiles           *prometheus.CounterVec
	Located         prometheus.Counter
	Filtered        prometheus.Counter
	Identities      prometheus.Gauge
	ResolveDuration prometheus.Histogram
	Runs            *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_total",
			Help:      "Prediction files collected, by outcome.",
		}, []string{"status"}),
		Located: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_located_total",
			Help:      "Detections placed in world coordinates.",
		}),
		Filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_filtered_total",
			Help:      "Detections dropped by the edge filter.",
		}),
		Identities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identities",
			Help:      "Distinct individuals found by the last run.",
		}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving identities.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs, by job and outcome.",
		}, []string{"job", "status"}),
	}
	reg.MustRegister(m.Tiles, m.Located, m.Filtered, m.Identities, m.ResolveDuration, m.Runs)
	return m
}

// ObserveCollect records one collection pass.
func (m *Metrics) ObserveCollect(ok, failed, located, filtered int) {
	if m == nil {
		return
	}
	m.Tiles.WithLabelValues("ok").Add(float64(ok))
	m.Tiles.WithLabelValues("failed").Add(float64(failed))
	m.Located.Add(float64(located))
	m.Filtered.Add(float64(filtered))
}

// ObserveResolve records a resolve call and the number of individuals it found.
func (m *Metrics) ObserveResolve(d time.Duration, individuals int) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(d.Seconds())
	m.Identities.Set(float64(individuals))
}

// ObserveRun counts a finished workflow run.
func (m *Metrics) ObserveRun(job string, err error) {
	if m == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	m.Runs.WithLabelValues(job, status).Inc()
}
