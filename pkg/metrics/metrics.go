// Package metrics exposes reconstruction progress as Prometheus metrics.
//
// Each Recorder owns its registry so several runs in one process never
// collide; the CLI writes the registry to a node-exporter textfile when a run
// finishes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects reconstruction metrics.
type Recorder struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	iterations        prometheus.Counter
	batches           prometheus.Counter
	constraints       *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	normalizedError   prometheus.Gauge
}

// NewRecorder creates a Recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ptycho_runs_total",
			Help: "Reconstruction runs started, by method",
		}, []string{"method"}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "ptycho_iterations_total",
			Help: "Completed reconstruction iterations",
		}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "ptycho_batches_total",
			Help: "Processed pattern batches",
		}),
		constraints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ptycho_constraints_applied_total",
			Help: "Constraint applications, by constraint",
		}, []string{"constraint"}),
		iterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptycho_iteration_duration_seconds",
			Help:    "Wall time of one reconstruction iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		normalizedError: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ptycho_normalized_error",
			Help: "Normalised Fourier error of the latest iteration",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RunStarted counts a run of the given method.
func (r *Recorder) RunStarted(method string) {
	r.runs.WithLabelValues(method).Inc()
}

// ObserveBatch counts one processed batch.
func (r *Recorder) ObserveBatch() {
	r.batches.Inc()
}

// ObserveIteration records one finished iteration.
func (r *Recorder) ObserveIteration(d time.Duration, normalizedError float64) {
	r.iterations.Inc()
	r.iterationDuration.Observe(d.Seconds())
	r.normalizedError.Set(normalizedError)
}

// ObserveConstraints counts the constraints applied in one iteration.
func (r *Recorder) ObserveConstraints(names []string) {
	for _, n := range names {
		r.constraints.WithLabelValues(n).Inc()
	}
}

// WriteTextfile writes the registry in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
