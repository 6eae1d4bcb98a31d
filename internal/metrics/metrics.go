// Package metrics exports journey outcomes as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verifyq"

// Recorder counts journey stages and outcomes. It is a verify.Observer.
type Recorder struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	stages   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewRecorder creates a recorder on its own registry, together with the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished verification runs by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed verification runs by failing step and error kind.",
		}, []string{"stage", "kind"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_reached_total",
			Help:      "Journey stage transitions.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of verification runs, launch to teardown.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 120, 300},
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.failures,
		r.stages,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// StageReached implements verify.Observer.
func (r *Recorder) StageReached(stage verify.Stage) {
	r.stages.WithLabelValues(string(stage)).Inc()
}

// Finished implements verify.Observer.
func (r *Recorder) Finished(res *verify.Result) {
	r.runs.WithLabelValues(string(res.Outcome)).Inc()
	r.duration.Observe(res.Duration.Seconds())
	if se := res.StageError(); se != nil {
		r.failures.WithLabelValues(string(se.Stage), string(se.Kind)).Inc()
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
