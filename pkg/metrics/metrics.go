// Package metrics exposes prometheus collectors for jobs, pipelines and
// the JIT. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
)

// Metrics holds the shell's collectors.
type Metrics struct {
	JobTransitions   *prometheus.CounterVec
	PipelinesTotal   *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	PipesTotal       *prometheus.CounterVec
	JITCompiles      prometheus.Counter
	JITFallbacks     prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not
// nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxsh_job_transitions_total",
				Help: "Job state transitions by target state",
			},
			[]string{"from", "to"},
		),
		PipelinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxsh_pipelines_total",
				Help: "Pipelines executed by final state",
			},
			[]string{"state"},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nxsh_pipeline_duration_seconds",
				Help:    "Wall time of foreground pipelines",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
		),
		PipesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxsh_pipes_total",
				Help: "Pipes created between stages by transport kind",
			},
			[]string{"kind"},
		),
		JITCompiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxsh_jit_compiles_total",
			Help: "Blocks compiled by the JIT",
		}),
		JITFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxsh_jit_fallbacks_total",
			Help: "Blocks pinned to the interpreter after a compile error",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.JobTransitions, m.PipelinesTotal, m.PipelineDuration,
			m.PipesTotal, m.JITCompiles, m.JITFallbacks)
	}
	return m
}

// JobTransition records one job state change. It has the signature of a
// scheduler hook.
func (m *Metrics) JobTransition(t jobs.Transition) {
	if m == nil {
		return
	}
	m.JobTransitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
}

// PipelineDone records a finished pipeline.
func (m *Metrics) PipelineDone(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelinesTotal.WithLabelValues(state).Inc()
	m.PipelineDuration.Observe(d.Seconds())
}

// PipeOpened records a pipe between two stages.
func (m *Metrics) PipeOpened(kind string) {
	if m == nil {
		return
	}
	m.PipesTotal.WithLabelValues(kind).Inc()
}

// PipeKind records an in-process pipe.
func (m *Metrics) PipeKind(k pipe.Kind) { m.PipeOpened(k.String()) }

// JITCompiled implements the machine observer.
func (m *Metrics) JITCompiled() {
	if m != nil {
		m.JITCompiles.Inc()
	}
}

// JITFallback implements the machine observer.
func (m *Metrics) JITFallback() {
	if m != nil {
		m.JITFallbacks.Inc()
	}
}

// WriteFile writes every metric gathered by g to filename in the text
// exposition format.
func WriteFile(filename string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(filename, g)
}
