// Package metrics counts rewrite activity in a private prometheus registry
// and exports it in the node-exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// File outcomes recorded by FileDone.
const (
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Recorder holds the run's collectors. It is safe for concurrent use and
// satisfies engine.Observer.
type Recorder struct {
	registry        *prometheus.Registry
	applied         *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	files           *prometheus.CounterVec
	compiledQueries prometheus.Gauge
}

// New returns a recorder with its own registry, so several recorders never
// collide.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prune_rules_applied_total",
			Help: "Rewrite steps applied, by rule.",
		}, []string{"rule"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prune_constraint_rejections_total",
			Help: "Matches discarded by a failing constraint, by rule, counted once per tree revision.",
		}, []string{"rule"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prune_files_total",
			Help: "Files processed, by outcome.",
		}, []string{"status"}),
		compiledQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prune_compiled_queries",
			Help: "Queries held by the compiled-query cache.",
		}),
	}
	r.registry.MustRegister(r.applied, r.rejected, r.files, r.compiledQueries)
	return r
}

// RuleApplied counts one applied step of rule.
func (r *Recorder) RuleApplied(rule string) {
	r.applied.WithLabelValues(rule).Inc()
}

// ConstraintRejected counts one match of rule rejected by a constraint.
func (r *Recorder) ConstraintRejected(rule string) {
	r.rejected.WithLabelValues(rule).Inc()
}

// FileDone counts a processed file under status.
func (r *Recorder) FileDone(status string) {
	r.files.WithLabelValues(status).Inc()
}

// SetCompiledQueries records the size of the query cache.
func (r *Recorder) SetCompiledQueries(n int) {
	r.compiledQueries.Set(float64(n))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
