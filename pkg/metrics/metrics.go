// Package metrics exposes the Prometheus metrics published by quotad.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObserverPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotad_observer_passes_total",
			Help: "Number of quota observer passes started",
		},
	)

	ObserverPassFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotad_observer_pass_failures_total",
			Help: "Number of quota observer passes aborted by an error",
		},
	)

	ObserverPassDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotad_observer_pass_duration_seconds",
			Help:    "Duration of quota observer passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubjectsInViolation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotad_subjects_in_violation",
			Help: "Number of subjects currently held in violation, by subject kind",
		},
		[]string{"kind"},
	)

	PolicyTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotad_policy_transitions_total",
			Help: "Violation policy transitions driven through the cluster notifier",
		},
		[]string{"kind", "direction"},
	)

	PolicyConfigFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotad_policy_config_faults_total",
			Help: "Quota definitions encountered without a usable violation policy",
		},
	)

	RegionReportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotad_region_reports_total",
			Help: "Region size reports applied to the report registry",
		},
	)
)

// RecordPass records the outcome of one observer pass.
func RecordPass(elapsed time.Duration, err error) {
	ObserverPassesTotal.Inc()
	ObserverPassDurationSeconds.Observe(elapsed.Seconds())
	if err != nil {
		ObserverPassFailuresTotal.Inc()
	}
}

// RecordTransition records one notifier call that changed enforcement on a
// table.
func RecordTransition(kind, direction string) {
	PolicyTransitionsTotal.WithLabelValues(kind, direction).Inc()
}
