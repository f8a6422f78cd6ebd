// Package metrics registers the Prometheus collectors of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DerivativesWritten counts files written per kind (source, original, retina, thumbnail).
	DerivativesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pictor_derivative_files_written_total",
			Help: "Derivative files written to the upload tree",
		},
		[]string{"kind"},
	)

	// ProduceDuration observes one full derivative run for an upload.
	ProduceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pictor_produce_duration_seconds",
			Help:    "Time spent producing every derivative of one upload",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TransformFailures counts aborted runs by error code.
	TransformFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pictor_transform_failures_total",
			Help: "Derivative runs aborted by a transform, timeout or storage error",
		},
		[]string{"code"},
	)

	// IngestOutcomes counts terminal states of ingestion targets.
	IngestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pictor_ingest_outcomes_total",
			Help: "Ingestion targets by terminal state",
		},
		[]string{"state"},
	)

	// SweepRemoved counts what the orphan sweep deleted.
	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pictor_sweep_removed_total",
			Help: "Orphan files, empty directories and stale temp uploads removed by the sweep",
		},
		[]string{"kind"},
	)

	// ReservedColumnLoads counts schema reads done by the metadata guard.
	ReservedColumnLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pictor_reserved_columns_loads_total",
			Help: "Reserved column set reloads from the record store",
		},
	)
)
