// Package metrics declares the prometheus collectors of the forecast pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CountersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_forecast_counters_processed_total",
		Help: "Counters processed by a prediction run, by model variant and outcome.",
	}, []string{"model", "outcome"})

	PredictionsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_forecast_predictions_stored_total",
		Help: "Prediction rows persisted, by table.",
	}, []string{"table"})

	PredictionsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikeflow_forecast_predictions_published_total",
		Help: "Prediction batches published to Redis.",
	})

	RowsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_store_rows_upserted_total",
		Help: "Rows upserted into the store, by table.",
	}, []string{"table"})

	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_upstream_failures_total",
		Help: "Failed upstream API calls, by source.",
	}, []string{"source"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bikeflow_forecast_run_duration_seconds",
		Help:    "Duration of a full prediction run.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// Outcome labels for CountersProcessed.
const (
	OutcomeTrained = "trained"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
