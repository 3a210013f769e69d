// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStageRecorder exports stage timings as a histogram and an error counter.
type PrometheusStageRecorder struct {
	durations *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	rows      *prometheus.CounterVec
}

// NewPrometheusStageRecorder creates the collectors under namespace and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusStageRecorder(namespace string, reg prometheus.Registerer) (*PrometheusStageRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusStageRecorder{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "stage_duration_seconds", Help: "Duration of document store operation stages.", Buckets: prometheus.DefBuckets},
			[]string{"op", "area", "stage"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "stage_errors_total", Help: "Number of failed document store operation stages."},
			[]string{"op", "area", "stage"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "stage_rows_total", Help: "Number of rows handled by document store operation stages."},
			[]string{"op", "area", "stage"},
		),
	}
	for _, c := range []prometheus.Collector{r.durations, r.errors, r.rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveStage implements StageMetricsRecorder.
func (r *PrometheusStageRecorder) ObserveStage(_ context.Context, t StageTiming) {
	r.durations.WithLabelValues(t.Operation, t.Area, t.Stage).Observe(t.Duration.Seconds())
	if t.Error {
		r.errors.WithLabelValues(t.Operation, t.Area, t.Stage).Inc()
	}
	if t.Count > 0 {
		r.rows.WithLabelValues(t.Operation, t.Area, t.Stage).Add(float64(t.Count))
	}
}

