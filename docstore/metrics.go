// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"time"
)

const (
	MetricsOpInsert       = "insert"
	MetricsOpUpdate       = "update"
	MetricsOpDelete       = "delete"
	MetricsOpGet          = "get"
	MetricsOpPull         = "pull"
	MetricsOpHistory      = "history"
	MetricsOpEnsureTables = "ensure_tables"

	MetricsStageTotal = "total"

	// Write transaction stages.
	MetricsStageWrite     = "write"
	MetricsStageHistory   = "history_capture"
	MetricsStageChangeLog = "changelog_append"

	// Read stages.
	MetricsStageFetch     = "fetch"
	MetricsStageMigrate   = "migrate"
	MetricsStageWriteBack = "write_back"
)

type StageTiming struct {
	Operation string
	Area      string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (s *Store) stageTimingEnabled() bool {
	if s == nil || s.config == nil {
		return false
	}
	return s.config.StageMetrics != nil || s.config.LogStageTimings
}

func (s *Store) stageStart() time.Time {
	if !s.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (s *Store) observeStage(ctx context.Context, op, area, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || s == nil || s.config == nil {
		return
	}

	timing := StageTiming{
		Operation: op,
		Area:      area,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if s.config.StageMetrics != nil {
		s.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if s.config.LogStageTimings && s.logger != nil {
		s.logger.Debug("Stage timing",
			"op", timing.Operation,
			"area", timing.Area,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
