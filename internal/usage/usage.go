// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"

	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/metrics"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// RequestStats is the per-stream outcome of one ingest request, recorded for
// billing and observability after a successful commit.
type RequestStats struct {
	SizeKB        float64
	Records       int64
	ResponseTime  float64 // seconds
	FunctionCount int64   // pipeline mapping steps applied
}

// Reporter records per-stream ingest statistics.
type Reporter interface {
	Report(ctx context.Context, stats RequestStats, org string, st stream.Type, streamName string, startedAt int64)
}

// LogReporter reports usage to the service log and Prometheus counters.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, stats RequestStats, org string, st stream.Type, streamName string, startedAt int64) {
	metrics.IngestedBytes.WithLabelValues(org, st.String()).Add(stats.SizeKB * 1024)
	metrics.IngestedRecords.WithLabelValues(org, st.String()).Add(float64(stats.Records))
	r.logger.Debug("recorded ingest usage",
		zap.String("org", org),
		zap.String("stream", streamName),
		zap.String("stream_type", st.String()),
		zap.Float64("size_kb", stats.SizeKB),
		zap.Int64("records", stats.Records),
		zap.Float64("response_time", stats.ResponseTime),
		zap.Int64("functions", stats.FunctionCount),
		zap.Int64("started_at", startedAt))
}

// NopReporter discards usage stats; used in tests.
type NopReporter struct{}

func (NopReporter) Report(context.Context, RequestStats, string, stream.Type, string, int64) {}
