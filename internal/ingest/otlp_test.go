// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/alerts"
	"github.com/lodestone-obs/lodestone/internal/partition"
	"github.com/lodestone-obs/lodestone/internal/pipeline"
	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/stream"
	"github.com/lodestone-obs/lodestone/internal/usage"
	"github.com/lodestone-obs/lodestone/internal/wal"
)

type captureNotifier struct {
	batches []alerts.TriggerBatch
}

func (c *captureNotifier) FireTriggers(_ context.Context, batch alerts.TriggerBatch) error {
	c.batches = append(c.batches, batch)
	return nil
}

type testHarness struct {
	service  *Service
	store    *schema.MemoryStore
	alerts   *alerts.MemoryStore
	notifier *captureNotifier
	wal      *wal.Manager
	walDir   string
}

func newTestHarness(t *testing.T, pipelines pipeline.Registry) *testHarness {
	t.Helper()
	logger := zap.NewNop()
	store := schema.NewMemoryStore()
	alertStore := alerts.NewMemoryStore()
	notifier := &captureNotifier{}
	walDir := t.TempDir()
	manager := wal.NewManager(walDir, time.Hour, 0, logger)
	t.Cleanup(func() { manager.Close() })
	if pipelines == nil {
		pipelines = pipeline.StaticRegistry{}
	}
	service := NewService(Params{
		Logger:     logger,
		Schemas:    schema.NewCoordinator(store, logger),
		Partitions: partition.NewResolver(store, logger),
		Pipelines:  pipelines,
		AlertStore: alertStore,
		Notifier:   notifier,
		WAL:        manager,
		Usage:      usage.NopReporter{},
	})
	return &testHarness{
		service:  service,
		store:    store,
		alerts:   alertStore,
		notifier: notifier,
		wal:      manager,
		walDir:   walDir,
	}
}

func gaugeRequest(metricName string, value float64) pmetricotlp.ExportRequest {
	md := pmetric.NewMetrics()
	rm := md.ResourceMetrics().AppendEmpty()
	rm.Resource().Attributes().PutStr("service.name", "checkout")
	sm := rm.ScopeMetrics().AppendEmpty()
	sm.Scope().SetName("otelcol/hostmetrics")
	sm.Scope().SetVersion("1.0")
	m := sm.Metrics().AppendEmpty()
	m.SetName(metricName)
	m.SetDescription("a test gauge")
	m.SetUnit("1")
	dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
	dp.SetDoubleValue(value)
	dp.SetTimestamp(pcommon.Timestamp(1700000000000000000))
	dp.Attributes().PutStr("host", "node-1")
	return pmetricotlp.NewExportRequestFromMetrics(md)
}

func (h *testHarness) readStream(t *testing.T, org, name string) []wal.Entry {
	t.Helper()
	require.NoError(t, h.wal.Close())
	entries, err := wal.ReadDir(filepath.Join(h.walDir, org, "metrics", name))
	require.NoError(t, err)
	return entries
}

func TestHandleExportWritesRecords(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	result, err := h.service.HandleExport(ctx, "default", gaugeRequest("CPU.Usage", 0.7), KindHTTPJSON)
	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.Zero(t, result.Response.PartialSuccess().RejectedDataPoints())

	entries := h.readStream(t, "default", "cpu_usage")
	require.Len(t, entries, 1)
	assert.Equal(t, "cpu_usage", entries[0].Stream)
	require.Len(t, entries[0].Records, 1)

	rec := entries[0].Records[0]
	assert.Equal(t, "cpu_usage", rec.Name())
	assert.Equal(t, 0.7, rec[record.ValueLabel])
	assert.Equal(t, "checkout", rec["service_name"])
	assert.Equal(t, "otelcol/hostmetrics", rec["instrumentation_library_name"])
	assert.Equal(t, "1.0", rec["instrumentation_library_version"])
	assert.Equal(t, "node-1", rec["host"])
	// Nanoseconds truncated to microseconds.
	assert.EqualValues(t, 1700000000000000, rec.Timestamp())

	// The schema evolved and family metadata was persisted.
	info, err := h.store.GetStream(ctx, "default", stream.TypeMetrics, "cpu_usage")
	require.NoError(t, err)
	assert.Contains(t, info.Fields, "host")
	assert.Contains(t, info.Fields, record.ValueLabel)
	assert.Contains(t, info.Settings[record.MetadataLabel], `"metric_type":"gauge"`)
	assert.Contains(t, info.Settings[record.MetadataLabel], `"help":"a test gauge"`)
}

func TestHandleExportSkipsEmptyScopes(t *testing.T) {
	md := pmetric.NewMetrics()
	md.ResourceMetrics().AppendEmpty() // resource with no scope metrics
	req := pmetricotlp.NewExportRequestFromMetrics(md)

	h := newTestHarness(t, nil)
	result, err := h.service.HandleExport(context.Background(), "default", req, KindHTTPJSON)
	require.NoError(t, err)
	assert.False(t, result.Partial)
}

func TestHandleExportPipelineFailureIsPartial(t *testing.T) {
	exe, err := pipeline.Compile("cpu_usage", `root = throw("boom")`)
	require.NoError(t, err)
	h := newTestHarness(t, pipeline.StaticRegistry{"cpu_usage": exe})

	result, err := h.service.HandleExport(context.Background(), "default", gaugeRequest("cpu_usage", 1), KindHTTPJSON)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.EqualValues(t, 1, result.Response.PartialSuccess().RejectedDataPoints())
	assert.NotEmpty(t, result.Response.PartialSuccess().ErrorMessage())

	entries := h.readStream(t, "default", "cpu_usage")
	assert.Empty(t, entries)
}

func TestHandleExportPipelineReroute(t *testing.T) {
	exe, err := pipeline.Compile("cpu_usage", `root = this
root.__name__ = "derived_cpu"`)
	require.NoError(t, err)
	h := newTestHarness(t, pipeline.StaticRegistry{"cpu_usage": exe})

	result, err := h.service.HandleExport(context.Background(), "default", gaugeRequest("cpu_usage", 1), KindHTTPJSON)
	require.NoError(t, err)
	assert.False(t, result.Partial)

	entries := h.readStream(t, "default", "derived_cpu")
	require.Len(t, entries, 1)
	assert.Equal(t, "derived_cpu", entries[0].Records[0].Name())
}

func TestHandleExportPipelineDrop(t *testing.T) {
	exe, err := pipeline.Compile("cpu_usage", `root = deleted()`)
	require.NoError(t, err)
	h := newTestHarness(t, pipeline.StaticRegistry{"cpu_usage": exe})

	result, err := h.service.HandleExport(context.Background(), "default", gaugeRequest("cpu_usage", 1), KindHTTPJSON)
	require.NoError(t, err)
	// Dropping via the pipeline is intentional filtering, not a failure.
	assert.False(t, result.Partial)

	entries := h.readStream(t, "default", "cpu_usage")
	assert.Empty(t, entries)
}

func TestHandleExportSkipsDeletingStream(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.MarkDeleting(ctx, "default", stream.TypeMetrics, "cpu_usage"))

	result, err := h.service.HandleExport(ctx, "default", gaugeRequest("cpu_usage", 1), KindHTTPJSON)
	require.NoError(t, err)
	// Dropped silently: not an error and not a partial success.
	assert.False(t, result.Partial)

	entries := h.readStream(t, "default", "cpu_usage")
	assert.Empty(t, entries)
}

func TestHandleExportFiresAlerts(t *testing.T) {
	h := newTestHarness(t, nil)
	h.alerts.Add(&alerts.Alert{
		Name:       "high-cpu",
		Org:        "default",
		StreamType: stream.TypeMetrics,
		StreamName: "cpu_usage",
		Condition:  "value > 0.5",
		Enabled:    true,
	})

	_, err := h.service.HandleExport(context.Background(), "default", gaugeRequest("cpu_usage", 0.9), KindHTTPJSON)
	require.NoError(t, err)

	require.Len(t, h.notifier.batches, 1)
	require.Len(t, h.notifier.batches[0], 1)
	trigger := h.notifier.batches[0][0]
	assert.Equal(t, "high-cpu", trigger.Alert.Name)
	assert.Equal(t, 0.9, trigger.Row["value"])
	assert.Contains(t, trigger.Row, "alert_end_time")
}

func TestHandleExportAlertsNotFiredBelowThreshold(t *testing.T) {
	h := newTestHarness(t, nil)
	h.alerts.Add(&alerts.Alert{
		Name:       "high-cpu",
		Org:        "default",
		StreamType: stream.TypeMetrics,
		StreamName: "cpu_usage",
		Condition:  "value > 0.5",
		Enabled:    true,
	})

	_, err := h.service.HandleExport(context.Background(), "default", gaugeRequest("cpu_usage", 0.1), KindHTTPJSON)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.batches)
}

func TestHandleExportAssignsMissingTimestamp(t *testing.T) {
	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName("no_ts")
	m.SetEmptyGauge().DataPoints().AppendEmpty().SetDoubleValue(1)
	req := pmetricotlp.NewExportRequestFromMetrics(md)

	h := newTestHarness(t, nil)
	before := time.Now().UnixMicro()
	_, err := h.service.HandleExport(context.Background(), "default", req, KindHTTPJSON)
	require.NoError(t, err)
	after := time.Now().UnixMicro()

	entries := h.readStream(t, "default", "no_ts")
	require.Len(t, entries, 1)
	ts := entries[0].Records[0].Timestamp()
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestHandleExportHistogramDerivedStreams(t *testing.T) {
	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName("http_latency")
	hist := m.SetEmptyHistogram()
	dp := hist.DataPoints().AppendEmpty()
	dp.SetCount(3)
	dp.SetSum(6)
	dp.ExplicitBounds().FromRaw([]float64{1})
	dp.BucketCounts().FromRaw([]uint64{2, 1})
	req := pmetricotlp.NewExportRequestFromMetrics(md)

	h := newTestHarness(t, nil)
	_, err := h.service.HandleExport(context.Background(), "default", req, KindHTTPJSON)
	require.NoError(t, err)

	// Derived rows commit to their own streams.
	require.NoError(t, h.wal.Close())
	for _, name := range []string{"http_latency_count", "http_latency_sum", "http_latency_bucket"} {
		entries, err := wal.ReadDir(filepath.Join(h.walDir, "default", "metrics", name))
		require.NoError(t, err)
		assert.NotEmpty(t, entries, "stream %s", name)
	}
}

func TestCheckIngestionAllowed(t *testing.T) {
	h := newTestHarness(t, nil)
	require.NoError(t, h.service.CheckIngestionAllowed("default"))

	quota := NewFixedWindowQuota(1, time.Hour)
	h.service.quota = quota
	require.NoError(t, h.service.CheckIngestionAllowed("default"))
	assert.ErrorIs(t, h.service.CheckIngestionAllowed("default"), ErrQuotaExceeded)
}
