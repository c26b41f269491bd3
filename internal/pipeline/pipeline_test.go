// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

func TestCompileRejectsEmptyAndBroken(t *testing.T) {
	_, err := Compile("cpu_usage", "")
	require.Error(t, err)

	_, err = Compile("cpu_usage", "root = this |")
	require.Error(t, err)
}

func TestProcessBatchPassThrough(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = this
root.enriched = "yes"`)
	require.NoError(t, err)
	assert.Equal(t, 1, exe.NumFunctions())

	out, err := exe.ProcessBatch("default", []record.Record{
		{record.NameLabel: "cpu_usage", "host": "node-1"},
	})
	require.NoError(t, err)

	params := stream.Params{Org: "default", Type: stream.TypeMetrics, Name: "cpu_usage"}
	require.Len(t, out[params], 1)
	assert.Equal(t, "yes", out[params][0]["enriched"])
}

func TestProcessBatchDropsDeletedRoot(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = if this.host == "node-1" { deleted() } else { this }`)
	require.NoError(t, err)

	out, err := exe.ProcessBatch("default", []record.Record{
		{record.NameLabel: "cpu_usage", "host": "node-1"},
		{record.NameLabel: "cpu_usage", "host": "node-2"},
	})
	require.NoError(t, err)

	params := stream.Params{Org: "default", Type: stream.TypeMetrics, Name: "cpu_usage"}
	require.Len(t, out[params], 1)
	assert.Equal(t, "node-2", out[params][0]["host"])
}

func TestProcessBatchReroutesByName(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = this
root.__name__ = "Rerouted.Stream"`)
	require.NoError(t, err)

	out, err := exe.ProcessBatch("default", []record.Record{
		{record.NameLabel: "cpu_usage", "host": "node-1"},
	})
	require.NoError(t, err)

	params := stream.Params{Org: "default", Type: stream.TypeMetrics, Name: "rerouted_stream"}
	require.Len(t, out[params], 1)
}

func TestProcessBatchStreamTypeOverride(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = this
root.__stream_type__ = "logs"`)
	require.NoError(t, err)

	out, err := exe.ProcessBatch("default", []record.Record{
		{record.NameLabel: "cpu_usage"},
	})
	require.NoError(t, err)

	params := stream.Params{Org: "default", Type: stream.TypeLogs, Name: "cpu_usage"}
	require.Len(t, out[params], 1)
	assert.NotContains(t, out[params][0], StreamTypeColumn)
}

func TestProcessBatchErrorFailsBatch(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = throw("bad batch")`)
	require.NoError(t, err)

	_, err = exe.ProcessBatch("default", []record.Record{{record.NameLabel: "cpu_usage"}})
	require.ErrorContains(t, err, "bad batch")
}

func TestMultiStepPipeline(t *testing.T) {
	exe, err := Compile("cpu_usage", `root = this
root.first = true
---
root = this
root.second = true`)
	require.NoError(t, err)
	assert.Equal(t, 2, exe.NumFunctions())

	out, err := exe.ProcessBatch("default", []record.Record{{record.NameLabel: "cpu_usage"}})
	require.NoError(t, err)

	params := stream.Params{Org: "default", Type: stream.TypeMetrics, Name: "cpu_usage"}
	require.Len(t, out[params], 1)
	assert.Equal(t, true, out[params][0]["first"])
	assert.Equal(t, true, out[params][0]["second"])
}

func TestStoreRegistry(t *testing.T) {
	store := schema.NewMemoryStore()
	ctx := context.Background()
	registry := NewStoreRegistry(store, zap.NewNop())

	// Unknown stream and stream without the setting both resolve to nil.
	exe, err := registry.PipelineFor(ctx, "default", stream.TypeMetrics, "cpu_usage")
	require.NoError(t, err)
	assert.Nil(t, exe)

	require.NoError(t, store.UpdateSetting(ctx, "default", stream.TypeMetrics, "cpu_usage", map[string]string{
		SettingPipeline: "root = this",
	}))
	exe, err = registry.PipelineFor(ctx, "default", stream.TypeMetrics, "cpu_usage")
	require.NoError(t, err)
	require.NotNil(t, exe)

	// Same source resolves to the cached executable.
	again, err := registry.PipelineFor(ctx, "default", stream.TypeMetrics, "cpu_usage")
	require.NoError(t, err)
	assert.Same(t, exe, again)

	// A broken mapping is ignored rather than rejecting the stream.
	require.NoError(t, store.UpdateSetting(ctx, "default", stream.TypeMetrics, "cpu_usage", map[string]string{
		SettingPipeline: "root = this |",
	}))
	exe, err = registry.PipelineFor(ctx, "default", stream.TypeMetrics, "cpu_usage")
	require.NoError(t, err)
	assert.Nil(t, exe)
}
