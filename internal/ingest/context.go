// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"github.com/lodestone-obs/lodestone/internal/alerts"
	"github.com/lodestone-obs/lodestone/internal/partition"
	"github.com/lodestone-obs/lodestone/internal/pipeline"
	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/wal"
)

// requestContext owns every mutable cache for one export request. Nothing in
// it is shared across requests; concurrent requests only meet at the durable
// stores behind the coordinator, registry, and WAL manager.
type requestContext struct {
	org string

	schemaCache   map[string]*schema.Cache
	schemaEvolved map[string]bool
	partitions    map[string]partition.Spec

	// pipelines memoizes the per-stream lookup; a nil value means the
	// stream was looked up and has no pipeline.
	pipelines      map[string]*pipeline.Executable
	pipelineInputs map[string][]record.Record

	// alertRules is keyed by the stream key "{org}/{type}/{name}";
	// triggers is keyed by stream name, and an entry (even an empty one)
	// means the stream was already evaluated this request.
	alertRules map[string][]*alerts.Alert
	triggers   map[string]alerts.TriggerBatch

	byStream map[string][]record.Record
	buffers  map[string]map[string]*wal.SchemaRecords

	rejected int64
	errorMsg string
}

func newRequestContext(org string) *requestContext {
	return &requestContext{
		org:            org,
		schemaCache:    make(map[string]*schema.Cache),
		schemaEvolved:  make(map[string]bool),
		partitions:     make(map[string]partition.Spec),
		pipelines:      make(map[string]*pipeline.Executable),
		pipelineInputs: make(map[string][]record.Record),
		alertRules:     make(map[string][]*alerts.Alert),
		triggers:       make(map[string]alerts.TriggerBatch),
		byStream:       make(map[string][]record.Record),
		buffers:        make(map[string]map[string]*wal.SchemaRecords),
	}
}

func (rc *requestContext) reject(count int64, msg string) {
	rc.rejected += count
	rc.errorMsg = msg
}
