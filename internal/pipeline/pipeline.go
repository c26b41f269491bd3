// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redpanda-data/benthos/v4/public/bloblang"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// StreamTypeColumn is a reserved output column a mapping may set to reroute
// a record to another ingestion path. Outputs typed anything other than
// "metrics" are dropped by the metrics path.
const StreamTypeColumn = "__stream_type__"

// Executable is one stream's compiled transformation pipeline: an ordered
// list of Bloblang mappings applied to every record of the stream in batch.
type Executable struct {
	stream string
	steps  []*bloblang.Executor
}

// Compile parses the mapping sources into an Executable. Sources are
// separated by lines containing only "---".
func Compile(streamName, src string) (*Executable, error) {
	env := bloblang.NewEnvironment()
	var steps []*bloblang.Executor
	for i, part := range strings.Split(src, "\n---\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exe, err := env.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("parse mapping %d for stream %q: %w", i, streamName, err)
		}
		steps = append(steps, exe)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline for stream %q has no mappings", streamName)
	}
	return &Executable{stream: streamName, steps: steps}, nil
}

// NumFunctions returns the number of mapping steps, reported in usage stats.
func (e *Executable) NumFunctions() int {
	return len(e.steps)
}

// ProcessBatch runs every record through the pipeline and groups the
// surviving outputs by destination stream. A mapping that deletes the root
// drops the record; a mapping error fails the whole batch, per the partial-
// failure contract of the ingestion path.
func (e *Executable) ProcessBatch(org string, records []record.Record) (map[stream.Params][]record.Record, error) {
	out := make(map[stream.Params][]record.Record)
	for _, rec := range records {
		val := any(map[string]any(rec))
		deleted := false
		for _, step := range e.steps {
			res, err := step.Query(val)
			if errors.Is(err, bloblang.ErrRootDeleted) {
				deleted = true
				break
			}
			if err != nil {
				return nil, fmt.Errorf("stream %q pipeline: %w", e.stream, err)
			}
			val = res
		}
		if deleted {
			continue
		}
		mapped, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stream %q pipeline: mapping produced %T, want object", e.stream, val)
		}
		res := record.Record(mapped)
		params := stream.Params{Org: org, Type: stream.TypeMetrics, Name: e.stream}
		if st, ok := res[StreamTypeColumn].(string); ok {
			params.Type = stream.Type(st)
			delete(res, StreamTypeColumn)
		}
		if name := res.Name(); name != "" {
			params.Name = stream.FormatStreamName(name)
		}
		out[params] = append(out[params], res)
	}
	return out, nil
}

// Registry resolves the optional pipeline attached to a stream.
type Registry interface {
	// PipelineFor returns the stream's pipeline, or (nil, nil) when the
	// stream has none.
	PipelineFor(ctx context.Context, org string, st stream.Type, name string) (*Executable, error)
}
