// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// SettingPipeline is the stream settings key holding the Bloblang source of
// the stream's transformation pipeline.
const SettingPipeline = "pipeline"

// StoreRegistry resolves pipelines from the stream settings store, caching
// compiled executables by source text so repeated requests do not re-parse.
type StoreRegistry struct {
	store  schema.Store
	logger *zap.Logger

	mu       sync.Mutex
	compiled map[string]*Executable // keyed by stream key + source
}

func NewStoreRegistry(store schema.Store, logger *zap.Logger) *StoreRegistry {
	return &StoreRegistry{
		store:    store,
		logger:   logger,
		compiled: make(map[string]*Executable),
	}
}

func (r *StoreRegistry) PipelineFor(ctx context.Context, org string, st stream.Type, name string) (*Executable, error) {
	info, err := r.store.GetStream(ctx, org, st, name)
	if errors.Is(err, schema.ErrStreamNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	src := info.Settings[SettingPipeline]
	if src == "" {
		return nil, nil
	}
	cacheKey := stream.Params{Org: org, Type: st, Name: name}.Key() + "\x00" + src
	r.mu.Lock()
	defer r.mu.Unlock()
	if exe, ok := r.compiled[cacheKey]; ok {
		return exe, nil
	}
	exe, err := Compile(name, src)
	if err != nil {
		// A broken mapping must not reject the stream's data; ingest as-is.
		r.logger.Warn("ignoring uncompilable stream pipeline",
			zap.String("org", org), zap.String("stream", name), zap.Error(err))
		return nil, nil
	}
	r.compiled[cacheKey] = exe
	return exe, nil
}

// StaticRegistry is a fixed stream-to-pipeline mapping used in tests.
type StaticRegistry map[string]*Executable

func (s StaticRegistry) PipelineFor(_ context.Context, _ string, _ stream.Type, name string) (*Executable, error) {
	return s[name], nil
}
