// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// Coordinator mediates between a request's schema cache and the durable
// schema store: existence checks, first-write metadata, and column-set
// evolution.
type Coordinator struct {
	store  Store
	logger *zap.Logger
}

func NewCoordinator(store Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger}
}

// Store exposes the backing store, e.g. for the deletion check at commit time.
func (c *Coordinator) Store() Store {
	return c.store
}

// ExistsResult is the outcome of a StreamSchemaExists lookup.
type ExistsResult struct {
	SchemaExists bool
	HasMetadata  bool
}

// StreamSchemaExists ensures the request cache holds an entry for the stream,
// fetching persisted state on a miss. The cache is request-local; concurrent
// requests each pay at most one store read per stream.
func (c *Coordinator) StreamSchemaExists(ctx context.Context, org string, st stream.Type, name string, cache map[string]*Cache) ExistsResult {
	if cached, ok := cache[name]; ok {
		return ExistsResult{SchemaExists: true, HasMetadata: cached.HasMetadata()}
	}
	info, err := c.store.GetStream(ctx, org, st, name)
	if err != nil && !errors.Is(err, ErrStreamNotFound) {
		c.logger.Error("failed to fetch stream schema",
			zap.String("org", org), zap.String("stream", name), zap.Error(err))
	}
	cached := newCache(info)
	cache[name] = cached
	return ExistsResult{
		SchemaExists: info != nil,
		HasMetadata:  cached.HasMetadata(),
	}
}

// RecordMetadataOnce persists family metadata for a stream that has none.
// Failures are logged and swallowed: missing help text never blocks ingestion.
func (c *Coordinator) RecordMetadataOnce(ctx context.Context, org string, st stream.Type, name string, meta map[string]string, cache map[string]*Cache) {
	if err := c.store.UpdateSetting(ctx, org, st, name, meta); err != nil {
		c.logger.Error("failed to set metadata for metric",
			zap.String("org", org), zap.String("stream", name), zap.Error(err))
		return
	}
	if cached, ok := cache[name]; ok {
		cached.setMetadata()
	}
}

// CheckForSchema evolves the stream's schema with the record's column set and
// refreshes the request cache entry. The timestamp is carried for stores that
// version schemas by first-seen time.
func (c *Coordinator) CheckForSchema(ctx context.Context, org string, st stream.Type, name string, rec record.Record, _ int64, cache map[string]*Cache) error {
	info, err := c.store.MergeFields(ctx, org, st, name, rec.Columns())
	if err != nil {
		return err
	}
	cached, ok := cache[name]
	if !ok {
		cached = newCache(info)
		cache[name] = cached
	} else {
		cached.merge(info.Fields)
	}
	return nil
}
