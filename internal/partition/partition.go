// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package partition

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// Stream settings keys holding the partition configuration.
const (
	SettingPartitionKeys      = "partition_keys"
	SettingPartitionTimeLevel = "partition_time_level"
)

// Spec is a stream's partitioning configuration: the label columns that
// split the stream, and the time granularity of commit buckets. A Spec is
// resolved once per stream per request and never mutated.
type Spec struct {
	Keys      []string
	TimeLevel stream.PartitionTimeLevel
}

// Resolver fetches partition specs from the stream settings store.
type Resolver struct {
	store  schema.Store
	logger *zap.Logger
}

func NewResolver(store schema.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the stream's partition spec. Unknown streams and store
// errors resolve to the default spec (no keys, default granularity): a
// missing setting must never reject data.
func (r *Resolver) Resolve(ctx context.Context, org string, st stream.Type, name string) Spec {
	info, err := r.store.GetStream(ctx, org, st, name)
	if err != nil {
		if !errors.Is(err, schema.ErrStreamNotFound) {
			r.logger.Warn("failed to resolve partition spec",
				zap.String("org", org), zap.String("stream", name), zap.Error(err))
		}
		return Spec{}
	}
	spec := Spec{
		TimeLevel: stream.PartitionTimeLevel(info.Settings[SettingPartitionTimeLevel]),
	}
	if keys := info.Settings[SettingPartitionKeys]; keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				spec.Keys = append(spec.Keys, k)
			}
		}
	}
	return spec
}

// BucketKey maps a record to its commit bucket ("hour key"). Records sharing
// partition-key values, the same time window, and the same schema fingerprint
// share a bucket; any schema change opens a new bucket so staged buffers
// never mix schema versions.
func BucketKey(tsMicros int64, keys []string, level stream.PartitionTimeLevel, rec record.Record, schemaFingerprint string) string {
	t := time.UnixMicro(tsMicros).UTC()
	var b strings.Builder
	switch stream.UnwrapPartitionTimeLevel(level, stream.TypeMetrics) {
	case stream.PartitionTimeDaily:
		b.WriteString(t.Format("2006/01/02") + "/00")
	default:
		b.WriteString(t.Format("2006/01/02/15"))
	}
	for _, key := range keys {
		val := rec.StringValue(key)
		if val == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(stream.FormatStreamName(key + "=" + val))
	}
	b.WriteByte('_')
	b.WriteString(schemaFingerprint)
	return b.String()
}
