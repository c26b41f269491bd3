// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package wal

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lodestone-obs/lodestone/internal/usage"
)

// Entry is the payload of one framed WAL entry: all records staged for one
// (stream, bucket) pair.
type Entry struct {
	Stream    string `json:"stream"`
	BucketKey string `json:"bucket_key"`
	SchemaRecords
}

// WriteFile appends every staged bucket for one stream to the writer and
// returns the aggregate request stats. Buckets are written in key order so
// replays are deterministic. With fsync false the data may remain buffered;
// durability comes from the manager's flush cycle.
func WriteFile(w *Writer, streamName string, buckets map[string]*SchemaRecords, fsync bool) (usage.RequestStats, error) {
	var stats usage.RequestStats

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		buf := buckets[key]
		if len(buf.Records) == 0 {
			continue
		}
		payload, err := json.Marshal(Entry{Stream: streamName, BucketKey: key, SchemaRecords: *buf})
		if err != nil {
			return stats, fmt.Errorf("encode wal entry for stream %q: %w", streamName, err)
		}
		if err := w.Append(payload); err != nil {
			return stats, fmt.Errorf("append wal entry for stream %q: %w", streamName, err)
		}
		stats.Records += int64(len(buf.Records))
		stats.SizeKB += float64(buf.Size) / 1024.0
	}
	if fsync {
		if err := w.Flush(true); err != nil {
			return stats, fmt.Errorf("sync wal for stream %q: %w", streamName, err)
		}
	}
	return stats, nil
}
