// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package wal

import (
	"github.com/lodestone-obs/lodestone/internal/record"
)

// SchemaRecords is the staging buffer for one (stream, bucket) pair within a
// request: the records destined for that bucket, tagged with the schema
// fingerprint and column snapshot that were current when the bucket was
// opened. A buffer never mixes schema versions; a schema change mid-request
// produces a different bucket key and therefore a separate buffer.
type SchemaRecords struct {
	SchemaKey string          `json:"schema_key"`
	Schema    []string        `json:"schema"`
	Records   []record.Record `json:"records"`
	Size      int             `json:"size"`
}

// Append adds a record and grows the byte-size counter.
func (s *SchemaRecords) Append(rec record.Record, encodedSize int) {
	s.Records = append(s.Records, rec)
	s.Size += encodedSize
}
