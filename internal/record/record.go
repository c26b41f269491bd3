// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"encoding/json"
	"maps"
	"strconv"
)

// Fixed column names shared by every flattened metric row.
const (
	NameLabel      = "__name__"
	HashLabel      = "__hash__"
	ValueLabel     = "value"
	TimestampCol   = "_timestamp"
	StartTimeLabel = "start_time"
	FlagLabel      = "flag"
	ExemplarsLabel = "exemplars"
	MetadataLabel  = "_metadata"
)

// Record is one flattened metric row: a small set of fixed columns plus an
// open set of label columns derived from resource, scope and data-point
// attributes. It is deliberately schemaless so streams can evolve.
type Record map[string]any

// Clone returns a shallow copy. Values are either scalars or, for the
// exemplars column, a slice that is never mutated after being set, so a
// shallow copy is safe.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Name returns the destination metric name, or "" when unset.
func (r Record) Name() string {
	s, _ := r[NameLabel].(string)
	return s
}

// Timestamp returns the microsecond timestamp column, or 0 when unset.
func (r Record) Timestamp() int64 {
	switch v := r[TimestampCol].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Columns returns the set of column names present on the record.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	return cols
}

// StringValue renders a column value the way it would appear as a label
// value: scalars are stringified, composite values are dropped ("").
func (r Record) StringValue(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// EncodedSize returns the JSON-encoded size of the record in bytes, used for
// the staging buffer byte counters and usage accounting.
func (r Record) EncodedSize() int {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return 0
	}
	return len(b)
}
