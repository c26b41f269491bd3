// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"strings"
)

// Type identifies which ingestion path a stream belongs to.
type Type string

const (
	TypeMetrics Type = "metrics"
	TypeLogs    Type = "logs"
	TypeTraces  Type = "traces"
)

func (t Type) String() string {
	return string(t)
}

// Params identifies a single destination stream within an organization.
type Params struct {
	Org  string
	Type Type
	Name string
}

// Key returns the canonical "{org}/{type}/{name}" identity used for
// per-stream lookups (alerts, pipelines, writers).
func (p Params) Key() string {
	return fmt.Sprintf("%s/%s/%s", p.Org, p.Type, p.Name)
}

// PartitionTimeLevel is the time granularity used when bucketing records
// before durable commit.
type PartitionTimeLevel string

const (
	PartitionTimeUnset  PartitionTimeLevel = ""
	PartitionTimeHourly PartitionTimeLevel = "hourly"
	PartitionTimeDaily  PartitionTimeLevel = "daily"
)

// UnwrapPartitionTimeLevel resolves an unset granularity to the default for
// the stream type. Metrics default to hourly buckets.
func UnwrapPartitionTimeLevel(level PartitionTimeLevel, _ Type) PartitionTimeLevel {
	if level == PartitionTimeUnset {
		return PartitionTimeHourly
	}
	return level
}

// FormatStreamName sanitizes a metric or stream name into the canonical
// destination stream name: lowercase, with every character outside
// [a-z0-9_] replaced by an underscore.
func FormatStreamName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FormatLabelName sanitizes an attribute key into a column name. Unlike
// stream names, label names keep their case.
func FormatLabelName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
