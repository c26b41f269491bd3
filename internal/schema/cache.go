// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"sort"

	"github.com/prometheus/common/model"

	"github.com/lodestone-obs/lodestone/internal/record"
)

// Cache is the request-local view of one stream's schema: the known column
// set, a fingerprint derived from it, and whether the stream already has
// family metadata persisted.
type Cache struct {
	fields      map[string]struct{}
	fingerprint string
	hasMetadata bool
}

func newCache(info *StreamInfo) *Cache {
	c := &Cache{fields: make(map[string]struct{})}
	if info != nil {
		for _, f := range info.Fields {
			c.fields[f] = struct{}{}
		}
		_, c.hasMetadata = info.Settings[record.MetadataLabel]
	}
	c.fingerprint = fingerprintFields(c.fields)
	return c
}

// HasField reports whether the column is part of the known schema.
func (c *Cache) HasField(name string) bool {
	_, ok := c.fields[name]
	return ok
}

// Fields returns a sorted snapshot of the known column set.
func (c *Cache) Fields() []string {
	fields := make([]string, 0, len(c.fields))
	for f := range c.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Fingerprint identifies the current column set. It changes whenever the
// schema evolves, so staging buffers keyed by it never mix schema versions.
func (c *Cache) Fingerprint() string {
	return c.fingerprint
}

// HasMetadata reports whether family metadata (type/unit/help) was already
// persisted for the stream.
func (c *Cache) HasMetadata() bool {
	return c.hasMetadata
}

func (c *Cache) setMetadata() {
	c.hasMetadata = true
}

func (c *Cache) merge(fields []string) {
	changed := false
	for _, f := range fields {
		if _, ok := c.fields[f]; !ok {
			c.fields[f] = struct{}{}
			changed = true
		}
	}
	if changed {
		c.fingerprint = fingerprintFields(c.fields)
	}
}

func fingerprintFields(fields map[string]struct{}) string {
	labels := make(map[string]string, len(fields))
	for f := range fields {
		labels[f] = ""
	}
	return fmt.Sprintf("%016x", model.LabelsToSignature(labels))
}
