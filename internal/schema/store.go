// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"errors"
	"sync"

	"github.com/lodestone-obs/lodestone/internal/stream"
)

// ErrStreamNotFound is returned by Store.GetStream for unknown streams.
var ErrStreamNotFound = errors.New("stream not found")

// StreamInfo is the persisted schema state of one stream.
type StreamInfo struct {
	Fields   []string          `json:"fields"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Store is the durable schema/metadata store shared across requests.
type Store interface {
	// GetStream returns the persisted schema state, or ErrStreamNotFound.
	GetStream(ctx context.Context, org string, st stream.Type, name string) (*StreamInfo, error)

	// MergeFields adds any previously-unseen columns to the stream's schema,
	// creating the stream on first write, and returns the merged state.
	MergeFields(ctx context.Context, org string, st stream.Type, name string, fields []string) (*StreamInfo, error)

	// UpdateSetting merges the given settings into the stream's settings map,
	// creating the stream if needed.
	UpdateSetting(ctx context.Context, org string, st stream.Type, name string, settings map[string]string) error

	// IsDeleting reports whether the stream is currently marked for deletion
	// by retention/compaction. Records for such streams are silently dropped.
	IsDeleting(org string, st stream.Type, name string) bool

	// MarkDeleting flags the stream for deletion.
	MarkDeleting(ctx context.Context, org string, st stream.Type, name string) error
}

// MemoryStore is an in-process Store used by tests and single-node setups
// that do not need schema state to survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	streams  map[string]*StreamInfo
	deleting map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:  make(map[string]*StreamInfo),
		deleting: make(map[string]struct{}),
	}
}

func (m *MemoryStore) GetStream(_ context.Context, org string, st stream.Type, name string) (*StreamInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.streams[stream.Params{Org: org, Type: st, Name: name}.Key()]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return cloneInfo(info), nil
}

func (m *MemoryStore) MergeFields(_ context.Context, org string, st stream.Type, name string, fields []string) (*StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stream.Params{Org: org, Type: st, Name: name}.Key()
	info, ok := m.streams[key]
	if !ok {
		info = &StreamInfo{Settings: make(map[string]string)}
		m.streams[key] = info
	}
	info.Fields = mergeFieldList(info.Fields, fields)
	return cloneInfo(info), nil
}

func (m *MemoryStore) UpdateSetting(_ context.Context, org string, st stream.Type, name string, settings map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stream.Params{Org: org, Type: st, Name: name}.Key()
	info, ok := m.streams[key]
	if !ok {
		info = &StreamInfo{Settings: make(map[string]string)}
		m.streams[key] = info
	}
	if info.Settings == nil {
		info.Settings = make(map[string]string)
	}
	for k, v := range settings {
		info.Settings[k] = v
	}
	return nil
}

func (m *MemoryStore) IsDeleting(org string, st stream.Type, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.deleting[stream.Params{Org: org, Type: st, Name: name}.Key()]
	return ok
}

func (m *MemoryStore) MarkDeleting(_ context.Context, org string, st stream.Type, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleting[stream.Params{Org: org, Type: st, Name: name}.Key()] = struct{}{}
	return nil
}

func cloneInfo(info *StreamInfo) *StreamInfo {
	out := &StreamInfo{
		Fields:   append([]string(nil), info.Fields...),
		Settings: make(map[string]string, len(info.Settings)),
	}
	for k, v := range info.Settings {
		out.Settings[k] = v
	}
	return out
}

func mergeFieldList(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		seen[f] = struct{}{}
	}
	for _, f := range add {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			existing = append(existing, f)
		}
	}
	return existing
}
