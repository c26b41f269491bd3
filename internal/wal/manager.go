// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package wal

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/stream"
)

// Manager hands out one Writer per (org, stream-type, stream) and flushes
// all of them on a background interval and on shutdown.
type Manager struct {
	dir            string
	flushInterval  time.Duration
	maxSegmentSize int64
	logger         *zap.Logger

	mu      sync.Mutex
	writers map[string]*Writer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewManager(dir string, flushInterval time.Duration, maxSegmentSize int64, logger *zap.Logger) *Manager {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	m := &Manager{
		dir:            dir,
		flushInterval:  flushInterval,
		maxSegmentSize: maxSegmentSize,
		logger:         logger,
		writers:        make(map[string]*Writer),
		done:           make(chan struct{}),
	}
	m.wg.Add(1)
	go m.flushLoop()
	return m
}

// GetWriter returns the durable writer for the stream, creating it on first
// use. Writers are shared across requests and safe for concurrent appends.
func (m *Manager) GetWriter(_ context.Context, org string, st stream.Type, name string) (*Writer, error) {
	key := stream.Params{Org: org, Type: st, Name: name}.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[key]; ok {
		return w, nil
	}
	w, err := NewWriter(filepath.Join(m.dir, org, st.String(), name), m.maxSegmentSize, 0)
	if err != nil {
		return nil, err
	}
	m.writers[key] = w
	return w, nil
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.flushAll(false)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) flushAll(sync bool) {
	m.mu.Lock()
	writers := make([]*Writer, 0, len(m.writers))
	for _, w := range m.writers {
		writers = append(writers, w)
	}
	m.mu.Unlock()
	for _, w := range writers {
		if err := w.Flush(sync); err != nil {
			m.logger.Error("wal flush failed", zap.Error(err))
		}
	}
}

// Close stops the flush loop, syncs every writer, and closes the segments.
// Safe to call more than once.
func (m *Manager) Close() error {
	var firstErr error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.flushAll(true)
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, w := range m.writers {
			if err := w.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
