// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/lodestone-obs/lodestone/internal/stream"
)

// ErrQuotaExceeded rejects a request before decoding when the organization
// is over its ingestion budget.
var ErrQuotaExceeded = errors.New("ingestion quota exceeded")

// QuotaChecker gates requests per organization and stream type.
type QuotaChecker interface {
	Allow(org string, st stream.Type) error
}

// UnlimitedQuota admits everything. It is the default when no checker is
// configured.
type UnlimitedQuota struct{}

func (UnlimitedQuota) Allow(string, stream.Type) error { return nil }

// FixedWindowQuota admits up to Limit requests per org per window.
type FixedWindowQuota struct {
	Limit  int
	Window time.Duration

	mu     sync.Mutex
	counts map[string]int
	reset  time.Time
}

func NewFixedWindowQuota(limit int, window time.Duration) *FixedWindowQuota {
	return &FixedWindowQuota{
		Limit:  limit,
		Window: window,
		counts: make(map[string]int),
		reset:  time.Now().Add(window),
	}
}

func (q *FixedWindowQuota) Allow(org string, st stream.Type) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	if now.After(q.reset) {
		q.counts = make(map[string]int)
		q.reset = now.Add(q.Window)
	}
	key := org + "/" + st.String()
	if q.counts[key] >= q.Limit {
		return ErrQuotaExceeded
	}
	q.counts[key]++
	return nil
}
