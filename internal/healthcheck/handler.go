// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

// Package healthcheck exposes the ingester's readiness state over HTTP.
package healthcheck

import (
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
)

// State holds the current health status served to probes. The zero status is
// "unavailable"; call Ready once the servers are listening.
type State struct {
	status atomic.Int32
	logger *zap.Logger
}

func New(logger *zap.Logger) *State {
	s := &State{logger: logger}
	s.status.Store(http.StatusServiceUnavailable)
	return s
}

// Handler serves the current state. Ready maps to 204 with no body.
func (s *State) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := s.Get()
		w.WriteHeader(status)
		if status != http.StatusNoContent {
			w.Write([]byte("Server not available"))
		}
	})
}

// Ready marks the service as accepting traffic.
func (s *State) Ready() {
	s.Set(http.StatusNoContent)
}

// Set updates the served status code.
func (s *State) Set(status int) {
	s.status.Store(int32(status))
	s.logger.Info("Health Check state change", zap.Int("http-status", status))
}

// Get returns the currently served status code.
func (s *State) Get() int {
	return int(s.status.Load())
}
