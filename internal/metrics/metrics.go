// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus instruments for the ingest surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPIncomingRequests counts ingest requests by endpoint and outcome.
	HTTPIncomingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodestone_http_incoming_requests_total",
		Help: "Number of ingest requests received.",
	}, []string{"endpoint", "status", "org", "stream_type"})

	// HTTPResponseTime observes end-to-end ingest request latency.
	HTTPResponseTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lodestone_http_response_time_seconds",
		Help:    "Ingest request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status", "org", "stream_type"})

	// IngestedBytes counts bytes committed to the WAL per stream.
	IngestedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodestone_ingested_bytes_total",
		Help: "Bytes of record data committed to the write-ahead log.",
	}, []string{"org", "stream_type"})

	// IngestedRecords counts records committed to the WAL per stream.
	IngestedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodestone_ingested_records_total",
		Help: "Records committed to the write-ahead log.",
	}, []string{"org", "stream_type"})
)
