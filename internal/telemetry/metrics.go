/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the Prometheus collectors, the HTTP metrics
// middleware, and the OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_api_requests_total",
		Help: "HTTP requests handled, by method, route, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vakt_api_request_duration_seconds",
		Help:    "HTTP request latency, by method, route, and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vakt_api_active_connections",
		Help: "HTTP requests currently in flight.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vakt_api_websocket_connections",
		Help: "Event stream websocket connections currently open.",
	})
)

// Solve pipeline.
var (
	SolveRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_solve_runs_total",
		Help: "Completed solve runs, by outcome (complete, incomplete, failed, cancelled).",
	}, []string{"outcome"})

	SolveDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vakt_solve_duration_seconds",
		Help:    "Wall time of one fill pass.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
	})

	EngineChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_engine_checks_total",
		Help: "Assignment validity checks, by result (ok or the violated rule).",
	}, []string{"result"})

	EngineAssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vakt_engine_assignments_total",
		Help: "Assignments committed by the fill.",
	})

	RunQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vakt_run_queue_depth",
		Help: "Solve runs waiting for a worker.",
	})
)

// Cache.
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_cache_hits_total",
		Help: "Cache hits, by key kind.",
	}, []string{"kind"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_cache_misses_total",
		Help: "Cache misses, by key kind.",
	}, []string{"kind"})

	CacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_cache_errors_total",
		Help: "Cache operation failures, by operation.",
	}, []string{"operation"})
)

// Database.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vakt_database_query_duration_seconds",
		Help:    "Query latency, by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_database_errors_total",
		Help: "Database errors, by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vakt_database_connections_active",
		Help: "Open database connections.",
	})
)

// Multi-instance coordination.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vakt_leader_election_status",
		Help: "1 when this instance holds the worker lease.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_leader_election_changes_total",
		Help: "Leadership transitions, by instance and direction.",
	}, []string{"instance_id", "change"})
)

// Outbound notifications.
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vakt_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by result.",
	}, []string{"result"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
