// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package metrics exposes Prometheus instrumentation for the engine:
// event ingestion, graph mutation, embedding propagation, reward
// integration and ranking latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegraph_events_applied_total",
			Help: "Total number of interaction events applied to the graph",
		},
		[]string{"action"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegraph_events_rejected_total",
			Help: "Total number of interaction events rejected at validation",
		},
		[]string{"reason"},
	)

	EventApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tunegraph_event_apply_duration_seconds",
			Help:    "Duration of single-event graph application",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// Graph state
	GraphNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tunegraph_graph_nodes",
			Help: "Current number of graph nodes by kind",
		},
		[]string{"kind"},
	)

	GraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunegraph_graph_edges",
			Help: "Current number of graph edges",
		},
	)

	// Embedding propagation
	PropagationRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_propagation_runs_total",
			Help: "Total number of batch propagation runs",
		},
	)

	PropagationNodes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_propagation_nodes_total",
			Help: "Total number of node embeddings recomputed by propagation",
		},
	)

	PropagationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tunegraph_propagation_duration_seconds",
			Help:    "Duration of batch propagation runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reward integration
	RewardsIntegrated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_rewards_integrated_total",
			Help: "Total number of online reward updates applied",
		},
	)

	RewardsClamped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_rewards_clamped_total",
			Help: "Total number of rewards clamped to the configured range",
		},
	)

	KarmaBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunegraph_karma_breaker_open",
			Help: "1 when the karma collaborator circuit breaker is open",
		},
	)

	// Ranking
	RankRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_rank_requests_total",
			Help: "Total number of recommendation requests",
		},
	)

	RankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tunegraph_rank_duration_seconds",
			Help:    "Duration of recommendation ranking",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	RankCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_rank_cache_hits_total",
			Help: "Total number of recommendation cache hits",
		},
	)

	RankCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_rank_cache_misses_total",
			Help: "Total number of recommendation cache misses",
		},
	)

	StaleEmbeddingsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_stale_embeddings_served_total",
			Help: "Recommendations served from embeddings past the staleness threshold",
		},
	)

	// Event log
	EventLogAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_eventlog_appends_total",
			Help: "Total number of events appended to the durable log",
		},
	)

	EventLogReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegraph_eventlog_replayed_total",
			Help: "Total number of events replayed from the durable log",
		},
	)
)
