// Package metrics provides Prometheus metrics for the portfolio tracker backend.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pt_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Resolution Metrics
	SourceAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pt_source_attempts_total",
			Help: "Price target fetch attempts by source and result",
		},
		[]string{"source", "result"}, // result: "hit", "miss", "rejected", "error"
	)

	TargetsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pt_targets_resolved_total",
			Help: "Price targets written back by winning source",
		},
		[]string{"source"},
	)

	TargetsClearedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_targets_cleared_total",
			Help: "Price target records cleared after all sources failed",
		},
	)

	ResolutionBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pt_resolution_batch_duration_seconds",
			Help:    "Time taken to resolve a full batch of holdings",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ResolutionQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pt_resolution_queue_size",
			Help: "Number of holdings waiting in the priority refresh queue",
		},
	)

	ArbitrationSwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pt_arbitration_swaps_total",
			Help: "Unrealistic-replacement arbitration outcomes",
		},
		[]string{"outcome"}, // "accepted", "declined", "no_replacement"
	)

	// Structured API Metrics
	TargetAPIRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_target_api_requests_total",
			Help: "Total number of structured target API requests made",
		},
	)

	TargetAPIQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pt_target_api_quota_remaining",
			Help: "Remaining structured target API requests for today",
		},
	)

	TargetAPIQuotaLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pt_target_api_quota_limit",
			Help: "Daily structured target API request limit",
		},
	)

	SymbolCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_symbol_cache_hits_total",
			Help: "ISIN to symbol cache hit count",
		},
	)

	SymbolCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_symbol_cache_misses_total",
			Help: "ISIN to symbol cache miss count",
		},
	)

	// LLM Metrics
	LLMRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_llm_requests_total",
			Help: "Total LLM price target queries",
		},
	)

	LLMAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pt_llm_api_latency_seconds",
			Help:    "LLM API call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	LLMErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pt_llm_errors_total",
			Help: "LLM query errors by type",
		},
		[]string{"type"}, // "network", "read", "api", "parse", "identifier_echo"
	)

	// Import / Reconciliation Metrics
	ImportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_imports_total",
			Help: "Total number of portfolio imports processed",
		},
	)

	HoldingsMigratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pt_holdings_migrated_total",
			Help: "Manual targets reattached from the backup side-store",
		},
	)

	PortfolioValueEUR = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pt_portfolio_value_eur",
			Help: "Total portfolio value in EUR as of the last import",
		},
	)

	HoldingsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pt_holdings_tracked",
			Help: "Number of holdings in the current snapshot",
		},
	)
)
