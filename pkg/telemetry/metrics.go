// Package telemetry exposes Prometheus metrics for the trading workers
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPlaced counts limit orders registered at the exchange
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_orders_placed_total",
		Help: "Total number of limit orders placed",
	}, []string{"market", "side"})

	// OrdersCanceled counts cancel requests issued
	OrdersCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_orders_canceled_total",
		Help: "Total number of orders canceled",
	}, []string{"market"})

	// Fills counts confirmed order fills
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_fills_total",
		Help: "Total number of confirmed fills",
	}, []string{"market", "side"})

	// RealizedProfit tracks cumulative realized profit in quote currency
	RealizedProfit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bitsplit_realized_profit",
		Help: "Cumulative realized profit in quote currency",
	}, []string{"market"})

	// Repairs counts reconciler and health-check corrections
	Repairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_repairs_total",
		Help: "Total number of state repairs",
	}, []string{"market", "stage"})

	// LoopTicks counts engine loop iterations
	LoopTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_loop_ticks_total",
		Help: "Total number of engine loop iterations",
	}, []string{"market"})

	// HTTPRequests counts outbound exchange API requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_http_requests_total",
		Help: "Total number of outbound HTTP requests",
	}, []string{"method", "path"})

	// HTTPErrors counts failed outbound exchange API requests
	HTTPErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitsplit_http_errors_total",
		Help: "Total number of failed outbound HTTP requests",
	}, []string{"method", "path"})

	// HTTPLatency observes outbound request latency in seconds
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bitsplit_http_request_duration_seconds",
		Help:    "Outbound HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
