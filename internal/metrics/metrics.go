// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redirects counts redirect requests by outcome: found, not_found, bad_request, error
	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_redirects_total",
		Help: "Redirect requests by outcome",
	}, []string{"outcome"})

	// ScanWrites counts scan-recording side effects by operation and result
	ScanWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_scan_writes_total",
		Help: "Scan event inserts and usage counter increments by result",
	}, []string{"operation", "result"})

	// IsolatedFailures counts failures swallowed by isolated side effects
	IsolatedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_isolated_failures_total",
		Help: "Failures recovered locally without affecting the response",
	}, []string{"operation"})

	// FilterChecks counts Bloom filter answers on resolve: maybe, absent, missed.
	// missed means the filter said absent but the store had the row.
	FilterChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_filter_checks_total",
		Help: "Bloom filter membership checks by result",
	}, []string{"result"})

	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_geo_lookups_total",
		Help: "Geolocation lookups by result",
	}, []string{"result"})

	GeoLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qr_geo_lookup_duration_seconds",
		Help:    "Latency of geolocation HTTP lookups",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// RateLimited counts requests rejected with 429 by strategy
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "qr_rate_limited_total",
	Help: "Requests rejected by the rate limiter",
}, []string{"strategy"})
