// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesIngested counts received log entries by level.
	EntriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlog_entries_ingested_total",
			Help: "Total number of log entries received",
		},
		[]string{"level"},
	)
	// StreamSubscribers is the number of connected live viewers.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devlog_stream_subscribers",
			Help: "Number of live stream subscribers",
		},
	)
	// StreamDropped counts entries discarded from slow subscriber queues.
	StreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devlog_stream_dropped_total",
			Help: "Entries dropped from slow live stream subscribers",
		},
	)
	// LogRequests counts log request operations by outcome.
	LogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlog_log_requests_total",
			Help: "Device log request operations",
		},
		[]string{"operation", "outcome"},
	)
	// UploadedEntries counts entries persisted from device uploads.
	UploadedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devlog_uploaded_entries_total",
			Help: "Log entries persisted from device uploads",
		},
	)
	// RequestsByStatus mirrors the lifecycle manager's stats after each sweep.
	RequestsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devlog_requests",
			Help: "Tracked log requests by effective status",
		},
		[]string{"status"},
	)
	// SweepRemoved counts items removed by the periodic sweep.
	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlog_sweep_removed_total",
			Help: "Requests and upload files removed by the periodic sweep",
		},
		[]string{"kind"},
	)
	// HTTPRequests counts HTTP requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
