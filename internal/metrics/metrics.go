// Package metrics exposes Prometheus collectors for the session synchronizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Channel metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_frames_received_total",
			Help: "Inbound frames handled, by type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_frames_dropped_total",
			Help: "Inbound frames ignored, by reason",
		},
		[]string{"reason"}, // "malformed", "unknown_type" or "stale_session"
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_frames_sent_total",
			Help: "Outbound frames, by action and result",
		},
		[]string{"action", "result"}, // result: "ok", "not_open", "error"
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentdesk_connection_open",
			Help: "1 while the upstream channel is open",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdesk_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after unclean closes",
		},
	)

	// Business metrics
	ClaimOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_claims_total",
			Help: "Claim attempts by outcome",
		},
		[]string{"outcome"}, // "issued", "won", "lost", "timeout"
	)

	Notices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_notices_total",
			Help: "Notices raised to the presentation layer",
		},
		[]string{"kind"},
	)

	PendingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentdesk_pending_sessions",
			Help: "Sessions currently waiting for an agent",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentdesk_active_sessions",
			Help: "Sessions currently assigned to this agent",
		},
	)

	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_archive_writes_total",
			Help: "Closed-session archive writes by result",
		},
		[]string{"result"},
	)
)

var (
	// HTTP metrics for the local API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_http_requests_total",
			Help: "Local API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdesk_http_request_duration_seconds",
			Help:    "Local API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
