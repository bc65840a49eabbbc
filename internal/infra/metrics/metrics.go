// Package metrics provides Prometheus metrics for NoFree.
// Counters cover protocol traffic, negotiations and serve decisions, file
// requests, and the simulator's event loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Messages ───────────────────────────────────────────────────────────────

// MessagesSent tracks protocol messages put on a link, by kind.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "messages_sent_total",
	Help:      "Total protocol messages sent by kind.",
}, []string{"kind"})

// MessagesRelayed tracks flood messages forwarded on behalf of another node.
var MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "messages_relayed_total",
	Help:      "Total flood messages relayed by kind.",
}, []string{"kind"})

// MessagesDropped tracks messages and triggers absorbed without effect.
var MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "messages_dropped_total",
	Help:      "Total dropped messages or skipped triggers by reason.",
}, []string{"reason"})

// ─── File Requests ──────────────────────────────────────────────────────────

// FileRequests tracks outbound file requests by outcome (sent, fulfilled, timed_out).
var FileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "file_requests_total",
	Help:      "Outbound file requests by outcome.",
}, []string{"outcome"})

// ─── Negotiations ───────────────────────────────────────────────────────────

// NegotiationsActive tracks nodes currently evaluating a requester.
var NegotiationsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "nofree",
	Name:      "negotiations_active",
	Help:      "Number of negotiations currently open.",
})

// ServeDecisions tracks negotiation outcomes (served, refused_ratio, refused_kindness).
var ServeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "serve_decisions_total",
	Help:      "Serve decisions by outcome.",
}, []string{"outcome"})

// NegotiationOpinions tracks third-party opinions merged per negotiation.
var NegotiationOpinions = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "nofree",
	Name:      "negotiation_opinions",
	Help:      "Third-party opinions merged per negotiation.",
	Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
})

// RequesterRatio tracks the aggregated share ratio of evaluated requesters.
var RequesterRatio = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "nofree",
	Name:      "requester_share_ratio",
	Help:      "Aggregated accepted/total ratio of requesters with known history.",
	Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5},
})

// ─── Simulator ──────────────────────────────────────────────────────────────

// SimEvents tracks events processed by the simulator, by type (timer, delivery).
var SimEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "sim_events_total",
	Help:      "Events processed by the discrete-event simulator.",
}, []string{"type"})

// SimClock tracks the simulated clock in seconds.
var SimClock = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "nofree",
	Name:      "sim_clock_seconds",
	Help:      "Current simulated time in seconds.",
})

// SimQueueDepth tracks pending events.
var SimQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "nofree",
	Name:      "sim_queue_depth",
	Help:      "Number of pending simulator events.",
})

// RunsCompleted tracks finished simulation runs by status.
var RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "runs_total",
	Help:      "Finished simulation runs by status.",
}, []string{"status"})

// ─── HTTP API ───────────────────────────────────────────────────────────────

// HTTPRequests tracks API requests by route pattern and status class.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nofree",
	Name:      "http_requests_total",
	Help:      "Total HTTP API requests by route and status class.",
}, []string{"route", "status"})

// HTTPDuration tracks API latency by route pattern.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nofree",
	Name:      "http_request_duration_seconds",
	Help:      "Latency of HTTP API requests.",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13), // 1ms .. ~4s
}, []string{"route"})

// BuildInfo is a constant 1 labeled with the binary version.
var BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "nofree",
	Name:      "build_info",
	Help:      "Build info (constant 1, labeled by version).",
}, []string{"version"})
