// Package metrics provides Prometheus collectors for fieldwatch components.
package metrics

import "time"

// Label values shared across collectors
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"

	StatusSuccess  = "success"
	StatusDropped  = "dropped"
	StatusDegraded = "degraded"
	StatusReplayed = "replayed"

	PushSent        = "sent"
	PushFailed      = "failed"
	PushRateLimited = "rate_limited"
	PushFiltered    = "filtered"
)

// Namespace prefixes every metric name
const Namespace = "fieldwatch"

// ShutdownTimeout bounds the telemetry server shutdown
const ShutdownTimeout = 5 * time.Second

// ingestBuckets covers sub-millisecond evaluation up to slow history hand-offs
var ingestBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
