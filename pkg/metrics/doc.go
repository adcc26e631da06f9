/*
Package metrics provides Prometheus metrics collection and exposition for
the session host.

The metrics package defines and registers all process metrics using the
Prometheus client library, exposing them on /metrics for scraping.

# Architecture

	┌──────────────────── METRICS REGISTRY ─────────────────────┐
	│                                                            │
	│  Gauge: instant values (sessions_total, raft_is_leader)    │
	│  Counter: monotonic totals (sessions_registered_total)     │
	│  Histogram: latency distributions (raft_apply_duration)    │
	│                                                            │
	│  Session: sessions, commands applied, events published     │
	│  Raft: leader status, log/applied index, apply duration    │
	│  Transport: publish RPC counts and latency by status       │
	│  Admin API: request counts and latency by method           │
	└────────────────────────────────────────────────────────────┘

# Metric reference

raftsession_sessions_total{state}:
  - Type: Gauge
  - Description: Current number of sessions by lifecycle state (open, closed; expired sessions count as closed)
  - Example: raftsession_sessions_total{state="open"} 42

raftsession_sessions_registered_total:
  - Type: Counter
  - Description: Total sessions ever registered

raftsession_sessions_expired_total:
  - Type: Counter
  - Description: Total sessions expired from missed keep-alives

raftsession_commands_applied_total:
  - Type: Counter
  - Description: Total client commands applied to the state machine

raftsession_events_published_total{consistency}:
  - Type: Counter
  - Description: Event batches handed to the send policy, by consistency level
  - Labels: consistency ("linearizable", "sequential")

raftsession_events_resent_total:
  - Type: Counter
  - Description: Event batches re-sent after a not-OK ack

raftsession_pending_event_batches:
  - Type: Gauge
  - Description: Event batches awaiting acknowledgment across all sessions

raftsession_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)

raftsession_raft_peers_total:
  - Type: Gauge
  - Description: Total Raft peers in the cluster

raftsession_raft_log_index / raftsession_raft_applied_index:
  - Type: Gauge
  - Description: Current Raft log index / last applied index

raftsession_raft_apply_duration_seconds:
  - Type: Histogram
  - Description: Time to apply a single Raft log entry

raftsession_raft_snapshot_duration_seconds:
  - Type: Histogram
  - Description: Time to persist a Raft snapshot

raftsession_transport_requests_total{status} / raftsession_transport_request_duration_seconds{status}:
  - Type: Counter / Histogram
  - Description: Publish RPC outcomes and latency, by ack status

raftsession_api_requests_total{method, status} / raftsession_api_request_duration_seconds{method}:
  - Type: Counter / Histogram
  - Description: Admin HTTP request outcomes and latency

# Usage

Updating gauges:

	import "github.com/cuemby/raftsession/pkg/metrics"

	metrics.SessionsTotal.WithLabelValues("open").Set(42)
	metrics.PendingEventBatches.Inc()
	metrics.PendingEventBatches.Dec()

Updating counters:

	metrics.SessionsRegisteredTotal.Inc()
	metrics.EventsPublishedTotal.WithLabelValues("linearizable").Add(1)

Recording histogram observations:

	metrics.RaftApplyDuration.Observe(0.003) // 3ms

	timer := metrics.NewTimer()
	// ... apply a log entry ...
	timer.ObserveDuration(metrics.RaftApplyDuration)

	timer = metrics.NewTimer()
	// ... send a publish RPC ...
	timer.ObserveDurationVec(metrics.TransportRequestDuration, "ok")

# Health

See health.go for the /health, /ready, and /live HTTP handlers, which track
per-component readiness (raft, transport, api) independently of the
Prometheus registry.
*/
package metrics
