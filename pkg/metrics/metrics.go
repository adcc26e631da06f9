package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftsession_sessions_total",
			Help: "Total number of sessions by lifecycle state",
		},
		[]string{"state"},
	)

	SessionsRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftsession_sessions_registered_total",
			Help: "Total number of sessions ever registered",
		},
	)

	SessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftsession_sessions_expired_total",
			Help: "Total number of sessions that expired from missed keep-alives",
		},
	)

	CommandsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftsession_commands_applied_total",
			Help: "Total number of client commands applied to the state machine",
		},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_events_published_total",
			Help: "Total number of event batches handed to the send policy, by consistency",
		},
		[]string{"consistency"},
	)

	EventsResentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftsession_events_resent_total",
			Help: "Total number of event batches re-sent after a not-OK ack",
		},
	)

	PendingEventBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_pending_event_batches",
			Help: "Number of event batches awaiting acknowledgment across all sessions",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftsession_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftSnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftsession_raft_snapshot_duration_seconds",
			Help:    "Time taken to persist a Raft snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transport metrics
	TransportRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_transport_requests_total",
			Help: "Total number of transport publish RPCs by status",
		},
		[]string{"status"},
	)

	TransportRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftsession_transport_request_duration_seconds",
			Help:    "Publish RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Admin API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftsession_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsRegisteredTotal)
	prometheus.MustRegister(SessionsExpiredTotal)
	prometheus.MustRegister(CommandsAppliedTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsResentTotal)
	prometheus.MustRegister(PendingEventBatches)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftSnapshotDuration)

	prometheus.MustRegister(TransportRequestsTotal)
	prometheus.MustRegister(TransportRequestDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
