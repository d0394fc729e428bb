package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_nodes_total",
			Help: "Total number of nodes by role and liveness",
		},
		[]string{"role", "liveness"},
	)

	ScenariosTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_scenarios_total",
			Help: "Total number of scenarios by state",
		},
		[]string{"state"},
	)

	PackagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_packages_total",
			Help: "Total number of packages by state",
		},
		[]string{"state"},
	)

	ModelsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_models_total",
			Help: "Total number of models by state",
		},
		[]string{"state"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_containers_total",
			Help: "Total number of observed containers by state",
		},
		[]string{"state"},
	)

	// ArtifactIntake metrics
	ArtifactsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_artifacts_accepted_total",
			Help: "Total number of artifact documents accepted by kind",
		},
		[]string{"kind"},
	)

	ArtifactsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_artifacts_rejected_total",
			Help: "Total number of artifact documents rejected by reason",
		},
		[]string{"reason"},
	)

	ArtifactParseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "piccolo_artifact_parse_duration_seconds",
			Help:    "Time taken to parse and validate one bundle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piccolo_reconcile_duration_seconds",
			Help:    "Time taken to process one reconcile event by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReconcileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_reconcile_events_total",
			Help: "Total number of reconcile events processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ReconcileRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_reconcile_retries_total",
			Help: "Total number of CAS retries spent reconciling, by kind",
		},
		[]string{"kind"},
	)

	ReconcileDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_reconcile_dropped_total",
			Help: "Total number of events dropped: CAS retries exhausted, shard inbox full past the ingress timeout, or evicted from a full parked queue",
		},
		[]string{"kind"},
	)

	ShardInboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_shard_inbox_depth",
			Help: "Current number of queued events per reconciler shard",
		},
		[]string{"shard"},
	)

	ParkedQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "piccolo_parked_queue_depth",
			Help: "Current number of events parked while the state store is unavailable",
		},
	)

	// Heartbeat / node registry metrics
	HeartbeatsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_heartbeats_received_total",
			Help: "Total number of heartbeat RPCs received",
		},
	)

	NodeTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_node_timeouts_total",
			Help: "Total number of nodes marked NotReady by the heartbeat sweep",
		},
	)

	// RPCFabric metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_rpc_requests_total",
			Help: "Total number of RPCFabric calls by method and code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piccolo_rpc_request_duration_seconds",
			Help:    "RPCFabric call duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// StateStore metrics
	StoreCASConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_store_cas_conflicts_total",
			Help: "Total number of compare-and-swap conflicts observed by the state store",
		},
	)

	WatchSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "piccolo_watch_subscribers_total",
			Help: "Current number of active watch subscriptions",
		},
	)

	WatchCompactedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_watch_compacted_total",
			Help: "Total number of watch resume requests rejected as compacted",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		ScenariosTotal,
		PackagesTotal,
		ModelsTotal,
		ContainersTotal,
		ArtifactsAcceptedTotal,
		ArtifactsRejectedTotal,
		ArtifactParseDuration,
		ReconcileDuration,
		ReconcileEventsTotal,
		ReconcileRetriesTotal,
		ReconcileDroppedTotal,
		ShardInboxDepth,
		ParkedQueueDepth,
		HeartbeatsReceivedTotal,
		NodeTimeoutsTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
		StoreCASConflictsTotal,
		WatchSubscribersTotal,
		WatchCompactedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
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

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
