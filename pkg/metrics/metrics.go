package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sbox_sessions_active",
			Help: "Number of live sandbox sessions by storage mode",
		},
		[]string{"storage"},
	)

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_sessions_started_total",
			Help: "Total number of sessions started",
		},
	)

	SessionsStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_sessions_stopped_total",
			Help: "Total number of sessions stopped explicitly",
		},
	)

	SessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_sessions_evicted_total",
			Help: "Total number of sessions evicted after idle timeout",
		},
	)

	// Execution metrics
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbox_executions_total",
			Help: "Total number of code executions by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "sbox_execution_duration_seconds",
			Help: "Wall time of code executions in seconds",
			// Executions run up to the configured timeout, far past DefBuckets
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Artifact metrics
	ArtifactsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_artifacts_ingested_total",
			Help: "Total number of artifacts captured from executions",
		},
	)

	ArtifactBytesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_artifact_bytes_ingested_total",
			Help: "Total bytes of artifact content captured",
		},
	)

	ArtifactsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbox_artifacts_stored",
			Help: "Distinct artifacts currently in the catalog",
		},
	)

	ArtifactStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbox_artifact_store_bytes",
			Help: "Total size of cataloged artifact content in bytes",
		},
	)

	ArtifactDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbox_artifact_downloads_total",
			Help: "Total artifact download requests by result",
		},
		[]string{"result"},
	)

	// Dataset metrics
	DatasetsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbox_datasets_loaded_total",
			Help: "Total datasets resolved for sessions by source",
		},
		[]string{"source"},
	)

	DatasetLoadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_dataset_load_failures_total",
			Help: "Total dataset loads that failed",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbox_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_reconcile_cycles_total",
			Help: "Total reconciliation cycles run",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sbox_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StaleRecordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_stale_session_records_total",
			Help: "Total stale session records dropped from the registry",
		},
	)

	OrphanContainersRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbox_orphan_containers_removed_total",
			Help: "Total orphaned sandbox containers removed",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(SessionsStopped)
	prometheus.MustRegister(SessionsEvicted)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(ArtifactsIngested)
	prometheus.MustRegister(ArtifactBytesIngested)
	prometheus.MustRegister(ArtifactsStored)
	prometheus.MustRegister(ArtifactStoreBytes)
	prometheus.MustRegister(ArtifactDownloads)
	prometheus.MustRegister(DatasetsLoaded)
	prometheus.MustRegister(DatasetLoadFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(StaleRecordsDropped)
	prometheus.MustRegister(OrphanContainersRemoved)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
