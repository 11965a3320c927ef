package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_deployments_started_total",
			Help: "Total number of deployments started",
		},
	)

	DeploymentsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_deployments_finished_total",
			Help: "Total number of finished deployments by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_deployments_in_flight",
			Help: "Number of deployments currently in progress",
		},
	)

	DeploymentsPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_deployments_paused",
			Help: "Number of deployments currently paused",
		},
	)

	// Task metrics
	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_tasks_finished_total",
			Help: "Total number of finished tasks by action and status",
		},
		[]string{"action", "status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gantry_task_duration_seconds",
			Help:    "Task duration in seconds by action",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"action"},
	)

	RemotePolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_remote_polls_total",
			Help: "Total number of remote task polls",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_queue_depth",
			Help: "Number of deployment requests waiting in the queue",
		},
	)

	QueueProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_queue_processing",
			Help: "Number of deployment requests currently being processed",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gantry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconcileCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_reconcile_cycles_total",
			Help: "Total number of coordination register reconciliation cycles",
		},
	)

	RegisterRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_register_repairs_total",
			Help: "Total number of stale coordination records cleared by register",
		},
		[]string{"register"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DeploymentsStarted)
	prometheus.MustRegister(DeploymentsFinished)
	prometheus.MustRegister(DeploymentsInFlight)
	prometheus.MustRegister(DeploymentsPaused)
	prometheus.MustRegister(TasksFinished)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(RemotePolls)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueProcessing)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(RegisterRepairs)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
