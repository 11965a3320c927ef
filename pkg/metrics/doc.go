/*
Package metrics exposes Gantry's Prometheus metrics and component health.

# Metrics

	gantry_deployments_started_total            counter
	gantry_deployments_finished_total{outcome}  counter (completed, failed,
	                                            cancelled, broken)
	gantry_deployments_in_flight                gauge
	gantry_deployments_paused                   gauge
	gantry_tasks_finished_total{action,status}  counter
	gantry_task_duration_seconds{action}        histogram
	gantry_remote_polls_total                   counter
	gantry_queue_depth                          gauge
	gantry_queue_processing                     gauge
	gantry_api_requests_total{method,status}    counter
	gantry_api_request_duration_seconds{method} histogram
	gantry_reconcile_cycles_total               counter
	gantry_register_repairs_total{register}     counter

Counters are incremented inline by the pipeline, tracker, reconciler and
API. Gauges are refreshed every 15 seconds by the Collector from the
coordination store and the work queue.

# Health

A process-wide component registry backs the /healthcheck and /ready
endpoints. The Collector doubles as the prober: AddProbe registers a named
check (coordination round-trip, store read) that runs on every collection
pass and updates the registry. Readiness requires the coordination and
store components to be healthy.

# Usage

	collector := metrics.NewCollector(coordinator, queue)
	collector.AddProbe("coordination", coordinator.Healthy)
	collector.Start()
	defer collector.Stop()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskDuration, string(task.Action))

# Integration Points

  - pkg/api: mounts Handler() at /metrics and HealthHandler() at
    /healthcheck
  - pkg/pipeline: task and deployment counters, task duration timers
  - cmd/gantry: starts the collector with the coordination and store probes
*/
package metrics
