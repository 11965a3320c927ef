/*
Package tracker polls remote tasks until they finish.

Most deployment tasks hand their work to the remote service and get back a
task URL. The tracker owns the waiting: it polls the URL on a shared pool,
persists what it learns after every poll, and advances the pipeline through
callbacks when the remote task reaches a verdict.

# Architecture

	Track(id, task, retries, onComplete, onTimeout)
	      │
	      ▼ schedule(+1s)
	┌─────────────────────────── POOL ───────────────────────────┐
	│  min-heap of delayed jobs → dispatcher → bounded workers    │
	└─────────────────────────────────────────────────────────────┘
	      │ poll
	      ▼
	fetch task JSON ──► merge status/log/updateTime ──► persist
	      │
	      ├─ remote finished ────────► onComplete (exactly once)
	      ├─ budget exhausted ───────► onTimeout  (exactly once)
	      ├─ transient failure ──────► retries-1, reschedule
	      ├─ other failure ──────────► log, stop (restart sweep
	      │                            revives the deployment)
	      └─ still running ──────────► retries-1, reschedule

Rescheduling instead of sleeping means a deployment's hour-long wait costs
one heap entry, not a parked goroutine, and the process can restart at any
point without losing more than the poll in flight.

# Error Classification

Transport and persistence failures are transient: they burn one retry and
the poll is rescheduled. With the default budget of 3600 retries at one
second apart, a task gets roughly an hour to finish before onTimeout fires.
Anything else is a programming or data problem; it is logged and polling
stops so the fault is not retried into the remote service for an hour.

# Integration Points

  - pkg/asg: GetTask fetches and normalizes the remote document
  - pkg/storage: the merged task is persisted between polls
  - pkg/pipeline: onComplete/onTimeout advance or fail the deployment,
    and the health waits borrow the same pool
*/
package tracker
