/*
Package pipeline drives a deployment through its fixed task list.

Every deployment runs the same six tasks in order: create the new auto
scaling group, wait for its instances to answer healthchecks, put it in
service, wait for the load balancers to agree, take the replaced group out
of service, and delete it. Tasks that have nothing to do for a particular
deployment are skipped in line, never reordered or removed.

# Architecture

	Start(d)
	  │
	  ▼
	StartTask ──► action handler ──┬─ inline result ────────┐
	  ▲                            ├─ tracked remote task ──┤
	  │                            └─ scheduled health poll ┤
	  │                                                     ▼
	  │                                               taskFinished
	  │                                                     │
	  │          ┌─ cancel requested ─► skip rest, end      │
	  │          ├─ pause requested ──► park, wait Resume   │
	  └──────────┤ boundary ◄───────────────────────────────┘
	             └─ next task / none ─► end completed

The engine never blocks between tasks. Remote work is handed to the
tracker, health waits poll on the shared scheduler, and both come back
through taskFinished. The boundary after every task is the only place
operator requests are honored: a cancel or pause lands exactly between two
tasks, never inside one.

# Single Writer

Exactly one goroutine works on a given deployment at a time. Holding the
in-progress slot for the environment key is the caller's contract with the
engine, so no method here takes a lock. The engine runs on its own context
rather than a request's: deployments outlive the HTTP requests that start
them, and a request deadline must never cap a remote call made hours into a
rollout.

# Failure Semantics

A task that cannot start, a remote task that reports failure, and an
exhausted polling budget all end the deployment as failed. The remaining
tasks stay pending so the document shows where the rollout stopped. Ending
a deployment, for any outcome, clears its coordination footprint so the
environment key is free for the next attempt.

A coordination read failing at a boundary stalls the deployment instead:
nothing is marked failed, and the restart sweep picks the document back up
once coordination is reachable.

# Integration Points

	orchestrator  starts, resumes, and recovers deployments through the engine
	tracker       resolves tracked remote tasks back into taskFinished
	coordination  cancel and pause requests, the paused register, in-progress cleanup
	storage       every state change is persisted before the pipeline moves on
	events        deployment and task transitions are published to subscribers
	metrics       task and deployment outcomes and durations
*/
package pipeline
