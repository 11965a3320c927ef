/*
Package coordination holds Gantry's shared mutable state in Redis.

Every Gantry process observes the same registers, so intake, the orchestrator
and the operator API agree on which targets are busy, which deployments are
paused, and whether new deployments are allowed at all. The package also
provides the FIFO work queue the orchestrator consumes.

# Architecture

	┌───────────────────── COORDINATION STATE ─────────────────────┐
	│                                                               │
	│  gantry:lock                          string                  │
	│    Presence disables new deployments                          │
	│                                                               │
	│  gantry:deployments:in-progress       hash                    │
	│    field: app-env-region  value: deployment ID                │
	│    Claimed atomically (HSETNX); one deployment per target     │
	│                                                               │
	│  gantry:deployments:paused            hash                    │
	│    field: app-env-region  value: deployment ID                │
	│    Deployments stopped at a task boundary, resumable          │
	│                                                               │
	│  gantry:deployments:awaiting-pause    set of app-env-region   │
	│  gantry:deployments:awaiting-cancel   set of app-env-region   │
	│    Requests honored at the next task boundary                 │
	│                                                               │
	│  gantry:queue:deployments             list (FIFO)             │
	│  gantry:queue:deployments:processing  list                    │
	│  gantry:queue:deployments:lock:{id}   string with TTL         │
	│    LPUSH to enqueue, LMOVE tail→processing to consume,        │
	│    per-message lock heartbeated at a third of its lease       │
	│                                                               │
	└───────────────────────────────────────────────────────────────┘

# Mutual Exclusion

RegisterDeployment uses HSETNX so two concurrent deployments to the same
app-env-region target race for a single hash field; exactly one wins. The
loser surfaces as an already-in-progress failure. EndDeployment releases the
field and withdraws any pause or cancel request left behind, so a finished
deployment never blocks its successor.

# Queue Delivery

The queue is at-least-once. A consumer moves a message onto the processing
list atomically, then locks it for the lease duration and heartbeats the lock
while the handler runs. Acknowledging removes the processing entry and the
lock in one transaction. If the consumer dies, the lock lapses and the reaper
pushes the message back to the queue tail, where it is the next delivery.
Handlers must therefore tolerate redelivery; Gantry's orchestrator makes
deployment dispatch idempotent through the in-progress register.

# Usage

	rdb := coordination.Dial(coordination.Config{Address: "localhost:6379"})
	coord := coordination.New(rdb, "gantry")

	ok, err := coord.RegisterDeployment(ctx, deployment)
	if !ok {
		// target already has a deployment in progress
	}

	queue := coordination.NewQueue(rdb, "gantry", coordination.QueueOptions{
		Workers:      1,
		LockDuration: 60 * time.Second,
	})
	queue.Start(func(ctx context.Context, msg coordination.Message) error {
		return orchestrator.Handle(ctx, msg)
	})
	defer queue.Stop()
*/
package coordination
