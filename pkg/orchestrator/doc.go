/*
Package orchestrator connects the work queue to the deployment pipeline.

Deployments never start directly from a request. Intake persists the
document and queues its ID; a queue worker picks the message up here, claims
the environment's in-progress slot, and hands the document to the pipeline.
The queue's per-message lease and the restart sweep together make the
orchestrator crash-tolerant: work in flight when a process dies is either
redelivered or recovered, never lost.

# Message Handling

	deploy msg ──► global lock set? ──yes──► error (redelivered, waits out the lock)
	                    │no
	                    ▼
	            claim in-progress slot ──taken──► fail deployment (already-in-progress)
	                    │claimed                  or ack redelivery of own message
	                    ▼
	            pipeline Start

	resume msg ──► pipeline Resume

The global lock holds work on the queue rather than failing it: a locked
installation finishes nothing and loses nothing, and lifting the lock lets
the queued messages through unchanged.

# Restart Sweep

The sweep runs once at startup, before queue consumption begins. For every
unfinished document: never started means the queue still owns it; paused
means the operator owns it; started and still holding its in-progress slot
means the pipeline recovers it; started without its slot means something
else released or claimed the slot, and the document is marked broken for
triage rather than advanced on guesswork.

# Integration Points

	coordination  queue consumption, the in-progress claim, lock and pause registers
	pipeline      Start, Recover, and Resume of deployments
	storage       documents read at dequeue, refused deployments persisted
	api           operator pause/resume/cancel and the broken listing
*/
package orchestrator
