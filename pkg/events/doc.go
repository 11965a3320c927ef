/*
Package events distributes deployment lifecycle events to subscribers.

The pipeline and orchestrator publish an event for every observable step:
deployments queued, started, paused, resumed, cancelled, completed, failed
or marked broken, and each task's start, skip, completion and failure. The
API streams these to clients; nothing in Gantry depends on a subscriber
being present.

# Architecture

	Publish ──► eventCh (buffer 100) ──► run loop ──► broadcast
	                                                      │
	                                    ┌─────────────────┼─────────────────┐
	                                    ▼                 ▼                 ▼
	                              subscriber A      subscriber B      subscriber C
	                              (buffer 50)       (buffer 50)       (buffer 50)

# Delivery Semantics

Best effort, in order, at most once per subscriber. Publish never blocks:
when the broker buffer is full or the broker has stopped, the event is
dropped. When a subscriber's own buffer is full, only that subscriber
misses the event. Deployment history lives in the store; the event stream
is a convenience, not a ledger.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for e := range sub {
		fmt.Printf("%s %s %s\n", e.Timestamp, e.Type, e.DeploymentID)
	}

# Integration Points

  - pkg/pipeline, pkg/orchestrator: publishers
  - pkg/api: GET /events streams the subscription to HTTP clients
*/
package events
