/*
Package intake turns deployment submissions into queued deployment documents.

A submission passes a chain of cheap refusals before anything is written:

	request ──► validate shape ──► global lock? ──► target busy? ──► image owned
	                                                                 by application?
	                │                  │                 │                │
	              400-class          locked        already-in-progress  image-mismatch
	                                           (nothing persisted for any of these)

Only a submission that clears the whole chain becomes a document: parameters
are merged from configured defaults, the application's registered properties,
the user's request, and the environment's protected values, in that order of
precedence. The document is persisted, its ID queued, and the caller gets the
unstarted deployment back as a handle.

The in-progress probe here is advisory; two submissions racing past it are
still serialized by the orchestrator's atomic claim. The probe exists so the
common conflict is refused synchronously with a useful holder ID instead of
failing later on the queue.

# Integration Points

	coordination  global lock, in-progress probe, work queue
	storage       deployment documents
	api           HTTP submission endpoint
	remote        image registry and property service, consulted before admission
*/
package intake
