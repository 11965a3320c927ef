/*
Package api serves the Gantry HTTP interface.

The deployment contract:

	POST /{application}/deploy      201 {id}   submission accepted and queued
	                                400        refused input (validation, image mismatch)
	                                409        target already has a deployment in progress
	                                423        global deployment lock held

Progress is read back as the deployment document itself; there is no separate
status model:

	GET /deployments/{id}           the full document, tasks and logs included
	GET /deployments                history; ?filter=incomplete|broken, ?application=
	GET /events                     server-sent events from the broker

Operator controls act on targets, not deployment IDs, because the registers
are keyed by target:

	POST /{application}/{environment}/{region}/pause
	POST /{application}/{environment}/{region}/resume
	POST /{application}/{environment}/{region}/cancel
	GET|POST|DELETE /lock           the global intake lock

Diagnostics: GET /ping, /status, /healthcheck, /ready, /metrics.

Handlers stay thin: they decode, call one collaborator, and map classified
errors onto response codes. Everything with a decision in it lives behind
the intake and orchestrator.
*/
package api
