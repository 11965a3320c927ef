/*
Package storage provides BoltDB-backed persistence for Gantry's deployment
history.

The storage package implements the Store interface using BoltDB as the
underlying database. Each deployment is one JSON document keyed by its ID; the
document carries the task list, task logs and parameters, so the full history
of a deployment survives restarts and is queryable afterwards.

# Architecture

Gantry uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <store.path>                       │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ deployments (Deployment ID)│             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Partial Updates

UpdateTask and MergeParameters read, modify and rewrite the document inside a
single write transaction. BoltDB serializes write transactions, so concurrent
updates to different tasks of the same deployment cannot lose each other's
writes. SaveDeployment replaces the whole document and is reserved for the
code path that owns the deployment, which is one pipeline at a time.

Store failures are classified as transient (types.ErrStore) so the task
tracker retries through them; a missing document is ErrDeploymentNotFound and
is never retried.

# Usage

	store, err := storage.NewBoltStore("/var/lib/gantry/deployments.db")
	if err != nil {
		log.Fatal("Cannot open deployment store")
	}
	defer store.Close()

	err = store.SaveDeployment(deployment)

	d, err := store.GetDeployment("deploy-123")
	if errors.Is(err, storage.ErrDeploymentNotFound) {
		// 404
	}

	// Crash recovery: anything without an end timestamp
	incomplete, err := store.ListIncompleteDeployments()

# Integration Points

This package integrates with:

  - pkg/intake: Persists new deployments before they are queued
  - pkg/pipeline: Records task progress and logs as the pipeline advances
  - pkg/orchestrator: Sweeps incomplete deployments on startup
  - pkg/api: Serves deployment documents and histories
*/
package storage
