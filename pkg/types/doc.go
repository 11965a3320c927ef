/*
Package types defines the core data structures used throughout Gantry.

This package contains the fundamental types of Gantry's domain model: the
deployment document, its ordered task list, the free-form parameter map and the
classified error used across package boundaries. Every other package works in
terms of these types.

# Architecture

The types package is the foundation of Gantry's data model. It defines:

  - The deployment document and its lifecycle timestamps
  - The fixed six-task pipeline and task statuses
  - The parameter map with typed, normalizing accessors
  - Parameter merge precedence (defaults, then user, then protected)
  - Classified errors for response mapping and retry decisions

All types are designed to be:

  - Serializable (JSON, with snake_case field names)
  - Mutated in place through the store's update helpers
  - Closed over their enums (actions and statuses are assigned from the
    fixed constants, never parsed from input)

# Core Types

Deployment lifecycle:
  - Deployment: One deployment of an image to an app/env/region target
  - Task: One pipeline step with status, timestamps, log and remote URL
  - TaskStatus: Pending, running, completed, failed, terminated, skipped
  - Action: The fixed step identifiers, create-asg through delete-asg
  - LogEntry: A timestamped task log line

Parameters:
  - Parameters: Free-form map with typed accessors that normalize JSON
    numbers and scalar-or-list values
  - MergeParameters: Per-key precedence merge

Errors:
  - Error: A failure classified by ErrorKind
  - ErrorKind: Validation, already-in-progress, locked and the rest of the
    classifications the API and tracker dispatch on

# Usage

Creating a deployment:

	deployment := &types.Deployment{
		ID:          uuid.New().String(),
		Application: "accounts",
		Environment: "poke",
		Region:      "eu-west-1",
		AMI:         "ami-1a2b3c4d",
		Parameters:  params,
		Tasks:       types.StandardTasks(),
		Created:     time.Now().UTC(),
	}

Classifying and testing errors:

	err := types.NewError(types.ErrLocked, "deployments are disabled")
	if types.IsKind(err, types.ErrLocked) {
		// 423 Locked
	}

Task statuses are terminal once completed, failed, terminated or skipped;
pending is deliberately non-terminal so interrupted deployments resume from
their first unstarted task.
*/
package types
