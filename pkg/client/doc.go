/*
Package client provides a Go client for the Gantry HTTP API.

Every server operation has one method: submitting deployments, reading
documents, the pause/resume/cancel verbs, the global lock, and the live
event stream. Methods take a context, carry a ten second budget through
the underlying HTTP client, and return the same typed errors the server
raises, so callers switch on types.KindOf exactly as server-side code
does:

	cl := client.New("http://gantry:8080")

	id, err := cl.Deploy(ctx, intake.Request{
		Application: "accounts",
		Environment: "poke",
		Region:      "eu-west-1",
		AMI:         "ami-00aa11bb",
		User:        "jane",
	})
	if types.IsKind(err, types.ErrAlreadyInProgress) {
		// target busy; the message names the holder
	}

Reading progress is polling the document:

	d, err := cl.Deployment(ctx, id)
	for _, task := range d.Tasks {
		fmt.Printf("%-26s %s\n", task.Action, task.Status)
	}

or following the event stream, which blocks until the context ends:

	err := cl.Watch(ctx, func(e *events.Event) {
		fmt.Printf("%s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.DeploymentID)
	})

The client keeps no state beyond its HTTP connections and is safe for
concurrent use.

# Integration Points

  - pkg/api: consumes the HTTP contract
  - pkg/intake: request type for Deploy
  - pkg/types: deployment documents and error kinds
  - pkg/events: event payloads for Watch
  - cmd/gantry: CLI subcommands are built on this package
*/
package client
