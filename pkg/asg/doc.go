/*
Package asg drives the remote auto scaling group management service.

The service is a screen-scraping era HTTP application: mutating calls are
form posts answered with a 302 whose Location header is the payload, and
long-running work is exposed as task resources that are polled as JSON.
This package hides those mechanics behind typed operations and normalizes
every response into Gantry's own types.

# Wire Contract

	┌──────────────────────── REMOTE SERVICE ────────────────────────┐
	│                                                                 │
	│  POST {base}/{region}/autoScaling/save                          │
	│    302 → .../autoScaling/show/{name}                            │
	│    First group of a cluster; name is the last path segment      │
	│                                                                 │
	│  POST {base}/{region}/cluster/createNextGroup                   │
	│    302 → .../task/show/{id}   (or the cluster page on older     │
	│    versions; the task is then found via task/list.json)         │
	│                                                                 │
	│  POST {base}/{region}/cluster/index                             │
	│    _action_activate | _action_deactivate | _action_delete |     │
	│    _action_resize, plus name and ticket                         │
	│    302 → task page; the task URL is the Location + ".json"      │
	│                                                                 │
	│  GET  {task URL}                                                │
	│    {"status": ..., "log": [...], "updateTime": ...}             │
	│                                                                 │
	│  GET  {base}/{region}/autoScaling/show/{name}.json              │
	│  GET  {base}/{region}/cluster/show/{cluster}.json               │
	│  GET  {base}/{region}/security/list.json                        │
	│  GET  {base}/{region}/loadBalancer/show/{name}.json             │
	│                                                                 │
	└─────────────────────────────────────────────────────────────────┘

# Client Behavior

The client never follows redirects: a 302 is the success signal and its
Location identifies the created resource or the task doing the work.
Non-2xx statuses are never transport errors either; each operation decides
what a status means for it (a 404 on a group fetch is a clean "not there",
a 200 on a create is a failure). Only failures to reach the service at all
are reported as transport errors, and those are transient: callers retry.

Dialing is bounded separately from the whole exchange so a dead service is
detected quickly while slow task pages still get time to render.

# Form Assembly

PrepareForm turns a merged deployment parameter map into the form the
service expects. Keys are camelized, zone letters gain the region prefix,
security group names are translated to IDs through the region listing, and
load balancer selections move to a VPC-qualified key on internal subnets.
Keys that steer Gantry itself never leave the process.

# Task Documents

Remote tasks carry their log as bare "YYYY-MM-DD_HH:MM:SS message" strings
and their update time with a UTC suffix Go's parser does not accept; both
are normalized here, once, so the rest of Gantry works with typed entries.
The log line announcing "Creating auto scaling group '...'" is the only
place the service reveals a new group's name, so RemoteTask exposes it.

# Usage

	client := asg.New(asg.Config{
		BaseURL: "http://asg.example.com",
		EnvironmentURLs: map[string]string{
			"prod": "http://asg-prod.example.com",
		},
	})

	taskURL, err := client.EnableTraffic(ctx, "poke", "eu-west-1",
		"accounts-poke-v002", deployment.ID)
	if err != nil {
		return err
	}

	task, err := client.GetTask(ctx, taskURL)

# Integration Points

  - pkg/pipeline: every deployment task is one or two operations here
  - pkg/tracker: polls GetTask until the remote task finishes
  - pkg/intake: resolves security groups while validating requests
  - pkg/types: error kinds decide which failures are retried
*/
package asg
