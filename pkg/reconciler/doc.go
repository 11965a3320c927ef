/*
Package reconciler repairs drift between the coordination registers and the
deployment store.

The registers and the store are separate systems written in sequence, never
in one transaction. The pipeline finishes a deployment by stamping the
document's end timestamp and then clearing the in-progress record; a crash
between the two leaves the environment key claimed by a deployment that
will never release it, and every later submission for that target is
refused with a conflict. Request flags have the same exposure: a pause or
cancel requested moments before the deployment finished has no deployment
left to observe it, and would instead ambush the next deployment on the
key at its first task boundary.

The reconciler runs a cycle on an interval (one minute by default):

	┌──────────────────────── one cycle ─────────────────────────┐
	│                                                            │
	│  in-progress register ──┐                                  │
	│  paused register      ──┼── look up document by id         │
	│                         │                                  │
	│            finished or gone?  ──► clear record,            │
	│                                   withdraw request flags   │
	│                                                            │
	│  awaiting-pause set   ──┐                                  │
	│  awaiting-cancel set  ──┼── key has a live deployment?     │
	│                         │                                  │
	│                    no ──► withdraw the flag                │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

A finished document is authoritative and the record is cleared at first
sight. A missing document is not: the registers and the store are read
one after the other with no shared snapshot, and operators place request
flags directly with the ops commands, so one cycle can catch a key
between writes. Those records are cleared only after consecutive stale
sightings.

The reconciler never touches records whose deployment is unfinished, and
it never repairs broken deployments (started documents whose record is
held by someone else); those stay visible to operators via the broken
filter and need a human decision.

Each repair increments gantry_register_repairs_total by register and logs
at warn level with the environment key.
*/
package reconciler
