/*
Package volume drives the lifecycle of replicated block volumes.

The Manager validates requests, places replicas on hosts, issues data engine
commands and records the results in the replicated cluster state. Every
mutation of a volume runs on that volume's actor goroutine, so two requests
against one volume are applied in order while different volumes proceed in
parallel.

# Lifecycle

	            attach                 success
	detached ─────────────▶ attaching ─────────▶ healthy
	    ▲                       │                   │
	    │                 engine failure     detach │ controller lost
	    │                       ▼                   ▼
	    └──── detaching ◀──── faulted ◀──── (reconciler)
	              ▲                                 │
	              └─────────────── detach ──────────┘

A volume is created detached with its replicas materialized but stopped.
Attach starts the replicas and a controller on the chosen host and exposes
the device under the configured prefix, for example /dev/burrow/vol1.
Engine commands are retried with exponential backoff; when they keep
failing the volume is left faulted with the last error recorded, and only
detach is accepted.

# Snapshots

Snapshot mutations require a healthy volume. Each one is applied to a copy
of the snapshot chain, sent to the engine, and committed only after the
engine succeeds, so a failed command leaves the chain untouched. Listing and
reading snapshots work in any state.

# Recurring jobs

The Manager is the runner of the recurring scheduler. A firing on a follower
or against a volume that is not healthy is skipped. Snapshot jobs with a
retain count mark the oldest labelled snapshots removed and purge them;
backup jobs additionally queue a backup of the new snapshot.
*/
package volume
