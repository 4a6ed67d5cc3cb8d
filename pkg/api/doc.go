/*
Package api implements the Burrow REST API served by every manager node.

Routes are registered on a gorilla/mux router; every handler is wrapped in a
combined access log and a metrics middleware that counts requests per route
template and status.

	┌──────────── CLIENT (burrow CLI, other nodes) ────────────┐
	│                    HTTP/JSON                              │
	└──────────────────────────┬───────────────────────────────┘
	                           │
	┌──────────────────────────▼──── MANAGER NODE ─────────────┐
	│  /health /ready /metrics                                  │
	│  /v1/engine/{op}     ──► local engine (never forwarded)   │
	│  /v1/...             ──► forwardToLeader                  │
	│                            │ follower + mutating request  │
	│                            └──► reverse proxy to leader   │
	│                          volume.Manager, backup,          │
	│                          manager (raft state)             │
	└───────────────────────────────────────────────────────────┘

# Leader forwarding

Reads (GET) are answered from the node's own replica of the cluster state.
A follower first fetches the leader's read index from
/v1/cluster/readindex and waits until it has applied that entry, so a read
on any node sees every update acknowledged before it. Any other method received by a follower is proxied to the leader's API
address from the host registry. A forwarded request that lands on a node
that is no longer leader is rejected with 503 rather than forwarded again.

When Config.RateLimit is set, mutating requests are also limited per client
IP on the node that receives them, and rejected with 429 over the budget.

# Errors

Failures are returned as {"error", "details"} with the status taken from the
error type:

	NotFound                         404
	NameConflict, AttachConflict     409
	InvalidArgument, HostUnknown     400
	InsufficientHosts, NotLeader     503
	NoBackupTarget                   412
	anything else                    500
*/
package api
