/*
Package manager implements a Burrow manager node: a raft member that holds a
replica of the cluster state and exposes typed accessors over it.

# Cluster state

Hosts, settings, volumes and snapshot chains live in a bbolt database
(pkg/storage). Every write is a Command committed through hashicorp/raft and
applied by BurrowFSM on each member, so all nodes converge on the same store.
Reads are served from the local store without a raft round trip.

	mgr, _ := manager.NewManager(&manager.Config{
		NodeID:   "host-1",
		BindAddr: "10.0.0.1:7946",
		APIAddr:  "10.0.0.1:9500",
		DataDir:  "/var/lib/burrow",
	})
	_ = mgr.Bootstrap(ctx)

Write methods return errdefs.NotLeaderError on followers. The API layer
forwards those requests to the leader's API address, looked up with
LeaderAPIAddr.

# Membership

The first node bootstraps a single-voter configuration and registers itself
as a host. Further nodes obtain a token from the leader (GenerateJoinToken)
and call Join, which posts to the leader's /v1/cluster/join endpoint; the
leader validates the token in AdmitNode, adds the node as a voter and
registers the host.

Join tokens are held only in the issuing leader's memory.

# Snapshots

BurrowFSM.Snapshot serializes the whole store as JSON. Restore resets the
store before loading, so a follower restored from a snapshot holds exactly
the leader's state.

# Metrics

MetricsCollector refreshes the host, volume, snapshot and raft gauges of
pkg/metrics every 10 seconds.
*/
package manager
