/*
Package storage provides BoltDB-backed persistence for Burrow's cluster state.

The raft FSM in pkg/manager is the only writer. Every manager node applies the
same committed log entries to its own BoltStore, so reads served from any
node's store see the same hosts, settings, volumes and snapshot chains.

# Buckets

	hosts       host UUID        → types.Host
	settings    setting name     → types.Setting
	volumes     volume name      → types.Volume
	snapshots   volume name      → types.SnapshotChain

Values are JSON. The database file is <dataDir>/burrow.db.

A volume and its snapshot chain are written in the same transaction on
create and removed together on delete, so the two buckets never disagree
about which volumes exist. CreateVolume is also where duplicate names are
rejected: the FSM applies creations one at a time, which makes the check
atomic across the cluster.

# Errors

Lookups of missing keys return errdefs.NotFoundError, and duplicate volume
creation returns errdefs.NameConflictError.
*/
package storage
