/*
Package types defines the core data structures used throughout Burrow.

These types describe the replicated cluster state (hosts, settings, volumes,
snapshot chains) as well as the records kept outside of raft (backups in the
backup store, background tasks on the leader). All of them are plain JSON
serializable structs; the FSM stores them verbatim in BoltDB and the API
renders them into its own response shapes.

# Core Types

Cluster:
  - Host: manager node with API and raft addresses
  - Setting: cluster-wide key/value (backupTarget, engineImage, syslogTarget)

Volumes:
  - Volume: replicated block device with lifecycle state
  - Replica: one copy of a volume pinned to a host
  - Controller: frontend process exposing the block device on a host
  - RecurringJob: cron-scheduled snapshot or backup with retention

Snapshots:
  - Snapshot: node of the snapshot tree
  - SnapshotChain: per-volume arena of snapshots keyed by name

Backups and tasks:
  - BackupVolume, Backup: records in the backup store
  - BgTask: asynchronous operation queued against a volume

# Volume State Machine

	detached → attaching → healthy → detaching → detached
	              ↓           ↓
	           faulted     faulted

A faulted volume can only be detached.

# Snapshot Tree

The live write head of a volume is not a snapshot. It is represented by the
VolumeHead sentinel, which appears in the Children set of exactly one
snapshot (SnapshotChain.Head) or of none when the volume has no snapshots:

	snap1 ← snap2 ← snap3 ← volume-head

Parent and child links are names into SnapshotChain.Snapshots, never
pointers.
*/
package types
