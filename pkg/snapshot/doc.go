/*
Package snapshot implements the snapshot tree of a volume.

A volume's snapshots form a tree stored as an arena: a map from snapshot name
to node, where each node names its parent and its children. The live write
layer is not a snapshot; it appears as the reserved child name "volume-head"
under exactly one snapshot, the one named by the chain's Head.

	Create snap1, snap2, snap3:

	    snap1 ── snap2 ── snap3 ── volume-head

	Revert snap2:

	    snap1 ── snap2 ─┬─ snap3
	                    └─ volume-head

Deleting a snapshot only marks it removed. Purge later drops removed nodes
while keeping the tree connected: leaves go away, nodes with a single child
are collapsed into that child, and a node that holds the volume head or that
has several children stays until its children change.

The functions here are pure over *types.SnapshotChain. Callers load a chain
from the cluster store, run the data engine command, apply the function, and
commit the chain back through raft.
*/
package snapshot
