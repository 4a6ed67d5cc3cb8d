/*
Package engine drives the data plane of Burrow volumes.

Burrow does not move blocks itself. Each volume is served by replica
processes, one per replica on the replica's host, and a controller process on
the host the volume is attached to. The controller exposes the block device
and forwards I/O to the replicas. Engine is the interface the volume manager
uses to start, stop and snapshot these processes.

# Implementations

Containerd runs replicas and controllers as privileged, host-network
containers of the engineImage setting. Ports are allocated from a fixed range
and recorded as container labels, so they survive a manager restart. Snapshot
commands are executed inside the controller container with the engine CLI:

	longhorn --url http://localhost:<port> snapshot create|rm|revert|purge

Sim keeps all state in memory. It serves the "sim" engine mode, used for
development clusters without containerd, and tests.

Remote relays operations to another host's /v1/engine endpoints, and Router
picks the local engine or a Remote per call from the host the call concerns:

	replica ops            replica.HostID
	controller, snapshots  volume.Controller.HostID
	export                 replica.HostID
*/
package engine
