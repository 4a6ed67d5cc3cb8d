package engine

import (
	"context"
	"io"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// Engine drives the data plane processes of volumes on one or more hosts.
// Replica operations run on the replica's host, controller and snapshot
// operations on the host of the volume's controller.
type Engine interface {
	CreateReplica(ctx context.Context, replica *types.Replica, size int64, image string) error
	StartReplica(ctx context.Context, replica *types.Replica) (string, error)
	StopReplica(ctx context.Context, replica *types.Replica) error
	DeleteReplica(ctx context.Context, replica *types.Replica) error

	StartController(ctx context.Context, volume *types.Volume, hostID string, replicaAddrs []string) (string, error)
	StopController(ctx context.Context, volume *types.Volume) error
	ControllerHealthy(ctx context.Context, volume *types.Volume) error

	SnapshotCreate(ctx context.Context, volume *types.Volume, name string, labels map[string]string) error
	SnapshotDelete(ctx context.Context, volume *types.Volume, name string) error
	SnapshotRevert(ctx context.Context, volume *types.Volume, name string) error
	SnapshotPurge(ctx context.Context, volume *types.Volume) error

	// ExportSnapshot streams the contents of a snapshot from a replica
	ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error)
	// ImportVolume writes r into the block device of an attached volume
	ImportVolume(ctx context.Context, volume *types.Volume, r io.Reader) error
}

// Operation names used on the engine relay
const (
	OpCreateReplica     = "createReplica"
	OpStartReplica      = "startReplica"
	OpStopReplica       = "stopReplica"
	OpDeleteReplica     = "deleteReplica"
	OpStartController   = "startController"
	OpStopController    = "stopController"
	OpControllerHealthy = "controllerHealthy"
	OpSnapshotCreate    = "snapshotCreate"
	OpSnapshotDelete    = "snapshotDelete"
	OpSnapshotRevert    = "snapshotRevert"
	OpSnapshotPurge     = "snapshotPurge"

	// OpImportVolume streams its data in the request body rather than
	// through Dispatch
	OpImportVolume = "importVolume"
)

// Request carries the arguments of any engine operation over the relay
type Request struct {
	Replica      *types.Replica    `json:"replica,omitempty"`
	Volume       *types.Volume     `json:"volume,omitempty"`
	HostID       string            `json:"hostId,omitempty"`
	ReplicaAddrs []string          `json:"replicaAddrs,omitempty"`
	Size         int64             `json:"size,omitempty"`
	Image        string            `json:"image,omitempty"`
	Snapshot     string            `json:"snapshot,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// Response is the result of a relayed engine operation
type Response struct {
	Address string `json:"address,omitempty"`
}

// Dispatch runs a relayed operation against a local engine
func Dispatch(ctx context.Context, e Engine, op string, req *Request) (*Response, error) {
	needReplica := func() error {
		if req.Replica == nil {
			return errdefs.NewInvalidArgumentError("%s requires a replica", op)
		}
		return nil
	}
	needVolume := func() error {
		if req.Volume == nil {
			return errdefs.NewInvalidArgumentError("%s requires a volume", op)
		}
		return nil
	}

	resp := &Response{}
	var err error

	switch op {
	case OpCreateReplica, OpStartReplica, OpStopReplica, OpDeleteReplica:
		if err := needReplica(); err != nil {
			return nil, err
		}
	case OpStartController, OpStopController, OpControllerHealthy,
		OpSnapshotCreate, OpSnapshotDelete, OpSnapshotRevert, OpSnapshotPurge:
		if err := needVolume(); err != nil {
			return nil, err
		}
	default:
		return nil, errdefs.NewNotFoundError("unknown engine operation %s", op)
	}

	switch op {
	case OpCreateReplica:
		err = e.CreateReplica(ctx, req.Replica, req.Size, req.Image)
	case OpStartReplica:
		resp.Address, err = e.StartReplica(ctx, req.Replica)
	case OpStopReplica:
		err = e.StopReplica(ctx, req.Replica)
	case OpDeleteReplica:
		err = e.DeleteReplica(ctx, req.Replica)
	case OpStartController:
		resp.Address, err = e.StartController(ctx, req.Volume, req.HostID, req.ReplicaAddrs)
	case OpStopController:
		err = e.StopController(ctx, req.Volume)
	case OpControllerHealthy:
		err = e.ControllerHealthy(ctx, req.Volume)
	case OpSnapshotCreate:
		err = e.SnapshotCreate(ctx, req.Volume, req.Snapshot, req.Labels)
	case OpSnapshotDelete:
		err = e.SnapshotDelete(ctx, req.Volume, req.Snapshot)
	case OpSnapshotRevert:
		err = e.SnapshotRevert(ctx, req.Volume, req.Snapshot)
	case OpSnapshotPurge:
		err = e.SnapshotPurge(ctx, req.Volume)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
