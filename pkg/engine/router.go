package engine

import (
	"context"
	"io"
	"sync"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// HostResolver looks up registered hosts
type HostResolver interface {
	GetHost(uuid string) (*types.Host, error)
}

// Router sends each operation to the engine of the host it concerns: the
// local engine for this host, a Remote relay for any other
type Router struct {
	localID string
	local   Engine
	hosts   HostResolver

	mu      sync.Mutex
	remotes map[string]*Remote
}

// NewRouter creates a router for the host localID
func NewRouter(localID string, local Engine, hosts HostResolver) *Router {
	return &Router{
		localID: localID,
		local:   local,
		hosts:   hosts,
		remotes: make(map[string]*Remote),
	}
}

// Local returns the engine of this host
func (r *Router) Local() Engine {
	return r.local
}

func (r *Router) engineFor(hostID string) (Engine, error) {
	if hostID == r.localID {
		return r.local, nil
	}

	host, err := r.hosts.GetHost(hostID)
	if err != nil {
		return nil, errdefs.NewHostUnknownError("host %s is not registered", hostID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	remote, ok := r.remotes[hostID]
	if !ok || remote.baseURL != NewRemote(host.Address).baseURL {
		remote = NewRemote(host.Address)
		r.remotes[hostID] = remote
	}
	return remote, nil
}

func (r *Router) controllerEngine(volume *types.Volume) (Engine, error) {
	if volume.Controller == nil {
		return nil, errdefs.NewAttachConflictError("volume %s has no controller", volume.Name)
	}
	return r.engineFor(volume.Controller.HostID)
}

func (r *Router) CreateReplica(ctx context.Context, replica *types.Replica, size int64, image string) error {
	e, err := r.engineFor(replica.HostID)
	if err != nil {
		return err
	}
	return e.CreateReplica(ctx, replica, size, image)
}

func (r *Router) StartReplica(ctx context.Context, replica *types.Replica) (string, error) {
	e, err := r.engineFor(replica.HostID)
	if err != nil {
		return "", err
	}
	return e.StartReplica(ctx, replica)
}

func (r *Router) StopReplica(ctx context.Context, replica *types.Replica) error {
	e, err := r.engineFor(replica.HostID)
	if err != nil {
		return err
	}
	return e.StopReplica(ctx, replica)
}

func (r *Router) DeleteReplica(ctx context.Context, replica *types.Replica) error {
	e, err := r.engineFor(replica.HostID)
	if err != nil {
		return err
	}
	return e.DeleteReplica(ctx, replica)
}

func (r *Router) StartController(ctx context.Context, volume *types.Volume, hostID string, replicaAddrs []string) (string, error) {
	e, err := r.engineFor(hostID)
	if err != nil {
		return "", err
	}
	return e.StartController(ctx, volume, hostID, replicaAddrs)
}

func (r *Router) StopController(ctx context.Context, volume *types.Volume) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.StopController(ctx, volume)
}

func (r *Router) ControllerHealthy(ctx context.Context, volume *types.Volume) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.ControllerHealthy(ctx, volume)
}

func (r *Router) SnapshotCreate(ctx context.Context, volume *types.Volume, name string, labels map[string]string) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.SnapshotCreate(ctx, volume, name, labels)
}

func (r *Router) SnapshotDelete(ctx context.Context, volume *types.Volume, name string) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.SnapshotDelete(ctx, volume, name)
}

func (r *Router) SnapshotRevert(ctx context.Context, volume *types.Volume, name string) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.SnapshotRevert(ctx, volume, name)
}

func (r *Router) SnapshotPurge(ctx context.Context, volume *types.Volume) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.SnapshotPurge(ctx, volume)
}

func (r *Router) ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error) {
	e, err := r.engineFor(replica.HostID)
	if err != nil {
		return nil, err
	}
	return e.ExportSnapshot(ctx, replica, name)
}

func (r *Router) ImportVolume(ctx context.Context, volume *types.Volume, data io.Reader) error {
	e, err := r.controllerEngine(volume)
	if err != nil {
		return err
	}
	return e.ImportVolume(ctx, volume, data)
}
