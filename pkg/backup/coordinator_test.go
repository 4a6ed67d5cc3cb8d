package backup

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/backupstore"
	"github.com/cuemby/burrow/pkg/bgtask"
	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/retry"
	"github.com/cuemby/burrow/pkg/snapshot"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	target   string
	volumes  map[string]*types.Volume
	chains   map[string]*types.SnapshotChain
	received []*events.Event
}

func (f *fakeCluster) GetSetting(name string) (*types.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Setting{Name: name, Value: f.target}, nil
}

func (f *fakeCluster) GetVolume(name string) (*types.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[name]
	if !ok {
		return nil, errdefs.NewNotFoundError("volume %s not found", name)
	}
	return v, nil
}

func (f *fakeCluster) GetSnapshotChain(volume string) (*types.SnapshotChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chains[volume]
	if !ok {
		return nil, errdefs.NewNotFoundError("snapshot chain %s not found", volume)
	}
	return c, nil
}

func (f *fakeCluster) PublishEvent(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, event)
}

func (f *fakeCluster) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.EventType
	for _, e := range f.received {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	cluster *fakeCluster
	sim     *engine.Sim
	tasks   *bgtask.Registry
	coord   *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	ctx := context.Background()
	sim := engine.NewSim()

	volume := &types.Volume{
		Name:             "vol1",
		Size:             1 << 30,
		NumberOfReplicas: 1,
		State:            types.VolumeStateHealthy,
		Controller:       &types.Controller{HostID: "host-a"},
		Replicas:         []*types.Replica{{Name: "vol1-r-1", HostID: "host-a", VolumeName: "vol1"}},
		Created:          time.Now().UTC(),
	}
	require.NoError(t, sim.CreateReplica(ctx, volume.Replicas[0], volume.Size, "img"))
	_, err := sim.StartReplica(ctx, volume.Replicas[0])
	require.NoError(t, err)
	volume.Replicas[0].Running = true
	_, err = sim.StartController(ctx, volume, "host-a", []string{"r1"})
	require.NoError(t, err)

	chain := snapshot.NewChain("vol1")
	for i, name := range []string{"snap1", "snap2"} {
		require.NoError(t, sim.SnapshotCreate(ctx, volume, name, nil))
		_, err := snapshot.Create(chain, name, time.Now().Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, err)
	}

	cluster := &fakeCluster{
		target:  "vfs://" + t.TempDir(),
		volumes: map[string]*types.Volume{"vol1": volume},
		chains:  map[string]*types.SnapshotChain{"vol1": chain},
	}
	tasks := bgtask.NewRegistry()
	t.Cleanup(tasks.Close)

	opts := backupstore.Options{Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}}
	return &testEnv{
		cluster: cluster,
		sim:     sim,
		tasks:   tasks,
		coord:   NewCoordinator(cluster, sim, tasks, opts),
	}
}

func (e *testEnv) backup(t *testing.T, req Request) {
	task, err := e.coord.Backup(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.backup(t, Request{Volume: "vol1", Snapshot: "snap1", Labels: map[string]string{"env": "test"}})

	volumes, err := env.coord.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "vol1", volumes[0].Name)
	assert.Equal(t, int64(1<<30), volumes[0].Size)

	backups, err := env.coord.List(ctx, "vol1")
	require.NoError(t, err)
	require.Len(t, backups, 1)

	b := backups[0]
	assert.Equal(t, "snap1", b.SnapshotName)
	assert.Equal(t, "vol1", b.VolumeName)
	assert.Equal(t, int64(1<<30), b.VolumeSize)
	assert.Equal(t, "test", b.Labels["env"])
	assert.Contains(t, b.URL, env.cluster.target+"?backup="+b.Name)
	assert.Equal(t, b.Name, volumes[0].LastBackupName)

	got, err := env.coord.Get(ctx, "vol1", b.Name)
	require.NoError(t, err)
	assert.Equal(t, b.URL, got.URL)

	store, err := env.coord.Store(ctx)
	require.NoError(t, err)
	rc, err := store.Get(ctx, blockKey("vol1", b.Name))
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, engine.SimSnapshotData("vol1", "snap1"), data)

	assert.Contains(t, env.cluster.eventTypes(), events.EventBackupCompleted)

	require.NoError(t, env.coord.Delete(ctx, "vol1", b.Name))
	_, err = env.coord.Get(ctx, "vol1", b.Name)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	volumes, err = env.coord.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, volumes)
	_, err = env.coord.GetVolume(ctx, "vol1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestBackupValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("no target", func(t *testing.T) {
		env := newTestEnv(t)
		env.cluster.target = ""
		_, err := env.coord.Backup(ctx, Request{Volume: "vol1", Snapshot: "snap1"})
		assert.True(t, errors.Is(err, errdefs.ErrNoBackupTarget))

		_, err = env.coord.ListVolumes(ctx)
		assert.True(t, errors.Is(err, errdefs.ErrNoBackupTarget))
	})

	t.Run("unsupported target", func(t *testing.T) {
		env := newTestEnv(t)
		env.cluster.target = "nfs://server/export"
		_, err := env.coord.Backup(ctx, Request{Volume: "vol1", Snapshot: "snap1"})
		assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
	})

	t.Run("missing snapshot", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.coord.Backup(ctx, Request{Volume: "vol1", Snapshot: "nope"})
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})

	t.Run("removed snapshot", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, snapshot.Delete(env.cluster.chains["vol1"], "snap1"))
		_, err := env.coord.Backup(ctx, Request{Volume: "vol1", Snapshot: "snap1"})
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})

	t.Run("missing volume", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.coord.Backup(ctx, Request{Volume: "vol2", Snapshot: "snap1"})
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}

func TestBackupExportFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sim.FailNext("exportSnapshot", 1, errors.New("replica unreachable"))

	task, err := env.coord.Backup(ctx, Request{Volume: "vol1", Snapshot: "snap2"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = task.Wait(waitCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrAsyncTaskFailure))

	info := task.Info()
	require.NotNil(t, info.Err)
	assert.Contains(t, *info.Err, "replica unreachable")
	assert.Contains(t, env.cluster.eventTypes(), events.EventBackupFailed)

	volumes, err := env.coord.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestBackupRetention(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	labels := map[string]string{types.LabelRecurringJob: "nightly"}
	for i := 0; i < 4; i++ {
		env.backup(t, Request{Volume: "vol1", Snapshot: "snap2", Labels: labels, Retain: 2})
	}
	env.backup(t, Request{Volume: "vol1", Snapshot: "snap1"})

	backups, err := env.coord.List(ctx, "vol1")
	require.NoError(t, err)
	require.Len(t, backups, 3)

	nightly := 0
	for _, b := range backups {
		if b.Labels[types.LabelRecurringJob] == "nightly" {
			nightly++
		}
	}
	assert.Equal(t, 2, nightly)

	bv, err := env.coord.GetVolume(ctx, "vol1")
	require.NoError(t, err)
	assert.Equal(t, backups[2].Name, bv.LastBackupName)
}

func TestDeleteUpdatesLastBackup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.backup(t, Request{Volume: "vol1", Snapshot: "snap1"})
	env.backup(t, Request{Volume: "vol1", Snapshot: "snap2"})

	backups, err := env.coord.List(ctx, "vol1")
	require.NoError(t, err)
	require.Len(t, backups, 2)

	require.NoError(t, env.coord.Delete(ctx, "vol1", backups[1].Name))

	bv, err := env.coord.GetVolume(ctx, "vol1")
	require.NoError(t, err)
	assert.Equal(t, backups[0].Name, bv.LastBackupName)

	err = env.coord.Delete(ctx, "vol1", backups[1].Name)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.backup(t, Request{Volume: "vol1", Snapshot: "snap2"})

	backups, err := env.coord.List(ctx, "vol1")
	require.NoError(t, err)
	require.Len(t, backups, 1)

	b, err := env.coord.Lookup(ctx, backups[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "snap2", b.SnapshotName)

	for _, bad := range []string{
		env.cluster.target,
		env.cluster.target + "?backup=" + b.Name,
		"vfs:///other?backup=" + b.Name + "&volume=vol1",
	} {
		_, err := env.coord.Lookup(ctx, bad)
		assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument), "%s: %v", bad, err)
	}

	volume, err := env.cluster.GetVolume("vol1")
	require.NoError(t, err)
	require.NoError(t, env.coord.Restore(ctx, volume, b))
	assert.Equal(t, engine.SimSnapshotData("vol1", "snap2"), env.sim.Imported("vol1"))

	small := &types.Volume{Name: "small", Size: 1 << 20, Controller: volume.Controller}
	err = env.coord.Restore(ctx, small, b)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))

	detached := &types.Volume{Name: "vol9", Size: 1 << 30}
	assert.Error(t, env.coord.Restore(ctx, detached, b))
}
