package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHostCRUD(t *testing.T) {
	store := newTestStore(t)

	host := &types.Host{UUID: "h1", Address: "10.0.0.1:9500", Status: types.HostStatusReady}
	require.NoError(t, store.CreateHost(host))

	got, err := store.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9500", got.Address)

	host.Address = "10.0.0.2:9500"
	require.NoError(t, store.UpdateHost(host))
	got, err = store.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:9500", got.Address)

	hosts, err := store.ListHosts()
	require.NoError(t, err)
	assert.Len(t, hosts, 1)

	require.NoError(t, store.DeleteHost("h1"))
	_, err = store.GetHost("h1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestSettings(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSetting(types.SettingBackupTarget)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	require.NoError(t, store.PutSetting(&types.Setting{Name: types.SettingBackupTarget, Value: "vfs:///backups"}))
	require.NoError(t, store.PutSetting(&types.Setting{Name: types.SettingBackupTarget, Value: "s3://bucket@us-east-1/"}))

	got, err := store.GetSetting(types.SettingBackupTarget)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket@us-east-1/", got.Value)

	settings, err := store.ListSettings()
	require.NoError(t, err)
	assert.Len(t, settings, 1)
}

func TestVolumeLifecycle(t *testing.T) {
	store := newTestStore(t)

	vol := &types.Volume{
		Name:             "vol1",
		Size:             16 * 1024 * 1024,
		NumberOfReplicas: 2,
		State:            types.VolumeStateDetached,
		Created:          time.Now().UTC(),
	}
	require.NoError(t, store.CreateVolume(vol))

	err := store.CreateVolume(vol)
	assert.True(t, errors.Is(err, errdefs.ErrNameConflict))

	chain, err := store.GetSnapshotChain("vol1")
	require.NoError(t, err)
	assert.Empty(t, chain.Snapshots)
	assert.Equal(t, "", chain.Head)

	vol.State = types.VolumeStateHealthy
	require.NoError(t, store.UpdateVolume(vol))
	got, err := store.GetVolume("vol1")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateHealthy, got.State)

	require.NoError(t, store.DeleteVolume("vol1"))
	_, err = store.GetVolume("vol1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	_, err = store.GetSnapshotChain("vol1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestUpdateMissingVolume(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateVolume(&types.Volume{Name: "ghost"})
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	err = store.PutSnapshotChain(&types.SnapshotChain{VolumeName: "ghost"})
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestSnapshotChainRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateVolume(&types.Volume{Name: "vol1"}))

	chain := &types.SnapshotChain{
		VolumeName: "vol1",
		Head:       "snap1",
		Snapshots: map[string]*types.Snapshot{
			"snap1": {Name: "snap1", Children: map[string]bool{types.VolumeHead: true}},
		},
	}
	require.NoError(t, store.PutSnapshotChain(chain))

	got, err := store.GetSnapshotChain("vol1")
	require.NoError(t, err)
	assert.Equal(t, "snap1", got.Head)
	assert.True(t, got.Snapshots["snap1"].Children[types.VolumeHead])
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(&types.Host{UUID: "h1"}))
	require.NoError(t, store.CreateVolume(&types.Volume{Name: "vol1"}))

	require.NoError(t, store.Reset())

	hosts, err := store.ListHosts()
	require.NoError(t, err)
	assert.Empty(t, hosts)
	volumes, err := store.ListVolumes()
	require.NoError(t, err)
	assert.Empty(t, volumes)
}
