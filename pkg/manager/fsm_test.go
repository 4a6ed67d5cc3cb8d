package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memSink) ID() string   { return "mem" }
func (s *memSink) Close() error { return nil }

func (s *memSink) Cancel() error {
	s.cancelled = true
	return nil
}

func newTestFSM(t *testing.T) *BurrowFSM {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewBurrowFSM(store)
}

func applyCommand(t *testing.T, fsm *BurrowFSM, op string, v interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmd})
}

func TestFSMApply(t *testing.T) {
	fsm := newTestFSM(t)

	resp := applyCommand(t, fsm, opCreateHost, &types.Host{UUID: "host-1", Address: "10.0.0.1:9500", Status: types.HostStatusReady})
	assert.Nil(t, resp)

	resp = applyCommand(t, fsm, opCreateVolume, &types.Volume{Name: "vol1", Size: 1 << 30, NumberOfReplicas: 2, State: types.VolumeStateDetached})
	assert.Nil(t, resp)

	resp = applyCommand(t, fsm, opCreateVolume, &types.Volume{Name: "vol1"})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, errdefs.ErrNameConflict)

	resp = applyCommand(t, fsm, opUpdateVolume, &types.Volume{Name: "missing"})
	err, ok = resp.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	resp = applyCommand(t, fsm, opPutSetting, &types.Setting{Name: types.SettingBackupTarget, Value: "vfs:///var/backups"})
	assert.Nil(t, resp)

	setting, err := fsm.store.GetSetting(types.SettingBackupTarget)
	require.NoError(t, err)
	assert.Equal(t, "vfs:///var/backups", setting.Value)

	resp = fsm.Apply(&raft.Log{Index: 7, Data: []byte(`{"op":"drop_tables"}`)})
	_, ok = resp.(error)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), fsm.AppliedIndex(), "failed commands still advance the applied index")
}

func TestFSMSnapshotRestore(t *testing.T) {
	src := newTestFSM(t)
	applyCommand(t, src, opCreateHost, &types.Host{UUID: "host-1", Status: types.HostStatusReady})
	applyCommand(t, src, opCreateVolume, &types.Volume{Name: "vol1", Size: 1 << 20, NumberOfReplicas: 1})
	applyCommand(t, src, opPutSnapshotChain, &types.SnapshotChain{
		VolumeName: "vol1",
		Head:       "snap1",
		Snapshots: map[string]*types.Snapshot{
			"snap1": {Name: "snap1", Children: map[string]bool{types.VolumeHead: true}, Created: time.Now().UTC()},
		},
	})

	snap, err := src.Snapshot()
	require.NoError(t, err)

	sink := &memSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	dst := newTestFSM(t)
	applyCommand(t, dst, opCreateVolume, &types.Volume{Name: "stale"})

	require.NoError(t, dst.Restore(io.NopCloser(&sink.Buffer)))

	_, err = dst.store.GetVolume("stale")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	hosts, err := dst.store.ListHosts()
	require.NoError(t, err)
	assert.Len(t, hosts, 1)

	chain, err := dst.store.GetSnapshotChain("vol1")
	require.NoError(t, err)
	assert.Equal(t, "snap1", chain.Head)
	assert.True(t, chain.Snapshots["snap1"].Children[types.VolumeHead])
}
