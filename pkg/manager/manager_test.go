package manager

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, id string) (*Manager, *raft.InmemTransport) {
	t.Helper()
	addr, transport := raft.NewInmemTransport("")
	mgr, err := NewManager(&Config{
		NodeID:    id,
		BindAddr:  string(addr),
		APIAddr:   fmt.Sprintf("%s.api:9500", id),
		DataDir:   t.TempDir(),
		LogOutput: io.Discard,
		Transport: transport,
		InMemory:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })
	return mgr, transport
}

func bootstrapTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, _ := newTestManager(t, "host-1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, mgr.Bootstrap(ctx))
	return mgr
}

func TestBootstrapRegistersHost(t *testing.T) {
	mgr := bootstrapTestManager(t)

	assert.True(t, mgr.IsLeader())

	hosts, err := mgr.ListHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-1", hosts[0].UUID)
	assert.Equal(t, "host-1.api:9500", hosts[0].Address)
	assert.Equal(t, types.HostStatusReady, hosts[0].Status)

	apiAddr, err := mgr.LeaderAPIAddr()
	require.NoError(t, err)
	assert.Equal(t, "host-1.api:9500", apiAddr)
}

func TestSettings(t *testing.T) {
	mgr := bootstrapTestManager(t)

	settings, err := mgr.ListSettings()
	require.NoError(t, err)
	require.Len(t, settings, 3)
	assert.Equal(t, types.SettingBackupTarget, settings[0].Name)
	assert.Equal(t, "", settings[0].Value)
	assert.Equal(t, DefaultEngineImage, settings[1].Value)

	_, err = mgr.PutSetting(types.SettingBackupTarget, "vfs:///var/lib/burrow-backups")
	require.NoError(t, err)

	setting, err := mgr.GetSetting(types.SettingBackupTarget)
	require.NoError(t, err)
	assert.Equal(t, "vfs:///var/lib/burrow-backups", setting.Value)

	_, err = mgr.PutSetting("replicaTimeout", "5")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = mgr.GetSetting("replicaTimeout")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestVolumeRecords(t *testing.T) {
	mgr := bootstrapTestManager(t)

	vol := &types.Volume{Name: "vol1", Size: 1 << 30, NumberOfReplicas: 2, State: types.VolumeStateDetached}
	require.NoError(t, mgr.CreateVolume(vol))

	err := mgr.CreateVolume(&types.Volume{Name: "vol1"})
	assert.ErrorIs(t, err, errdefs.ErrNameConflict)

	chain, err := mgr.GetSnapshotChain("vol1")
	require.NoError(t, err)
	assert.Empty(t, chain.Snapshots)

	vol.State = types.VolumeStateAttaching
	require.NoError(t, mgr.UpdateVolume(vol))

	got, err := mgr.GetVolume("vol1")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateAttaching, got.State)

	require.NoError(t, mgr.DeleteVolume("vol1"))
	_, err = mgr.GetVolume("vol1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = mgr.GetSnapshotChain("vol1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestJoinTokensLeaderOnly(t *testing.T) {
	mgr := bootstrapTestManager(t)

	jt, err := mgr.GenerateJoinToken(time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, jt.Token)

	err = mgr.AdmitNode("host-2", "host-2.api:9500", "unreachable", "bogus")
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

// testCluster routes read index requests straight to the leader's manager
type testCluster map[string]*Manager

func (c testCluster) readIndex(ctx context.Context, leaderID string) (uint64, error) {
	leader, ok := c[leaderID]
	if !ok {
		return 0, fmt.Errorf("unknown leader %s", leaderID)
	}
	return leader.ReadIndex()
}

// newTestCluster starts three connected managers with host-1 as leader
func newTestCluster(t *testing.T) []*Manager {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cluster := testCluster{}
	var (
		managers   []*Manager
		transports []*raft.InmemTransport
	)
	for _, id := range []string{"host-1", "host-2", "host-3"} {
		addr, transport := raft.NewInmemTransport("")
		mgr, err := NewManager(&Config{
			NodeID:    id,
			BindAddr:  string(addr),
			APIAddr:   fmt.Sprintf("%s.api:9500", id),
			DataDir:   t.TempDir(),
			LogOutput: io.Discard,
			Transport: transport,
			InMemory:  true,
			ReadIndex: cluster.readIndex,
		})
		require.NoError(t, err)
		t.Cleanup(func() { mgr.Shutdown() })
		cluster[id] = mgr
		managers = append(managers, mgr)
		transports = append(transports, transport)
	}
	for _, a := range transports {
		for _, b := range transports {
			if a != b {
				a.Connect(b.LocalAddr(), b)
			}
		}
	}

	m1 := managers[0]
	require.NoError(t, m1.Bootstrap(ctx))
	for _, m := range managers[1:] {
		require.NoError(t, m.Start())
		raftAddr := string(m.transport.LocalAddr())
		require.NoError(t, m1.AddVoter(m.NodeID(), raftAddr))
		require.NoError(t, m1.RegisterHost(m.NodeID(), m.apiAddr, raftAddr))
	}
	return managers
}

func TestThreeNodeReplication(t *testing.T) {
	managers := newTestCluster(t)
	m1, m2, m3 := managers[0], managers[1], managers[2]

	_, err := m1.PutSetting(types.SettingSyslogTarget, "udp://10.0.0.9:514")
	require.NoError(t, err)

	for _, m := range []*Manager{m2, m3} {
		hosts, err := m.ListHosts()
		require.NoError(t, err)
		assert.Len(t, hosts, 3)

		s, err := m.GetSetting(types.SettingSyslogTarget)
		require.NoError(t, err)
		assert.Equal(t, "udp://10.0.0.9:514", s.Value)

		apiAddr, err := m.LeaderAPIAddr()
		require.NoError(t, err)
		assert.Equal(t, "host-1.api:9500", apiAddr)
	}

	_, err = m2.PutSetting(types.SettingSyslogTarget, "")
	assert.ErrorIs(t, err, errdefs.ErrNotLeader)

	servers, err := m1.GetClusterServers()
	require.NoError(t, err)
	assert.Len(t, servers, 3)
}

func TestFollowerReadsSeeAcknowledgedUpdates(t *testing.T) {
	managers := newTestCluster(t)
	m1 := managers[0]

	for i := 0; i < 20; i++ {
		target := fmt.Sprintf("vfs:///var/backups/%d", i)
		_, err := m1.PutSetting(types.SettingBackupTarget, target)
		require.NoError(t, err)

		vol := &types.Volume{Name: fmt.Sprintf("vol%d", i), Size: 1 << 30, NumberOfReplicas: 2, State: types.VolumeStateDetached}
		require.NoError(t, m1.CreateVolume(vol))

		for _, m := range managers[1:] {
			s, err := m.GetSetting(types.SettingBackupTarget)
			require.NoError(t, err)
			assert.Equal(t, target, s.Value, "%s read %d", m.NodeID(), i)

			got, err := m.GetVolume(vol.Name)
			require.NoError(t, err, "%s read %d", m.NodeID(), i)
			assert.Equal(t, vol.Size, got.Size)
		}
	}

	index, err := m1.ReadIndex()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, index, uint64(40))

	_, err = managers[1].ReadIndex()
	assert.ErrorIs(t, err, errdefs.ErrNotLeader)
}

func TestFollowerReadWithoutLeaderAnswer(t *testing.T) {
	managers := newTestCluster(t)
	follower := managers[1]
	follower.readIndex = func(ctx context.Context, leaderID string) (uint64, error) {
		return 0, fmt.Errorf("connection refused")
	}

	_, err := follower.GetSetting(types.SettingBackupTarget)
	assert.ErrorIs(t, err, errdefs.ErrNotLeader)
	_, err = follower.ListVolumes()
	assert.ErrorIs(t, err, errdefs.ErrNotLeader)
}

func TestMetricsCollector(t *testing.T) {
	mgr := bootstrapTestManager(t)
	require.NoError(t, mgr.CreateVolume(&types.Volume{
		Name:     "vol1",
		State:    types.VolumeStateHealthy,
		Replicas: []*types.Replica{{Name: "vol1-r-1"}, {Name: "vol1-r-2"}},
	}))

	NewMetricsCollector(mgr).collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostsTotal.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VolumesTotal.WithLabelValues("healthy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ReplicasTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RaftLeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RaftPeers))
}
