package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	leader   bool
	hosts    map[string]*types.Host
	volumes  []*types.Volume
	received []events.EventType
}

func (f *fakeCluster) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeCluster) NodeID() string { return "host-a" }

func (f *fakeCluster) ListHosts() ([]*types.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Host
	for _, h := range f.hosts {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCluster) UpdateHost(host *types.Host) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *host
	f.hosts[host.UUID] = &cp
	return nil
}

func (f *fakeCluster) ListVolumes() ([]*types.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes, nil
}

func (f *fakeCluster) PublishEvent(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, event.Type)
}

func (f *fakeCluster) status(id string) types.HostStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts[id].Status
}

type fakeVolumes struct {
	mu      sync.Mutex
	faulted map[string]string
	syncs   int
}

func (f *fakeVolumes) MarkFaulted(ctx context.Context, name string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faulted[name] = cause.Error()
	return nil
}

func (f *fakeVolumes) SyncRecurring() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

func newTestReconciler(t *testing.T, cluster *fakeCluster, eng engine.Engine) (*Reconciler, *fakeVolumes) {
	volumes := &fakeVolumes{faulted: make(map[string]string)}
	r := NewReconciler(cluster, eng, volumes, Config{
		Interval: time.Hour,
		Health:   health.Config{Timeout: time.Second, Retries: 2},
	})
	return r, volumes
}

func TestReconcileHosts(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer up.Close()

	var mu sync.Mutex
	failing := true
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer flaky.Close()

	cluster := &fakeCluster{
		leader: true,
		hosts: map[string]*types.Host{
			"host-a": {UUID: "host-a", Address: "127.0.0.1:1", Status: types.HostStatusReady},
			"host-b": {UUID: "host-b", Address: strings.TrimPrefix(up.URL, "http://"), Status: types.HostStatusReady},
			"host-c": {UUID: "host-c", Address: strings.TrimPrefix(flaky.URL, "http://"), Status: types.HostStatusReady},
		},
	}
	r, volumes := newTestReconciler(t, cluster, engine.NewSim())
	ctx := context.Background()

	require.NoError(t, r.reconcile(ctx))
	assert.Equal(t, types.HostStatusReady, cluster.status("host-c"), "one failure is tolerated")

	require.NoError(t, r.reconcile(ctx))
	assert.Equal(t, types.HostStatusDown, cluster.status("host-c"))
	assert.Equal(t, types.HostStatusReady, cluster.status("host-b"))
	assert.Equal(t, types.HostStatusReady, cluster.status("host-a"), "the local host is not checked")

	mu.Lock()
	failing = false
	mu.Unlock()

	require.NoError(t, r.reconcile(ctx))
	assert.Equal(t, types.HostStatusReady, cluster.status("host-c"))

	assert.Contains(t, cluster.received, events.EventHostDown)
	assert.Contains(t, cluster.received, events.EventHostUp)
	assert.Equal(t, 3, volumes.syncs)
}

func TestReconcileControllers(t *testing.T) {
	ctx := context.Background()
	sim := engine.NewSim()

	healthy := &types.Volume{
		Name:       "vol1",
		State:      types.VolumeStateHealthy,
		Controller: &types.Controller{HostID: "host-a"},
	}
	lost := &types.Volume{
		Name:       "vol2",
		State:      types.VolumeStateHealthy,
		Controller: &types.Controller{HostID: "host-a"},
	}
	detached := &types.Volume{Name: "vol3", State: types.VolumeStateDetached}

	_, err := sim.StartController(ctx, healthy, "host-a", []string{"r1"})
	require.NoError(t, err)
	_, err = sim.StartController(ctx, lost, "host-a", []string{"r2"})
	require.NoError(t, err)
	sim.SetControllerHealthy("vol2", false)

	cluster := &fakeCluster{
		leader:  true,
		hosts:   map[string]*types.Host{},
		volumes: []*types.Volume{healthy, lost, detached},
	}
	r, volumes := newTestReconciler(t, cluster, sim)

	require.NoError(t, r.reconcile(ctx))
	assert.Empty(t, volumes.faulted)

	require.NoError(t, r.reconcile(ctx))
	require.Len(t, volumes.faulted, 1)
	assert.Contains(t, volumes.faulted["vol2"], "not responding")
}

func TestReconcileFollowerIsIdle(t *testing.T) {
	cluster := &fakeCluster{
		hosts: map[string]*types.Host{
			"host-b": {UUID: "host-b", Address: "127.0.0.1:1", Status: types.HostStatusReady},
		},
	}
	r, volumes := newTestReconciler(t, cluster, engine.NewSim())
	checked := false
	r.checkHost = func(ctx context.Context, host *types.Host) health.Result {
		checked = true
		return health.Result{}
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, r.reconcile(context.Background()))
	}
	assert.False(t, checked)
	assert.Equal(t, types.HostStatusReady, cluster.status("host-b"))
	assert.Zero(t, volumes.syncs)
}

func TestStartStop(t *testing.T) {
	cluster := &fakeCluster{leader: true, hosts: map[string]*types.Host{}}
	volumes := &fakeVolumes{faulted: make(map[string]string)}
	r := NewReconciler(cluster, engine.NewSim(), volumes, Config{Interval: 5 * time.Millisecond})
	r.Start()

	require.Eventually(t, func() bool {
		volumes.mu.Lock()
		defer volumes.mu.Unlock()
		return volumes.syncs > 0
	}, time.Second, 5*time.Millisecond)

	r.Stop()
}
