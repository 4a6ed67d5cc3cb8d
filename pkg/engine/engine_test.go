package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVolume() (*types.Volume, []*types.Replica) {
	replicas := []*types.Replica{
		{Name: "vol1-r-aaaa", HostID: "host-1", VolumeName: "vol1"},
		{Name: "vol1-r-bbbb", HostID: "host-2", VolumeName: "vol1"},
	}
	return &types.Volume{Name: "vol1", Size: 4096, NumberOfReplicas: 2, Replicas: replicas}, replicas
}

func TestSimLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	vol, replicas := testVolume()

	var addrs []string
	for _, r := range replicas {
		require.NoError(t, sim.CreateReplica(ctx, r, vol.Size, "engine:test"))
		addr, err := sim.StartReplica(ctx, r)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	assert.True(t, sim.ReplicaRunning("vol1-r-aaaa"))

	_, err := sim.StartController(ctx, vol, "host-2", addrs)
	require.NoError(t, err)
	vol.Controller = &types.Controller{HostID: "host-2"}
	host, ok := sim.ControllerHost("vol1")
	require.True(t, ok)
	assert.Equal(t, "host-2", host)
	assert.NoError(t, sim.ControllerHealthy(ctx, vol))

	require.NoError(t, sim.SnapshotCreate(ctx, vol, "snap1", nil))
	assert.Equal(t, []string{"snap1"}, sim.Snapshots("vol1"))
	assert.Error(t, sim.SnapshotRevert(ctx, vol, "missing"))

	rc, err := sim.ExportSnapshot(ctx, replicas[0], "snap1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, SimSnapshotData("vol1", "snap1"), data)

	sim.SetControllerHealthy("vol1", false)
	assert.Error(t, sim.ControllerHealthy(ctx, vol))

	require.NoError(t, sim.StopController(ctx, vol))
	assert.Error(t, sim.SnapshotCreate(ctx, vol, "snap2", nil))

	for _, r := range replicas {
		require.NoError(t, sim.StopReplica(ctx, r))
		require.NoError(t, sim.DeleteReplica(ctx, r))
	}
	assert.False(t, sim.ReplicaExists("vol1-r-aaaa"))
	assert.Empty(t, sim.Snapshots("vol1"))
}

func TestSimFailNext(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	_, replicas := testVolume()
	boom := errors.New("boom")

	sim.FailNext(OpCreateReplica, 2, boom)
	assert.ErrorIs(t, sim.CreateReplica(ctx, replicas[0], 1, ""), boom)
	assert.ErrorIs(t, sim.CreateReplica(ctx, replicas[0], 1, ""), boom)
	assert.NoError(t, sim.CreateReplica(ctx, replicas[0], 1, ""))

	assert.Equal(t, []string{OpCreateReplica, OpCreateReplica, OpCreateReplica}, sim.Calls())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	_, replicas := testVolume()

	_, err := Dispatch(ctx, sim, "format", &Request{})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = Dispatch(ctx, sim, OpStartReplica, &Request{})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = Dispatch(ctx, sim, OpCreateReplica, &Request{Replica: replicas[0], Size: 1024})
	require.NoError(t, err)

	resp, err := Dispatch(ctx, sim, OpStartReplica, &Request{Replica: replicas[0]})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Address)
}

type hostMap map[string]*types.Host

func (h hostMap) GetHost(uuid string) (*types.Host, error) {
	host, ok := h[uuid]
	if !ok {
		return nil, errdefs.NewNotFoundError("host %s not found", uuid)
	}
	return host, nil
}

// relayServer serves /v1/engine/{op} from a local engine
func relayServer(t *testing.T, e Engine) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := strings.TrimPrefix(r.URL.Path, "/v1/engine/")
		if op == "import" {
			meta, _ := base64.StdEncoding.DecodeString(r.Header.Get(VolumeHeader))
			var vol types.Volume
			if err := json.Unmarshal(meta, &vol); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if err := e.ImportVolume(r.Context(), &vol, r.Body); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(relayError{Error: "failed", Details: err.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(&Response{})
			return
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if op == "export" {
			rc, err := e.ExportSnapshot(r.Context(), req.Replica, req.Snapshot)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(relayError{Error: "Not Found", Details: err.Error()})
				return
			}
			defer rc.Close()
			_, _ = io.Copy(w, rc)
			return
		}

		resp, err := Dispatch(r.Context(), e, op, &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, errdefs.ErrNotFound) {
				status = http.StatusNotFound
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(relayError{Error: "failed", Details: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRouterRelaysToRemoteHosts(t *testing.T) {
	ctx := context.Background()
	local := NewSim()
	remote := NewSim()
	server := relayServer(t, remote)

	hosts := hostMap{
		"host-1": {UUID: "host-1", Address: "127.0.0.1:1"},
		"host-2": {UUID: "host-2", Address: strings.TrimPrefix(server.URL, "http://")},
	}
	router := NewRouter("host-1", local, hosts)
	assert.Same(t, local, router.Local())

	vol, replicas := testVolume()
	for _, r := range replicas {
		require.NoError(t, router.CreateReplica(ctx, r, vol.Size, "engine:test"))
	}
	assert.True(t, local.ReplicaExists("vol1-r-aaaa"))
	assert.False(t, local.ReplicaExists("vol1-r-bbbb"))
	assert.True(t, remote.ReplicaExists("vol1-r-bbbb"))

	addr, err := router.StartReplica(ctx, replicas[1])
	require.NoError(t, err)

	_, err = router.StartController(ctx, vol, "host-2", []string{addr})
	require.NoError(t, err)
	vol.Controller = &types.Controller{HostID: "host-2"}

	require.NoError(t, router.SnapshotCreate(ctx, vol, "snap1", map[string]string{"k": "v"}))
	assert.Equal(t, []string{"snap1"}, remote.Snapshots("vol1"))

	rc, err := router.ExportSnapshot(ctx, replicas[1], "snap1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, SimSnapshotData("vol1", "snap1"), data)

	_, err = router.ExportSnapshot(ctx, replicas[1], "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	require.NoError(t, router.ImportVolume(ctx, vol, bytes.NewReader(data)))
	assert.Equal(t, data, remote.Imported("vol1"))
	assert.Empty(t, local.Imported("vol1"))

	remote.FailNext(OpImportVolume, 1, errors.New("device busy"))
	err = router.ImportVolume(ctx, vol, strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")

	err = router.CreateReplica(ctx, &types.Replica{Name: "x", HostID: "host-9"}, 1, "")
	assert.ErrorIs(t, err, errdefs.ErrHostUnknown)

	err = router.SnapshotPurge(ctx, &types.Volume{Name: "detached"})
	assert.ErrorIs(t, err, errdefs.ErrAttachConflict)
}
