package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
}

func (r *recorded) get() (string, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.method, r.path, r.body
}

// fakeAPI answers every request with status and reply, recording the request
func fakeAPI(t *testing.T, status int, reply interface{}) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.method, rec.path, rec.body = r.Method, r.URL.EscapedPath(), string(body)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://")), rec
}

func TestNewClientAddress(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:9500", NewClient("10.0.0.1:9500").baseURL)
	assert.Equal(t, "https://burrow.example.com", NewClient("https://burrow.example.com/").baseURL)
}

func TestRequests(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
		body   string
	}{
		{"cluster info", func(c *Client) error { _, err := c.ClusterInfo(ctx); return err },
			"GET", "/v1/cluster", ""},
		{"token", func(c *Client) error { _, err := c.CreateToken(ctx, "1h"); return err },
			"POST", "/v1/cluster/tokens", `{"ttl":"1h"}`},
		{"join", func(c *Client) error {
			return c.JoinCluster(ctx, &JoinRequest{UUID: "host-2", Address: "a:1", RaftAddress: "a:2", Token: "t"})
		}, "POST", "/v1/cluster/join", `{"uuid":"host-2","address":"a:1","raftAddress":"a:2","token":"t"}`},
		{"get host", func(c *Client) error { _, err := c.GetHost(ctx, "host-1"); return err },
			"GET", "/v1/hosts/host-1", ""},
		{"set setting", func(c *Client) error { _, err := c.UpdateSetting(ctx, "backupTarget", "vfs:///b"); return err },
			"PUT", "/v1/settings/backupTarget", `{"value":"vfs:///b"}`},
		{"create volume", func(c *Client) error {
			_, err := c.CreateVolume(ctx, &params.CreateVolumeRequest{Name: "vol1", Size: 1024, NumberOfReplicas: 2})
			return err
		}, "POST", "/v1/volumes", `{"name":"vol1","size":"1024","numberOfReplicas":2}`},
		{"delete volume", func(c *Client) error { return c.DeleteVolume(ctx, "vol1") },
			"DELETE", "/v1/volumes/vol1", ""},
		{"attach", func(c *Client) error { _, err := c.AttachVolume(ctx, "vol1", "host-1"); return err },
			"POST", "/v1/volumes/vol1/attach", `{"hostId":"host-1"}`},
		{"recurring", func(c *Client) error { _, err := c.UpdateRecurring(ctx, "vol1", nil); return err },
			"POST", "/v1/volumes/vol1/recurringUpdate", `{"jobs":[]}`},
		{"snapshot create", func(c *Client) error { _, err := c.CreateSnapshot(ctx, "vol1", "", nil); return err },
			"POST", "/v1/volumes/vol1/snapshotCreate", `{"name":""}`},
		{"snapshot revert", func(c *Client) error { _, err := c.RevertSnapshot(ctx, "vol1", "snap2"); return err },
			"POST", "/v1/volumes/vol1/snapshotRevert", `{"name":"snap2"}`},
		{"snapshot backup", func(c *Client) error { _, err := c.BackupSnapshot(ctx, "vol1", "snap2", nil); return err },
			"POST", "/v1/volumes/vol1/snapshotBackup", `{"name":"snap2"}`},
		{"backup get", func(c *Client) error { _, err := c.GetBackup(ctx, "vol1", "backup-1"); return err },
			"POST", "/v1/backupvolumes/vol1/backupGet", `{"name":"backup-1"}`},
		{"backup delete", func(c *Client) error { return c.DeleteBackup(ctx, "vol1", "backup-1") },
			"POST", "/v1/backupvolumes/vol1/backupDelete", `{"name":"backup-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := fakeAPI(t, http.StatusOK, map[string]interface{}{})
			require.NoError(t, tt.call(c))
			method, path, body := rec.get()
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.path, path)
			if tt.body == "" {
				assert.Empty(t, body)
			} else {
				assert.JSONEq(t, tt.body, body)
			}
		})
	}
}

func TestDecodesResponses(t *testing.T) {
	ctx := context.Background()

	c, _ := fakeAPI(t, http.StatusOK, []map[string]interface{}{
		{"name": "vol1", "size": "1073741824", "state": "healthy", "actions": []string{"detach"}},
	})
	volumes, err := c.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, params.Size(1<<30), volumes[0].Size)
	assert.Equal(t, types.VolumeStateHealthy, volumes[0].State)

	c, _ = fakeAPI(t, http.StatusOK, params.PurgeResponse{Purged: []string{"snap1", "snap3"}})
	purged, err := c.PurgeSnapshots(ctx, "vol1")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap1", "snap3"}, purged)

	c, _ = fakeAPI(t, http.StatusNoContent, nil)
	assert.NoError(t, c.DeleteVolume(ctx, "vol1"))
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		is     []error
		isNot  error
	}{
		{http.StatusNotFound, []error{errdefs.ErrNotFound}, errdefs.ErrNameConflict},
		{http.StatusConflict, []error{errdefs.ErrNameConflict, errdefs.ErrAttachConflict}, errdefs.ErrNotFound},
		{http.StatusBadRequest, []error{errdefs.ErrInvalidArgument, errdefs.ErrHostUnknown}, errdefs.ErrNotLeader},
		{http.StatusServiceUnavailable, []error{errdefs.ErrNotLeader, errdefs.ErrInsufficientHosts}, errdefs.ErrNoBackupTarget},
		{http.StatusPreconditionFailed, []error{errdefs.ErrNoBackupTarget}, errdefs.ErrInvalidArgument},
		{http.StatusInternalServerError, nil, errdefs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := fakeAPI(t, tt.status, params.APIErrorResponse{Error: "x", Details: "volume vol1: boom"})
			_, err := c.GetVolume(context.Background(), "vol1")
			require.Error(t, err)
			assert.Equal(t, "volume vol1: boom", err.Error())

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			for _, target := range tt.is {
				assert.True(t, errors.Is(err, target), "%v", target)
			}
			assert.False(t, errors.Is(err, tt.isNot))
		})
	}
}
