package client

import (
	"context"
	"net/url"

	"github.com/cuemby/burrow/pkg/params"
	"github.com/cuemby/burrow/pkg/types"
)

func volumePath(name string) string {
	return "/v1/volumes/" + url.PathEscape(name)
}

func backupVolumePath(name string) string {
	return "/v1/backupvolumes/" + url.PathEscape(name)
}

// ClusterInfo describes the raft cluster as seen by the node
func (c *Client) ClusterInfo(ctx context.Context) (*params.ClusterInfo, error) {
	info := &params.ClusterInfo{}
	if err := c.do(ctx, "GET", "/v1/cluster", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// CreateToken asks the leader for a join token valid for ttl, a Go duration
// string. An empty ttl uses the server default.
func (c *Client) CreateToken(ctx context.Context, ttl string) (*params.TokenResponse, error) {
	token := &params.TokenResponse{}
	if err := c.do(ctx, "POST", "/v1/cluster/tokens", &params.TokenRequest{TTL: ttl}, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ReadIndex asks the leader for the index of the last update it applied.
// Fails with a 503 StatusError on a node that is not the leader.
func (c *Client) ReadIndex(ctx context.Context) (uint64, error) {
	resp := &params.ReadIndexResponse{}
	if err := c.do(ctx, "GET", "/v1/cluster/readindex", nil, resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

// JoinCluster asks the leader to admit a manager node
func (c *Client) JoinCluster(ctx context.Context, req *JoinRequest) error {
	return c.do(ctx, "POST", "/v1/cluster/join", req, nil)
}

// ListHosts returns every registered host
func (c *Client) ListHosts(ctx context.Context) ([]*types.Host, error) {
	var hosts []*types.Host
	if err := c.do(ctx, "GET", "/v1/hosts", nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetHost returns one host
func (c *Client) GetHost(ctx context.Context, id string) (*types.Host, error) {
	host := &types.Host{}
	if err := c.do(ctx, "GET", "/v1/hosts/"+url.PathEscape(id), nil, host); err != nil {
		return nil, err
	}
	return host, nil
}

// ListSettings returns every known setting
func (c *Client) ListSettings(ctx context.Context) ([]*types.Setting, error) {
	var settings []*types.Setting
	if err := c.do(ctx, "GET", "/v1/settings", nil, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// GetSetting returns one setting
func (c *Client) GetSetting(ctx context.Context, name string) (*types.Setting, error) {
	setting := &types.Setting{}
	if err := c.do(ctx, "GET", "/v1/settings/"+url.PathEscape(name), nil, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// UpdateSetting sets a setting
func (c *Client) UpdateSetting(ctx context.Context, name, value string) (*types.Setting, error) {
	setting := &types.Setting{}
	err := c.do(ctx, "PUT", "/v1/settings/"+url.PathEscape(name), &params.SettingUpdateRequest{Value: value}, setting)
	if err != nil {
		return nil, err
	}
	return setting, nil
}

// ListVolumes returns every volume
func (c *Client) ListVolumes(ctx context.Context) ([]*params.Volume, error) {
	var volumes []*params.Volume
	if err := c.do(ctx, "GET", "/v1/volumes", nil, &volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

// GetVolume returns one volume
func (c *Client) GetVolume(ctx context.Context, name string) (*params.Volume, error) {
	return c.volumeCall(ctx, "GET", volumePath(name), nil)
}

// CreateVolume creates a volume
func (c *Client) CreateVolume(ctx context.Context, req *params.CreateVolumeRequest) (*params.Volume, error) {
	return c.volumeCall(ctx, "POST", "/v1/volumes", req)
}

// DeleteVolume deletes a detached volume
func (c *Client) DeleteVolume(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", volumePath(name), nil, nil)
}

// AttachVolume starts the volume's controller on hostID
func (c *Client) AttachVolume(ctx context.Context, name, hostID string) (*params.Volume, error) {
	return c.volumeCall(ctx, "POST", volumePath(name)+"/attach", &params.AttachRequest{HostID: hostID})
}

// DetachVolume stops the volume's controller and replicas
func (c *Client) DetachVolume(ctx context.Context, name string) (*params.Volume, error) {
	return c.volumeCall(ctx, "POST", volumePath(name)+"/detach", nil)
}

// UpdateRecurring replaces the recurring jobs of a volume
func (c *Client) UpdateRecurring(ctx context.Context, name string, jobs []types.RecurringJob) (*params.Volume, error) {
	if jobs == nil {
		jobs = []types.RecurringJob{}
	}
	return c.volumeCall(ctx, "POST", volumePath(name)+"/recurringUpdate", &params.RecurringUpdateRequest{Jobs: jobs})
}

func (c *Client) volumeCall(ctx context.Context, method, path string, body interface{}) (*params.Volume, error) {
	v := &params.Volume{}
	if err := c.do(ctx, method, path, body, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateSnapshot takes a snapshot. An empty snapName lets the server pick one.
func (c *Client) CreateSnapshot(ctx context.Context, name, snapName string, labels map[string]string) (*params.Snapshot, error) {
	snap := &params.Snapshot{}
	err := c.do(ctx, "POST", volumePath(name)+"/snapshotCreate", &params.SnapshotRequest{Name: snapName, Labels: labels}, snap)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns the snapshots of a volume
func (c *Client) ListSnapshots(ctx context.Context, name string) ([]*params.Snapshot, error) {
	return c.snapshotsCall(ctx, name, "snapshotList", nil)
}

// GetSnapshot returns one snapshot of a volume
func (c *Client) GetSnapshot(ctx context.Context, name, snapName string) (*params.Snapshot, error) {
	snap := &params.Snapshot{}
	if err := c.do(ctx, "POST", volumePath(name)+"/snapshotGet", &params.SnapshotRequest{Name: snapName}, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// DeleteSnapshot marks a snapshot removed and returns the remaining chain
func (c *Client) DeleteSnapshot(ctx context.Context, name, snapName string) ([]*params.Snapshot, error) {
	return c.snapshotsCall(ctx, name, "snapshotDelete", &params.SnapshotRequest{Name: snapName})
}

// RevertSnapshot moves the volume head onto a snapshot and returns the chain
func (c *Client) RevertSnapshot(ctx context.Context, name, snapName string) ([]*params.Snapshot, error) {
	return c.snapshotsCall(ctx, name, "snapshotRevert", &params.SnapshotRequest{Name: snapName})
}

func (c *Client) snapshotsCall(ctx context.Context, name, action string, body interface{}) ([]*params.Snapshot, error) {
	var snaps []*params.Snapshot
	if err := c.do(ctx, "POST", volumePath(name)+"/"+action, body, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// PurgeSnapshots drops removed snapshots and returns their names
func (c *Client) PurgeSnapshots(ctx context.Context, name string) ([]string, error) {
	resp := &params.PurgeResponse{}
	if err := c.do(ctx, "POST", volumePath(name)+"/snapshotPurge", nil, resp); err != nil {
		return nil, err
	}
	return resp.Purged, nil
}

// BackupSnapshot queues a backup of a snapshot and returns the queued task
func (c *Client) BackupSnapshot(ctx context.Context, name, snapName string, labels map[string]string) (*types.BgTask, error) {
	task := &types.BgTask{}
	err := c.do(ctx, "POST", volumePath(name)+"/snapshotBackup", &params.SnapshotRequest{Name: snapName, Labels: labels}, task)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// BgTaskQueue returns the background tasks of a volume
func (c *Client) BgTaskQueue(ctx context.Context, name string) ([]types.BgTask, error) {
	var tasks []types.BgTask
	if err := c.do(ctx, "POST", volumePath(name)+"/bgTaskQueue", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListBackupVolumes returns the volumes present in the backup target
func (c *Client) ListBackupVolumes(ctx context.Context) ([]*params.BackupVolume, error) {
	var volumes []*params.BackupVolume
	if err := c.do(ctx, "GET", "/v1/backupvolumes", nil, &volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

// GetBackupVolume returns one backup volume
func (c *Client) GetBackupVolume(ctx context.Context, name string) (*params.BackupVolume, error) {
	bv := &params.BackupVolume{}
	if err := c.do(ctx, "GET", backupVolumePath(name), nil, bv); err != nil {
		return nil, err
	}
	return bv, nil
}

// ListBackups returns the backups of a volume
func (c *Client) ListBackups(ctx context.Context, volume string) ([]*params.Backup, error) {
	var backups []*params.Backup
	if err := c.do(ctx, "POST", backupVolumePath(volume)+"/backupList", nil, &backups); err != nil {
		return nil, err
	}
	return backups, nil
}

// GetBackup returns one backup of a volume
func (c *Client) GetBackup(ctx context.Context, volume, name string) (*params.Backup, error) {
	b := &params.Backup{}
	if err := c.do(ctx, "POST", backupVolumePath(volume)+"/backupGet", &params.BackupRequest{Name: name}, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBackup removes a backup from the backup target
func (c *Client) DeleteBackup(ctx context.Context, volume, name string) error {
	return c.do(ctx, "POST", backupVolumePath(volume)+"/backupDelete", &params.BackupRequest{Name: name}, nil)
}
