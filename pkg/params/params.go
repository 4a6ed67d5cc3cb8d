// Package params holds the request and response bodies of the REST API,
// shared by the server and the client.
package params

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/snapshot"
	"github.com/cuemby/burrow/pkg/types"
)

// APIErrorResponse is the body of every failed request
type APIErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Size is a byte count rendered as a decimal string. Requests may send it
// as a string or a number.
type Size int64

// MarshalJSON renders the size as a decimal string
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

// UnmarshalJSON accepts "1073741824" and 1073741824
func (s *Size) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		raw = strings.TrimSpace(str)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errdefs.NewInvalidArgumentError("invalid size %q: must be a decimal byte count", raw)
	}
	*s = Size(n)
	return nil
}

// Volume is the API rendering of a volume
type Volume struct {
	Name             string               `json:"name"`
	Size             Size                 `json:"size"`
	NumberOfReplicas int                  `json:"numberOfReplicas"`
	State            types.VolumeState    `json:"state"`
	EngineImage      string               `json:"engineImage"`
	Endpoint         string               `json:"endpoint"`
	Controller       *types.Controller    `json:"controller,omitempty"`
	Replicas         []*types.Replica     `json:"replicas"`
	RecurringJobs    []types.RecurringJob `json:"recurringJobs"`
	Created          time.Time            `json:"created"`
	LastError        string               `json:"lastError,omitempty"`

	// Actions lists the volume actions valid in the current state
	Actions []string `json:"actions"`
}

// NewVolume renders a volume with its valid actions
func NewVolume(v *types.Volume, actions []string) *Volume {
	replicas := v.Replicas
	if replicas == nil {
		replicas = []*types.Replica{}
	}
	jobs := v.RecurringJobs
	if jobs == nil {
		jobs = []types.RecurringJob{}
	}
	return &Volume{
		Name:             v.Name,
		Size:             Size(v.Size),
		NumberOfReplicas: v.NumberOfReplicas,
		State:            v.State,
		EngineImage:      v.EngineImage,
		Endpoint:         v.Endpoint,
		Controller:       v.Controller,
		Replicas:         replicas,
		RecurringJobs:    jobs,
		Created:          v.Created,
		LastError:        v.LastError,
		Actions:          actions,
	}
}

// Snapshot is the API rendering of a snapshot. Children are sorted.
type Snapshot struct {
	Name     string            `json:"name"`
	Parent   string            `json:"parent"`
	Children []string          `json:"children"`
	Removed  bool              `json:"removed"`
	Created  time.Time         `json:"created"`
	Labels   map[string]string `json:"labels"`
}

// NewSnapshot renders a snapshot
func NewSnapshot(s *types.Snapshot) *Snapshot {
	labels := s.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return &Snapshot{
		Name:     s.Name,
		Parent:   s.Parent,
		Children: snapshot.SortedChildren(s),
		Removed:  s.Removed,
		Created:  s.Created,
		Labels:   labels,
	}
}

// NewSnapshots renders a list of snapshots in order
func NewSnapshots(snaps []*types.Snapshot) []*Snapshot {
	out := make([]*Snapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewSnapshot(s))
	}
	return out
}

// BackupVolume is the API rendering of a backup volume
type BackupVolume struct {
	Name           string    `json:"name"`
	Size           Size      `json:"size"`
	Created        time.Time `json:"created"`
	LastBackupName string    `json:"lastBackupName"`
}

// NewBackupVolume renders a backup volume
func NewBackupVolume(bv *types.BackupVolume) *BackupVolume {
	return &BackupVolume{
		Name:           bv.Name,
		Size:           Size(bv.Size),
		Created:        bv.Created,
		LastBackupName: bv.LastBackupName,
	}
}

// Backup is the API rendering of a backup
type Backup struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	SnapshotName    string            `json:"snapshotName"`
	SnapshotCreated time.Time         `json:"snapshotCreated"`
	Created         time.Time         `json:"created"`
	VolumeName      string            `json:"volumeName"`
	VolumeSize      Size              `json:"volumeSize"`
	VolumeCreated   time.Time         `json:"volumeCreated"`
	Labels          map[string]string `json:"labels"`
}

// NewBackup renders a backup
func NewBackup(b *types.Backup) *Backup {
	labels := b.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return &Backup{
		Name:            b.Name,
		URL:             b.URL,
		SnapshotName:    b.SnapshotName,
		SnapshotCreated: b.SnapshotCreated,
		Created:         b.Created,
		VolumeName:      b.VolumeName,
		VolumeSize:      Size(b.VolumeSize),
		VolumeCreated:   b.VolumeCreated,
		Labels:          labels,
	}
}

// CreateVolumeRequest creates a volume
type CreateVolumeRequest struct {
	Name             string               `json:"name"`
	Size             Size                 `json:"size"`
	NumberOfReplicas int                  `json:"numberOfReplicas"`
	RecurringJobs    []types.RecurringJob `json:"recurringJobs,omitempty"`
	FromBackup       string               `json:"fromBackup,omitempty"`
}

// AttachRequest is the body of the attach action
type AttachRequest struct {
	HostID string `json:"hostId"`
}

// RecurringUpdateRequest is the body of the recurringUpdate action
type RecurringUpdateRequest struct {
	Jobs []types.RecurringJob `json:"jobs"`
}

// SnapshotRequest names a snapshot. It is the body of snapshotCreate,
// snapshotGet, snapshotDelete, snapshotRevert and snapshotBackup; Labels is
// only read by snapshotCreate and snapshotBackup.
type SnapshotRequest struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

// PurgeResponse lists the snapshots a purge dropped
type PurgeResponse struct {
	Purged []string `json:"purged"`
}

// BackupRequest names a backup of a backup volume
type BackupRequest struct {
	Name string `json:"name"`
}

// SettingUpdateRequest sets a setting
type SettingUpdateRequest struct {
	Value string `json:"value"`
}

// TokenRequest asks the leader for a join token
type TokenRequest struct {
	TTL string `json:"ttl,omitempty"`
}

// TokenResponse carries a join token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JoinRequest admits a new manager node
type JoinRequest struct {
	UUID        string `json:"uuid"`
	Address     string `json:"address"`
	RaftAddress string `json:"raftAddress"`
	Token       string `json:"token"`
}

// ReadIndexResponse carries the index a follower must apply before it
// answers a read
type ReadIndexResponse struct {
	Index uint64 `json:"index"`
}

// ClusterServer is one raft member
type ClusterServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
	Leader   bool   `json:"leader"`
}

// ClusterInfo describes the raft cluster as seen by the answering node
type ClusterInfo struct {
	NodeID       string           `json:"nodeId"`
	State        string           `json:"state"`
	LeaderID     string           `json:"leaderId"`
	LastIndex    uint64           `json:"lastIndex"`
	AppliedIndex uint64           `json:"appliedIndex"`
	Servers      []*ClusterServer `json:"servers"`
}
