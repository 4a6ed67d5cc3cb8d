package types

import (
	"encoding/json"
	"time"
)

// Host represents a manager node that can run replicas and controllers
type Host struct {
	UUID        string     `json:"uuid"`
	Address     string     `json:"address"`     // API address (host:port)
	RaftAddress string     `json:"raftAddress"` // Raft transport address
	Status      HostStatus `json:"status"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LastSeen    time.Time  `json:"lastSeen"`
}

// HostStatus represents the liveness of a host as seen by the leader
type HostStatus string

const (
	HostStatusReady HostStatus = "ready"
	HostStatusDown  HostStatus = "down"
)

// Setting is a cluster-wide key/value pair
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Known setting names
const (
	SettingBackupTarget = "backupTarget"
	SettingEngineImage  = "engineImage"
	SettingSyslogTarget = "syslogTarget"
)

// KnownSettings lists every recognized setting name in display order
var KnownSettings = []string{
	SettingBackupTarget,
	SettingEngineImage,
	SettingSyslogTarget,
}

// IsKnownSetting reports whether name is a recognized setting
func IsKnownSetting(name string) bool {
	for _, s := range KnownSettings {
		if s == name {
			return true
		}
	}
	return false
}

// Volume is a replicated block device
type Volume struct {
	Name             string         `json:"name"`
	Size             int64          `json:"size"`
	NumberOfReplicas int            `json:"numberOfReplicas"`
	State            VolumeState    `json:"state"`
	EngineImage      string         `json:"engineImage"`
	Endpoint         string         `json:"endpoint,omitempty"`
	Controller       *Controller    `json:"controller,omitempty"`
	Replicas         []*Replica     `json:"replicas"`
	RecurringJobs    []RecurringJob `json:"recurringJobs"`
	Created          time.Time      `json:"created"`
	LastError        string         `json:"lastError,omitempty"`
}

// VolumeState represents the lifecycle state of a volume
type VolumeState string

const (
	VolumeStateDetached  VolumeState = "detached"
	VolumeStateAttaching VolumeState = "attaching"
	VolumeStateHealthy   VolumeState = "healthy"
	VolumeStateFaulted   VolumeState = "faulted"
	VolumeStateDetaching VolumeState = "detaching"
)

// Controller is the frontend process that exposes a volume as a block device
type Controller struct {
	HostID  string `json:"hostId"`
	Address string `json:"address,omitempty"`
}

// Replica is one copy of a volume's data, pinned to a host
type Replica struct {
	Name       string `json:"name"`
	HostID     string `json:"hostId"`
	VolumeName string `json:"volumeName"`
	Address    string `json:"address,omitempty"`
	Running    bool   `json:"running"`
}

// ReplicaHosts returns the host IDs of the volume's replicas in order
func (v *Volume) ReplicaHosts() []string {
	hosts := make([]string, 0, len(v.Replicas))
	for _, r := range v.Replicas {
		hosts = append(hosts, r.HostID)
	}
	return hosts
}

// Attached reports whether the volume has a running controller
func (v *Volume) Attached() bool {
	return v.Controller != nil && v.State != VolumeStateDetached
}

// RecurringJob is a cron-scheduled snapshot or backup of a volume
type RecurringJob struct {
	Name   string        `json:"name"`
	Cron   string        `json:"cron"`
	Task   RecurringTask `json:"task"`
	Retain int           `json:"retain,omitempty"`
}

// RecurringTask is the kind of work a recurring job performs
type RecurringTask string

const (
	RecurringTaskSnapshot RecurringTask = "snapshot"
	RecurringTaskBackup   RecurringTask = "backup"
)

// VolumeHead is the sentinel child name marking the live write head of a volume
const VolumeHead = "volume-head"

// Snapshot is a point-in-time node of a volume's snapshot tree
type Snapshot struct {
	Name     string            `json:"name"`
	Parent   string            `json:"parent"`
	Children map[string]bool   `json:"children"`
	Removed  bool              `json:"removed"`
	Created  time.Time         `json:"created"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// SnapshotChain is the snapshot tree of one volume, keyed by snapshot name.
// Head names the snapshot that is the parent of the volume head, or is empty
// when the volume head has no parent.
type SnapshotChain struct {
	VolumeName string               `json:"volumeName"`
	Head       string               `json:"head"`
	Snapshots  map[string]*Snapshot `json:"snapshots"`
}

// LabelRecurringJob marks snapshots and backups created by a recurring job
const LabelRecurringJob = "RecurringJob"

// BackupVolume groups the backups of one volume in the backup store
type BackupVolume struct {
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	Created        time.Time `json:"created"`
	LastBackupName string    `json:"lastBackupName,omitempty"`
}

// Backup is a snapshot copied to the backup store
type Backup struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	SnapshotName    string            `json:"snapshotName"`
	SnapshotCreated time.Time         `json:"snapshotCreated"`
	Created         time.Time         `json:"created"`
	VolumeName      string            `json:"volumeName"`
	VolumeSize      int64             `json:"volumeSize"`
	VolumeCreated   time.Time         `json:"volumeCreated"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// BgTask is one asynchronous operation queued against a volume
type BgTask struct {
	Num         int64      `json:"num"`
	VolumeName  string     `json:"volumeName"`
	Description string     `json:"description"`
	Created     time.Time  `json:"created"`
	Finished    *time.Time `json:"finished"`
	Err         *string    `json:"err"`
}

// Done reports whether the task has finished
func (t *BgTask) Done() bool {
	return t.Finished != nil
}

type bgTaskJSON BgTask

// MarshalJSON encodes the finished time of a running task as ""
func (t BgTask) MarshalJSON() ([]byte, error) {
	finished := ""
	if t.Finished != nil {
		finished = t.Finished.Format(time.RFC3339Nano)
	}
	return json.Marshal(&struct {
		bgTaskJSON
		Finished string `json:"finished"`
	}{bgTaskJSON(t), finished})
}

// UnmarshalJSON accepts "" or null as the finished time of a running task
func (t *BgTask) UnmarshalJSON(data []byte) error {
	aux := struct {
		*bgTaskJSON
		Finished *string `json:"finished"`
	}{bgTaskJSON: (*bgTaskJSON)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	t.Finished = nil
	if aux.Finished == nil || *aux.Finished == "" {
		return nil
	}
	finished, err := time.Parse(time.RFC3339Nano, *aux.Finished)
	if err != nil {
		return err
	}
	t.Finished = &finished
	return nil
}
