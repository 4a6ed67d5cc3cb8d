package storage

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Store defines the interface for cluster state storage.
// Every node holds a Store that the raft FSM keeps identical to the leader's.
type Store interface {
	// Hosts
	CreateHost(host *types.Host) error
	GetHost(uuid string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	DeleteHost(uuid string) error

	// Settings
	PutSetting(setting *types.Setting) error
	GetSetting(name string) (*types.Setting, error)
	ListSettings() ([]*types.Setting, error)

	// Volumes. CreateVolume also creates the volume's empty snapshot chain
	// and DeleteVolume removes it.
	CreateVolume(volume *types.Volume) error
	GetVolume(name string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	UpdateVolume(volume *types.Volume) error
	DeleteVolume(name string) error

	// Snapshot chains
	GetSnapshotChain(volumeName string) (*types.SnapshotChain, error)
	PutSnapshotChain(chain *types.SnapshotChain) error

	// Utility
	Reset() error
	Close() error
}
