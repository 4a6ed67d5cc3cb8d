package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
)

// Command operations
const (
	opCreateHost       = "create_host"
	opUpdateHost       = "update_host"
	opDeleteHost       = "delete_host"
	opPutSetting       = "put_setting"
	opCreateVolume     = "create_volume"
	opUpdateVolume     = "update_volume"
	opDeleteVolume     = "delete_volume"
	opPutSnapshotChain = "put_snapshot_chain"
)

// BurrowFSM implements the Raft Finite State Machine for Burrow's cluster state.
// It applies log entries to the local store and handles snapshots.
type BurrowFSM struct {
	mu    sync.RWMutex
	store storage.Store

	// applied is the index of the last log entry written to the store
	applied atomic.Uint64
}

// NewBurrowFSM creates a new FSM instance
func NewBurrowFSM(store storage.Store) *BurrowFSM {
	return &BurrowFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry to the store. The returned value
// is the error of the store operation, or nil.
func (f *BurrowFSM) Apply(log *raft.Log) interface{} {
	resp := f.apply(log.Data)
	f.applied.Store(log.Index)
	return resp
}

// AppliedIndex returns the index of the last command reflected in the store
func (f *BurrowFSM) AppliedIndex() uint64 {
	return f.applied.Load()
}

func (f *BurrowFSM) apply(data []byte) interface{} {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateHost:
		var host types.Host
		if err := json.Unmarshal(cmd.Data, &host); err != nil {
			return err
		}
		return f.store.CreateHost(&host)

	case opUpdateHost:
		var host types.Host
		if err := json.Unmarshal(cmd.Data, &host); err != nil {
			return err
		}
		return f.store.UpdateHost(&host)

	case opDeleteHost:
		var uuid string
		if err := json.Unmarshal(cmd.Data, &uuid); err != nil {
			return err
		}
		return f.store.DeleteHost(uuid)

	case opPutSetting:
		var setting types.Setting
		if err := json.Unmarshal(cmd.Data, &setting); err != nil {
			return err
		}
		return f.store.PutSetting(&setting)

	case opCreateVolume:
		var volume types.Volume
		if err := json.Unmarshal(cmd.Data, &volume); err != nil {
			return err
		}
		return f.store.CreateVolume(&volume)

	case opUpdateVolume:
		var volume types.Volume
		if err := json.Unmarshal(cmd.Data, &volume); err != nil {
			return err
		}
		return f.store.UpdateVolume(&volume)

	case opDeleteVolume:
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeleteVolume(name)

	case opPutSnapshotChain:
		var chain types.SnapshotChain
		if err := json.Unmarshal(cmd.Data, &chain); err != nil {
			return err
		}
		return f.store.PutSnapshotChain(&chain)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot returns a point-in-time copy of the whole cluster state
func (f *BurrowFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	hosts, err := f.store.ListHosts()
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %v", err)
	}

	settings, err := f.store.ListSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %v", err)
	}

	volumes, err := f.store.ListVolumes()
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %v", err)
	}

	chains := make([]*types.SnapshotChain, 0, len(volumes))
	for _, v := range volumes {
		chain, err := f.store.GetSnapshotChain(v.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get snapshot chain of %s: %v", v.Name, err)
		}
		chains = append(chains, chain)
	}

	return &BurrowSnapshot{
		Hosts:    hosts,
		Settings: settings,
		Volumes:  volumes,
		Chains:   chains,
	}, nil
}

// Restore replaces the local state with the contents of a snapshot.
// Called when a node restarts or catches up from the leader.
func (f *BurrowFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot BurrowSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Reset(); err != nil {
		return fmt.Errorf("failed to reset store: %v", err)
	}

	for _, host := range snapshot.Hosts {
		if err := f.store.CreateHost(host); err != nil {
			return fmt.Errorf("failed to restore host: %v", err)
		}
	}

	for _, setting := range snapshot.Settings {
		if err := f.store.PutSetting(setting); err != nil {
			return fmt.Errorf("failed to restore setting: %v", err)
		}
	}

	for _, volume := range snapshot.Volumes {
		if err := f.store.CreateVolume(volume); err != nil {
			return fmt.Errorf("failed to restore volume: %v", err)
		}
	}

	for _, chain := range snapshot.Chains {
		if err := f.store.PutSnapshotChain(chain); err != nil {
			return fmt.Errorf("failed to restore snapshot chain: %v", err)
		}
	}

	return nil
}

// BurrowSnapshot represents a point-in-time snapshot of the FSM state
type BurrowSnapshot struct {
	Hosts    []*types.Host          `json:"hosts"`
	Settings []*types.Setting       `json:"settings"`
	Volumes  []*types.Volume        `json:"volumes"`
	Chains   []*types.SnapshotChain `json:"chains"`
}

// Persist writes the snapshot to the given sink
func (s *BurrowSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}

		if _, err := sink.Write(data); err != nil {
			return err
		}

		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
		return err
	}

	return nil
}

// Release is called when the snapshot is no longer needed
func (s *BurrowSnapshot) Release() {}
