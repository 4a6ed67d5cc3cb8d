package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// DefaultEngineImage is the engineImage setting value until an operator changes it
const DefaultEngineImage = "docker.io/cuemby/burrow-engine:v0.4.0"

const applyTimeout = 5 * time.Second

// Manager represents a Burrow manager node: a raft member holding a
// replica of the cluster state
type Manager struct {
	nodeID   string
	bindAddr string
	apiAddr  string
	dataDir  string
	inMemory bool

	settingDefaults map[string]string
	logOutput       io.Writer

	raft         *raft.Raft
	transport    raft.Transport
	fsm          *BurrowFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
	logger       zerolog.Logger

	readIndex ReadIndexFunc
	reads     readBarrier
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID      string
	BindAddr    string // raft bind address
	APIAddr     string // address other nodes and clients use to reach this node's API
	DataDir     string
	EngineImage string

	// LogOutput receives raft's own log lines. Defaults to stderr.
	LogOutput io.Writer

	// Transport overrides the TCP raft transport; with InMemory the raft log,
	// stable and snapshot stores are kept in memory. Both are used by tests.
	Transport raft.Transport
	InMemory  bool

	// ReadIndex reaches the leader for follower reads. Defaults to the
	// leader's REST API.
	ReadIndex ReadIndexFunc
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	engineImage := cfg.EngineImage
	if engineImage == "" {
		engineImage = DefaultEngineImage
	}

	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		apiAddr:  cfg.APIAddr,
		dataDir:  cfg.DataDir,
		inMemory: cfg.InMemory,
		settingDefaults: map[string]string{
			types.SettingBackupTarget: "",
			types.SettingEngineImage:  engineImage,
			types.SettingSyslogTarget: "",
		},
		logOutput:    logOutput,
		transport:    cfg.Transport,
		fsm:          NewBurrowFSM(store),
		store:        store,
		tokenManager: NewTokenManager(),
		eventBroker:  eventBroker,
		logger:       log.WithComponent("manager"),
		readIndex:    cfg.ReadIndex,
	}
	if m.readIndex == nil {
		m.readIndex = m.readIndexFromAPI
	}

	return m, nil
}

// setupRaft creates the raft instance without bootstrapping a configuration
func (m *Manager) setupRaft() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Info,
		Output: m.logOutput,
	})

	// Tuned for LAN clusters: followers detect a dead leader within ~500ms
	// and an election completes in ~1s.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	transport := m.transport
	if transport == nil {
		addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve bind address: %v", err)
		}

		tcp, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, m.logOutput)
		if err != nil {
			return fmt.Errorf("failed to create transport: %v", err)
		}
		transport = tcp
		m.transport = tcp
	}

	var (
		logStore      raft.LogStore
		stableStore   raft.StableStore
		snapshotStore raft.SnapshotStore
	)

	if m.inMemory {
		inmem := raft.NewInmemStore()
		logStore = inmem
		stableStore = inmem
		snapshotStore = raft.NewInmemSnapshotStore()
	} else {
		fileSnapshots, err := raft.NewFileSnapshotStore(m.dataDir, 2, m.logOutput)
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %v", err)
		}
		snapshotStore = fileSnapshots

		boltLogs, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
		if err != nil {
			return fmt.Errorf("failed to create log store: %v", err)
		}
		logStore = boltLogs

		boltStable, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
		if err != nil {
			return fmt.Errorf("failed to create stable store: %v", err)
		}
		stableStore = boltStable
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}

	m.raft = r
	return nil
}

// Bootstrap initializes a new single-node cluster and registers this node
// as its first host
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := m.setupRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: m.transport.LocalAddr(),
			},
		},
	}

	err := m.raft.BootstrapCluster(configuration).Error()
	if err == raft.ErrCantBootstrap {
		// Restarted member of an existing cluster; the leader already knows us.
		return m.WaitForLeader(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	if err := m.waitForLeadership(ctx); err != nil {
		return err
	}

	return m.RegisterHost(m.nodeID, m.apiAddr, string(m.transport.LocalAddr()))
}

func (m *Manager) waitForLeadership(ctx context.Context) error {
	return m.poll(ctx, "leadership", m.IsLeader)
}

func (m *Manager) poll(ctx context.Context, what string, cond func() bool) error {
	return m.pollEvery(ctx, 50*time.Millisecond, what, cond)
}

func (m *Manager) pollEvery(ctx context.Context, interval time.Duration, what string, cond func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Start brings up raft on a node that is already part of a cluster
// (added with AddVoter), without contacting the leader
func (m *Manager) Start() error {
	return m.setupRaft()
}

// Join adds this manager to an existing cluster through the leader's API
func (m *Manager) Join(ctx context.Context, leaderAPIAddr, token string) error {
	if err := m.setupRaft(); err != nil {
		return err
	}

	m.logger.Info().
		Str("leader", leaderAPIAddr).
		Str("node_id", m.nodeID).
		Str("raft_addr", string(m.transport.LocalAddr())).
		Msg("Contacting leader to join cluster")

	c := client.NewClient(leaderAPIAddr)
	err := c.JoinCluster(ctx, &client.JoinRequest{
		UUID:        m.nodeID,
		Address:     m.apiAddr,
		RaftAddress: string(m.transport.LocalAddr()),
		Token:       token,
	})
	if err != nil {
		return fmt.Errorf("failed to join cluster: %v", err)
	}

	m.logger.Info().Msg("Joined cluster")
	return nil
}

// WaitForLeader blocks until the cluster has a leader or ctx is done
func (m *Manager) WaitForLeader(ctx context.Context) error {
	return m.poll(ctx, "a leader", func() bool {
		return m.LeaderAddr() != ""
	})
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return errdefs.NewNotLeaderError("not the leader, current leader: %s", m.LeaderAddr())
	}

	m.logger.Info().Str("node_id", nodeID).Str("address", address).Msg("Adding voter")

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}

	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return errdefs.NewNotLeaderError("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// NodeID returns this node's host UUID
func (m *Manager) NodeID() string {
	return m.nodeID
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the raft address of the current leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// LeaderAPIAddr returns the API address of the current leader, looked up in
// the host registry
func (m *Manager) LeaderAPIAddr() (string, error) {
	if m.raft == nil {
		return "", fmt.Errorf("raft not initialized")
	}
	_, id := m.raft.LeaderWithID()
	if id == "" {
		return "", errdefs.NewNotLeaderError("no leader elected")
	}
	host, err := m.store.GetHost(string(id))
	if err != nil {
		return "", fmt.Errorf("leader %s is not registered: %w", id, err)
	}
	return host.Address, nil
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	addr, id := m.raft.LeaderWithID()
	stats := make(map[string]interface{})
	stats["node_id"] = m.nodeID
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(addr)
	stats["leader_id"] = string(id)

	if servers, err := m.GetClusterServers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// GenerateJoinToken creates a token another node can use to join
func (m *Manager) GenerateJoinToken(duration time.Duration) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, errdefs.NewNotLeaderError("join tokens are issued by the leader")
	}
	return m.tokenManager.GenerateToken(duration)
}

// AdmitNode validates a join token, adds the node as a raft voter and
// registers it as a host
func (m *Manager) AdmitNode(uuid, apiAddr, raftAddr, token string) error {
	if err := m.tokenManager.ValidateToken(token); err != nil {
		return errdefs.NewInvalidArgumentError("join rejected: %v", err)
	}
	if err := m.AddVoter(uuid, raftAddr); err != nil {
		return err
	}
	return m.RegisterHost(uuid, apiAddr, raftAddr)
}

// Apply submits a command to the Raft cluster. Errors returned by the FSM
// are passed through unchanged so callers can match them with errors.Is.
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return errdefs.NewNotLeaderError("not the leader, current leader: %s", m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	timer := metrics.NewTimer()
	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %v", err)
	}
	timer.ObserveDuration(metrics.RaftApplyDuration)

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) applyOp(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// RegisterHost records a manager node in the host registry
func (m *Manager) RegisterHost(uuid, apiAddr, raftAddr string) error {
	now := time.Now().UTC()
	host := &types.Host{
		UUID:        uuid,
		Address:     apiAddr,
		RaftAddress: raftAddr,
		Status:      types.HostStatusReady,
		JoinedAt:    now,
		LastSeen:    now,
	}
	if existing, err := m.store.GetHost(uuid); err == nil {
		host.JoinedAt = existing.JoinedAt
	}

	if err := m.applyOp(opCreateHost, host); err != nil {
		return err
	}

	m.PublishEvent(&events.Event{
		Type:    events.EventHostRegistered,
		Message: fmt.Sprintf("Host %s registered at %s", uuid, apiAddr),
		Metadata: map[string]string{
			"host_id": uuid,
			"address": apiAddr,
		},
	})
	return nil
}

// UpdateHost replaces a host record
func (m *Manager) UpdateHost(host *types.Host) error {
	return m.applyOp(opUpdateHost, host)
}

// DeleteHost removes a host from the registry
func (m *Manager) DeleteHost(uuid string) error {
	return m.applyOp(opDeleteHost, uuid)
}

// GetHost returns a host by UUID
func (m *Manager) GetHost(uuid string) (*types.Host, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.store.GetHost(uuid)
}

// ListHosts returns every registered host
func (m *Manager) ListHosts() ([]*types.Host, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.store.ListHosts()
}

// PutSetting updates a known setting
func (m *Manager) PutSetting(name, value string) (*types.Setting, error) {
	if !types.IsKnownSetting(name) {
		return nil, errdefs.NewNotFoundError("setting not found: %s", name)
	}

	setting := &types.Setting{Name: name, Value: value}
	if err := m.applyOp(opPutSetting, setting); err != nil {
		return nil, err
	}

	m.PublishEvent(&events.Event{
		Type:    events.EventSettingUpdated,
		Message: fmt.Sprintf("Setting %s updated", name),
		Metadata: map[string]string{
			"setting": name,
			"value":   value,
		},
	})
	return setting, nil
}

// GetSetting returns a known setting, falling back to its default value
func (m *Manager) GetSetting(name string) (*types.Setting, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.localSetting(name)
}

func (m *Manager) localSetting(name string) (*types.Setting, error) {
	def, known := m.settingDefaults[name]
	if !known {
		return nil, errdefs.NewNotFoundError("setting not found: %s", name)
	}

	setting, err := m.store.GetSetting(name)
	if err != nil {
		return &types.Setting{Name: name, Value: def}, nil
	}
	return setting, nil
}

// ListSettings returns every known setting in display order
func (m *Manager) ListSettings() ([]*types.Setting, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	settings := make([]*types.Setting, 0, len(types.KnownSettings))
	for _, name := range types.KnownSettings {
		setting, err := m.localSetting(name)
		if err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	return settings, nil
}

// CreateVolume stores a new volume. Fails with a NameConflictError if the
// name is taken.
func (m *Manager) CreateVolume(volume *types.Volume) error {
	return m.applyOp(opCreateVolume, volume)
}

// UpdateVolume replaces a volume record
func (m *Manager) UpdateVolume(volume *types.Volume) error {
	return m.applyOp(opUpdateVolume, volume)
}

// DeleteVolume removes a volume and its snapshot chain
func (m *Manager) DeleteVolume(name string) error {
	return m.applyOp(opDeleteVolume, name)
}

// GetVolume returns a volume by name
func (m *Manager) GetVolume(name string) (*types.Volume, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.store.GetVolume(name)
}

// ListVolumes returns every volume ordered by name
func (m *Manager) ListVolumes() ([]*types.Volume, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.store.ListVolumes()
}

// GetSnapshotChain returns the snapshot tree of a volume
func (m *Manager) GetSnapshotChain(volumeName string) (*types.SnapshotChain, error) {
	if err := m.syncRead(); err != nil {
		return nil, err
	}
	return m.store.GetSnapshotChain(volumeName)
}

// PutSnapshotChain replaces the snapshot tree of a volume
func (m *Manager) PutSnapshotChain(chain *types.SnapshotChain) error {
	return m.applyOp(opPutSnapshotChain, chain)
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
