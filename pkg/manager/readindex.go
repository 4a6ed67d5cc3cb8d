package manager

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/hashicorp/raft"
)

const readIndexTimeout = 5 * time.Second

// ReadIndexFunc asks the leader, identified by its raft server ID, for the
// index a follower must apply before it answers a read
type ReadIndexFunc func(ctx context.Context, leaderID string) (uint64, error)

// readBarrier makes reads on any node observe every update the leader has
// acknowledged. The leader commits a barrier once per term so entries of
// earlier terms are applied; followers wait for the leader's read index.
type readBarrier struct {
	mu   sync.Mutex
	term uint64

	clientMu   sync.Mutex
	clientAddr string
	client     *client.Client
}

// ReadIndex is answered by the leader. It confirms leadership with a quorum
// and returns the index of the last command applied to its state, which is
// at or past every update acknowledged to a caller.
func (m *Manager) ReadIndex() (uint64, error) {
	if !m.IsLeader() {
		return 0, errdefs.NewNotLeaderError("read index is served by the leader, current leader: %s", m.LeaderAddr())
	}
	if err := m.raft.VerifyLeader().Error(); err != nil {
		return 0, errdefs.NewNotLeaderError("leadership lost: %v", err)
	}
	if err := m.leaderBarrier(); err != nil {
		return 0, err
	}
	return m.fsm.AppliedIndex(), nil
}

// syncRead blocks until the local store reflects every update acknowledged
// before the call. Reads fail with a NotLeaderError when no leader can vouch
// for the local state.
func (m *Manager) syncRead() error {
	if m.raft == nil {
		return nil
	}
	if m.IsLeader() {
		return m.leaderBarrier()
	}

	ctx, cancel := context.WithTimeout(context.Background(), readIndexTimeout)
	defer cancel()

	var id raft.ServerID
	if err := m.pollEvery(ctx, 10*time.Millisecond, "a leader", func() bool {
		_, id = m.raft.LeaderWithID()
		return id != ""
	}); err != nil {
		return errdefs.NewNotLeaderError("no leader elected")
	}

	index, err := m.readIndex(ctx, string(id))
	if err != nil {
		return errdefs.NewNotLeaderError("read index from leader %s: %v", id, err)
	}
	if err := m.pollEvery(ctx, 2*time.Millisecond, "applied index", func() bool {
		return m.appliedAtLeast(index)
	}); err != nil {
		return errdefs.NewNotLeaderError("%v", err)
	}
	return nil
}

func (m *Manager) leaderBarrier() error {
	term := m.raft.CurrentTerm()

	m.reads.mu.Lock()
	defer m.reads.mu.Unlock()
	if m.reads.term == term {
		return nil
	}
	if err := m.raft.Barrier(readIndexTimeout).Error(); err != nil {
		return errdefs.NewNotLeaderError("barrier failed: %v", err)
	}
	m.reads.term = term
	return nil
}

// appliedAtLeast reports whether the local store is current up to index. A
// snapshot installed from the leader covers everything up to its index.
func (m *Manager) appliedAtLeast(index uint64) bool {
	if m.fsm.AppliedIndex() >= index {
		return true
	}
	snap, err := strconv.ParseUint(m.raft.Stats()["last_snapshot_index"], 10, 64)
	return err == nil && snap >= index
}

// readIndexFromAPI asks the leader's REST API for its read index
func (m *Manager) readIndexFromAPI(ctx context.Context, leaderID string) (uint64, error) {
	host, err := m.store.GetHost(leaderID)
	if err != nil {
		return 0, fmt.Errorf("leader %s is not registered: %w", leaderID, err)
	}

	m.reads.clientMu.Lock()
	if m.reads.client == nil || m.reads.clientAddr != host.Address {
		m.reads.client = client.NewClient(host.Address)
		m.reads.clientAddr = host.Address
	}
	c := m.reads.client
	m.reads.clientMu.Unlock()

	return c.ReadIndex(ctx)
}
