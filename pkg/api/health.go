package api

import (
	"fmt"
	"net/http"

	"github.com/cuemby/burrow/pkg/metrics"
)

// readyHandler refreshes the raft component from the manager before
// reporting readiness: a node is ready once a leader is known and the
// replicated store answers reads.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	healthy, message := s.raftStatus()
	metrics.UpdateComponent(metrics.ComponentRaft, healthy, message)
	metrics.ReadyHandler()(w, r)
}

func (s *Server) raftStatus() (bool, string) {
	if s.manager == nil {
		return false, "manager not initialized"
	}

	if !s.manager.IsLeader() && s.manager.LeaderAddr() == "" {
		return false, "waiting for leader election"
	}
	if _, err := s.manager.ListHosts(); err != nil {
		return false, fmt.Sprintf("storage not accessible: %v", err)
	}

	if s.manager.IsLeader() {
		return true, "leader"
	}
	return true, fmt.Sprintf("follower (leader: %s)", s.manager.LeaderAddr())
}
