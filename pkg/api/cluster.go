package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/backupstore"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/eventlog"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/mux"
	"github.com/hashicorp/raft"
)

// DefaultTokenTTL is the lifetime of a join token when the request names none
const DefaultTokenTTL = 24 * time.Hour

func (s *Server) listHostsHandler(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.manager.ListHosts()
	if err != nil {
		handleError(w, err)
		return
	}
	if hosts == nil {
		hosts = []*types.Host{}
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) getHostHandler(w http.ResponseWriter, r *http.Request) {
	host, err := s.manager.GetHost(mux.Vars(r)["id"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (s *Server) listSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.manager.ListSettings()
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) getSettingHandler(w http.ResponseWriter, r *http.Request) {
	setting, err := s.manager.GetSetting(mux.Vars(r)["name"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) updateSettingHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req params.SettingUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := validateSetting(name, req.Value); err != nil {
		handleError(w, err)
		return
	}

	setting, err := s.manager.PutSetting(name, req.Value)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// validateSetting rejects values the consumers of a setting cannot use.
// Empty backup and syslog targets disable the feature.
func validateSetting(name, value string) error {
	switch name {
	case types.SettingBackupTarget:
		if value == "" {
			return nil
		}
		return backupstore.Supported(value)
	case types.SettingSyslogTarget:
		if value == "" {
			return nil
		}
		_, _, err := eventlog.ParseTarget(value)
		return err
	case types.SettingEngineImage:
		if value == "" {
			return errdefs.NewInvalidArgumentError("engineImage cannot be empty")
		}
		return nil
	default:
		return errdefs.NewNotFoundError("setting not found: %s", name)
	}
}

func (s *Server) clusterInfoHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.GetRaftStats()
	if stats == nil {
		handleError(w, errdefs.NewNotLeaderError("raft is not running"))
		return
	}

	info := &params.ClusterInfo{
		NodeID:  s.manager.NodeID(),
		Servers: []*params.ClusterServer{},
	}
	info.State, _ = stats["state"].(string)
	info.LeaderID, _ = stats["leader_id"].(string)
	info.LastIndex, _ = stats["last_log_index"].(uint64)
	info.AppliedIndex, _ = stats["applied_index"].(uint64)

	servers, err := s.manager.GetClusterServers()
	if err != nil {
		handleError(w, err)
		return
	}
	for _, srv := range servers {
		info.Servers = append(info.Servers, &params.ClusterServer{
			ID:       string(srv.ID),
			Address:  string(srv.Address),
			Suffrage: suffrage(srv.Suffrage),
			Leader:   string(srv.ID) == info.LeaderID,
		})
	}
	writeJSON(w, http.StatusOK, info)
}

// readIndexHandler serves the read index followers wait for before
// answering reads. It is never forwarded: a follower answers 503.
func (s *Server) readIndexHandler(w http.ResponseWriter, r *http.Request) {
	index, err := s.manager.ReadIndex()
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &params.ReadIndexResponse{Index: index})
}

func suffrage(s raft.ServerSuffrage) string {
	switch s {
	case raft.Voter:
		return "voter"
	case raft.Nonvoter:
		return "nonvoter"
	default:
		return "staging"
	}
}

func (s *Server) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req params.TokenRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	ttl := DefaultTokenTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			handleError(w, errdefs.NewInvalidArgumentError("invalid token ttl %q", req.TTL))
			return
		}
		ttl = d
	}

	token, err := s.manager.GenerateJoinToken(ttl)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &params.TokenResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	})
}

func (s *Server) joinHandler(w http.ResponseWriter, r *http.Request) {
	var req params.JoinRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.UUID == "" || req.Address == "" || req.RaftAddress == "" {
		handleError(w, errdefs.NewInvalidArgumentError("uuid, address and raftAddress are required"))
		return
	}

	if err := s.manager.AdmitNode(req.UUID, req.Address, req.RaftAddress, req.Token); err != nil {
		handleError(w, err)
		return
	}
	s.logger.Info().Str("host", req.UUID).Str("address", req.Address).Msg("Admitted manager node")
	w.WriteHeader(http.StatusNoContent)
}
