package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/cuemby/burrow/pkg/errdefs"
)

// forwardedHeader marks a request already proxied by a follower, so a stale
// leader view never bounces it between nodes
const forwardedHeader = "X-Burrow-Forwarded-By"

// readOnly reports whether the request only reads replicated state and can
// be answered by any node. Followers first catch up to the leader's read
// index, so a read observes every update acknowledged before it.
func readOnly(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// forwardToLeader proxies mutating requests received by a follower to the
// API of the raft leader
func (s *Server) forwardToLeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if readOnly(r) || s.manager.IsLeader() {
			next.ServeHTTP(w, r)
			return
		}
		if by := r.Header.Get(forwardedHeader); by != "" {
			handleError(w, errdefs.NewNotLeaderError("request forwarded by %s reached a follower", by))
			return
		}

		leader, err := s.manager.LeaderAPIAddr()
		if err != nil {
			handleError(w, errdefs.NewNotLeaderError("no leader to forward to: %v", err))
			return
		}
		s.proxyRequest(w, r, leader)
	})
}

func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request, leaderAddr string) {
	targetURL, err := url.Parse(fmt.Sprintf("http://%s", leaderAddr))
	if err != nil {
		handleError(w, errdefs.NewNotLeaderError("invalid leader address %q: %v", leaderAddr, err))
		return
	}

	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("leader", leaderAddr).
		Msg("Forwarding request to leader")

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set(forwardedHeader, s.manager.NodeID())
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Error().Err(err).Str("leader", leaderAddr).Msg("Forwarding to leader failed")
		handleError(w, errdefs.NewNotLeaderError("leader %s unreachable: %v", leaderAddr, err))
	}
	proxy.ServeHTTP(w, r)
}
