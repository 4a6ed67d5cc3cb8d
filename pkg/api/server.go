package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/backup"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config wires the API server to the components it serves
type Config struct {
	Manager *manager.Manager
	Volumes *volume.Manager
	Backups *backup.Coordinator

	// Engine is this host's own engine; relayed engine calls never leave
	// the node
	Engine engine.Engine

	// LogWriter receives the combined access log. Defaults to stdout.
	LogWriter io.Writer

	// RateLimit applies to mutating /v1 requests, per client
	RateLimit config.RateLimit
}

// Server serves the REST API of a manager node
type Server struct {
	manager *manager.Manager
	volumes *volume.Manager
	backups *backup.Coordinator
	engine  engine.Engine
	limiter *clientLimiter

	router *mux.Router
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server and its routes
func NewServer(cfg Config) *Server {
	logWriter := cfg.LogWriter
	if logWriter == nil {
		logWriter = os.Stdout
	}

	s := &Server{
		manager: cfg.Manager,
		volumes: cfg.Volumes,
		backups: cfg.Backups,
		engine:  cfg.Engine,
		limiter: newClientLimiter(cfg.RateLimit),
		logger:  log.WithComponent("api"),
	}
	s.router = s.newRouter(logWriter)

	// No write timeout: engine exports stream whole snapshots.
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Stop is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(lis)
}

// Serve serves the API on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")

	if err := s.http.Serve(lis); err != nil && err != http.ErrServerClosed {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.http.Shutdown(ctx)
}
