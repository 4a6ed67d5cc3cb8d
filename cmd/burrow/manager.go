package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/backup"
	"github.com/cuemby/burrow/pkg/backupstore"
	"github.com/cuemby/burrow/pkg/bgtask"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/eventlog"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/spf13/cobra"
)

const startupTimeout = 30 * time.Second

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run a manager node",
	Long: `Run a Burrow manager node.

Without --join the node bootstraps a new single-node cluster, or rejoins the
cluster recorded in its data directory. With --join and --token it is
admitted to an existing cluster through the API of one of its members.

Examples:
  # First node
  burrow manager --node-id host-1 --data-dir /var/lib/burrow

  # Additional node
  burrow manager --node-id host-2 --bind-addr 10.0.0.2:7946 \
    --api-addr 10.0.0.2:9500 --join 10.0.0.1:9500 --token <token>`,
	RunE: runManager,
}

func init() {
	addManagerFlags(managerCmd)
}

func addManagerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "YAML configuration file")
	cmd.Flags().String("node-id", "", "Unique node ID (default: hostname)")
	cmd.Flags().String("data-dir", "", "Data directory for cluster state and replicas")
	cmd.Flags().String("bind-addr", "", "Address for Raft communication")
	cmd.Flags().String("api-addr", "", "Address for the REST API")
	cmd.Flags().String("advertise-addr", "", "API address advertised to other nodes")
	cmd.Flags().String("join", "", "API address of an existing cluster member")
	cmd.Flags().String("token", "", "Join token from an existing cluster member")
	cmd.Flags().String("engine", "", "Data engine (sim or containerd)")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Log as JSON")
}

// loadConfig reads --config and applies the flags that were set on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"node-id":        &cfg.NodeID,
		"data-dir":       &cfg.DataDir,
		"bind-addr":      &cfg.BindAddr,
		"api-addr":       &cfg.APIAddr,
		"advertise-addr": &cfg.AdvertiseAddr,
		"join":           &cfg.Join,
		"token":          &cfg.JoinToken,
		"engine":         &cfg.Engine,
	}
	for name, dst := range overrides {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		cfg.Log.Level = log.Level(level)
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// hasRaftState reports whether dir holds the raft log of an earlier run
func hasRaftState(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "raft-log.db"))
	return err == nil
}

func newEngine(cfg *config.Config) (engine.Engine, func() error, error) {
	if cfg.Engine == config.EngineSim {
		return engine.NewSim(), func() error { return nil }, nil
	}

	advertiseIP, _, err := net.SplitHostPort(cfg.Advertise())
	if err != nil {
		return nil, nil, err
	}
	c, err := engine.NewContainerd(engine.ContainerdConfig{
		Socket:      cfg.Containerd.Socket,
		Namespace:   cfg.Containerd.Namespace,
		DataDir:     cfg.ReplicaDir(),
		AdvertiseIP: advertiseIP,
	})
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("containerd is not reachable: %v", err)
	}
	return c, c.Close, nil
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logOutput, err := log.Writer(cfg.Log.File)
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      cfg.Log.Level,
		JSONOutput: cfg.Log.JSON,
		Output:     logOutput,
	})
	logger := log.WithComponent("main")

	logger.Info().
		Str("node_id", cfg.NodeID).
		Str("raft_addr", cfg.BindAddr).
		Str("api_addr", cfg.APIAddr).
		Str("data_dir", cfg.DataDir).
		Str("engine", cfg.Engine).
		Msg("Starting manager")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:      cfg.NodeID,
		BindAddr:    cfg.BindAddr,
		APIAddr:     cfg.Advertise(),
		DataDir:     cfg.RaftDir(),
		EngineImage: cfg.EngineImage,
		LogOutput:   logOutput,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	defer cancel()
	switch {
	case cfg.Join == "":
		err = mgr.Bootstrap(ctx)
	case hasRaftState(cfg.RaftDir()):
		if err = mgr.Start(); err == nil {
			err = mgr.WaitForLeader(ctx)
		}
	default:
		err = mgr.Join(ctx, cfg.Join, cfg.JoinToken)
	}
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}
	logger.Info().Str("leader", mgr.LeaderAddr()).Msg("Cluster ready")

	local, closeEngine, err := newEngine(cfg)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentEngine, false, err.Error())
		_ = mgr.Shutdown()
		return fmt.Errorf("failed to start engine: %v", err)
	}
	metrics.UpdateComponent(metrics.ComponentEngine, true, "")

	router := engine.NewRouter(cfg.NodeID, local, mgr)
	tasks := bgtask.NewRegistry()
	backups := backup.NewCoordinator(mgr, router, tasks, backupstore.Options{
		S3:    cfg.S3,
		Retry: cfg.EngineRetry,
	})
	volumes := volume.NewManager(mgr, router, backups, tasks, volume.Config{
		DevicePrefix: cfg.DevicePrefix,
		EngineRetry:  cfg.EngineRetry,
	})

	recon := reconciler.NewReconciler(mgr, router, volumes, reconciler.Config{
		Interval: cfg.ReconcileInterval,
		Health:   health.DefaultConfig(),
	})
	recon.Start()

	forwarder := eventlog.NewForwarder(mgr.GetEventBroker(), mgr, nil)
	forwarder.Start()

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	apiServer := api.NewServer(api.Config{
		Manager:   mgr,
		Volumes:   volumes,
		Backups:   backups,
		Engine:    local,
		LogWriter: logOutput,
		RateLimit: cfg.RateLimit,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	logger.Info().Msg("Manager is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
		logger.Warn().Err(stopErr).Msg("API server did not stop cleanly")
	}
	collector.Stop()
	forwarder.Stop()
	recon.Stop()
	volumes.Close()
	tasks.Close()
	if closeErr := closeEngine(); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("Failed to close engine")
	}
	if shutdownErr := mgr.Shutdown(); shutdownErr != nil {
		return fmt.Errorf("failed to shutdown: %v", shutdownErr)
	}

	logger.Info().Msg("Shutdown complete")
	return err
}
