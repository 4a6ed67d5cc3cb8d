package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultInterval is the time between reconciliation cycles
const DefaultInterval = 10 * time.Second

// lastSeenResolution bounds how often a healthy host's LastSeen is rewritten
const lastSeenResolution = time.Minute

// Cluster is the replicated state the reconciler reads and corrects
type Cluster interface {
	IsLeader() bool
	NodeID() string
	ListHosts() ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	ListVolumes() ([]*types.Volume, error)
	PublishEvent(event *events.Event)
}

// Volumes is the part of the volume manager the reconciler drives
type Volumes interface {
	MarkFaulted(ctx context.Context, name string, cause error) error
	SyncRecurring() error
}

// Config holds reconciler settings
type Config struct {
	Interval time.Duration
	Health   health.Config
}

// Reconciler ensures actual cluster state matches the recorded state: hosts
// that stop answering are marked down, volumes whose controller stops
// answering are faulted, and recurring jobs follow the volume records.
type Reconciler struct {
	cluster Cluster
	engine  engine.Engine
	volumes Volumes
	cfg     Config

	// checkHost is replaced in tests
	checkHost func(ctx context.Context, host *types.Host) health.Result

	mu          sync.Mutex
	hosts       map[string]*health.Status
	controllers map[string]*health.Status

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(cluster Cluster, eng engine.Engine, volumes Volumes, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Health.Retries <= 0 || cfg.Health.Timeout <= 0 {
		cfg.Health = health.DefaultConfig()
	}

	return &Reconciler{
		cluster: cluster,
		engine:  eng,
		volumes: volumes,
		cfg:     cfg,
		checkHost: func(ctx context.Context, host *types.Host) health.Result {
			return health.NewHostChecker(host.Address).Check(ctx)
		},
		hosts:       make(map[string]*health.Status),
		controllers: make(map[string]*health.Status),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the running cycle
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one reconciliation cycle. Followers only forget their
// check history so a newly elected leader starts from a clean slate.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cluster.IsLeader() {
		r.hosts = make(map[string]*health.Status)
		r.controllers = make(map[string]*health.Status)
		return nil
	}

	if err := r.reconcileHosts(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile hosts")
	}
	if err := r.reconcileControllers(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile controllers")
	}
	if err := r.volumes.SyncRecurring(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to sync recurring jobs")
	}
	return nil
}

// reconcileHosts checks every other host's API and flips its status after
// Retries consecutive failures or one success
func (r *Reconciler) reconcileHosts(ctx context.Context) error {
	hosts, err := r.cluster.ListHosts()
	if err != nil {
		return errors.Wrap(err, "failed to list hosts")
	}

	seen := make(map[string]bool, len(hosts))
	now := time.Now().UTC()

	for _, host := range hosts {
		seen[host.UUID] = true

		healthy := true
		var result health.Result
		if host.UUID != r.cluster.NodeID() {
			checkCtx, cancel := context.WithTimeout(ctx, r.cfg.Health.Timeout)
			result = r.checkHost(checkCtx, host)
			cancel()

			status, ok := r.hosts[host.UUID]
			if !ok {
				status = health.NewStatus()
				status.Healthy = host.Status != types.HostStatusDown
				r.hosts[host.UUID] = status
			}
			status.Update(result, r.cfg.Health)
			healthy = status.Healthy
		}

		logger := log.WithHostID(host.UUID)
		switch {
		case !healthy && host.Status != types.HostStatusDown:
			host.Status = types.HostStatusDown
			if err := r.cluster.UpdateHost(host); err != nil {
				logger.Error().Err(err).Msg("Failed to mark host down")
				continue
			}
			logger.Warn().Str("reason", result.Message).Msg("Host is down")
			r.publishHost(events.EventHostDown, host, result.Message)

		case healthy && host.Status == types.HostStatusDown:
			host.Status = types.HostStatusReady
			host.LastSeen = now
			if err := r.cluster.UpdateHost(host); err != nil {
				logger.Error().Err(err).Msg("Failed to mark host ready")
				continue
			}
			logger.Info().Msg("Host is back")
			r.publishHost(events.EventHostUp, host, "")

		case healthy && now.Sub(host.LastSeen) > lastSeenResolution:
			host.LastSeen = now
			if err := r.cluster.UpdateHost(host); err != nil {
				logger.Debug().Err(err).Msg("Failed to refresh host last seen")
			}
		}
	}

	for id := range r.hosts {
		if !seen[id] {
			delete(r.hosts, id)
		}
	}
	return nil
}

// reconcileControllers faults healthy volumes whose controller failed its
// engine health check Retries times in a row
func (r *Reconciler) reconcileControllers(ctx context.Context) error {
	volumes, err := r.cluster.ListVolumes()
	if err != nil {
		return errors.Wrap(err, "failed to list volumes")
	}

	watched := make(map[string]bool, len(volumes))
	for _, volume := range volumes {
		if volume.State != types.VolumeStateHealthy || volume.Controller == nil {
			continue
		}
		watched[volume.Name] = true

		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, r.cfg.Health.Timeout)
		err := r.engine.ControllerHealthy(checkCtx, volume)
		cancel()

		result := health.Result{Healthy: err == nil, CheckedAt: start, Duration: time.Since(start)}
		if err != nil {
			result.Message = err.Error()
		}

		status, ok := r.controllers[volume.Name]
		if !ok {
			status = health.NewStatus()
			r.controllers[volume.Name] = status
		}
		if !status.Update(result, r.cfg.Health) || status.Healthy {
			continue
		}

		cause := fmt.Errorf("controller on host %s unhealthy: %s", volume.Controller.HostID, result.Message)
		if err := r.volumes.MarkFaulted(ctx, volume.Name, cause); err != nil {
			vlog := log.WithVolume(volume.Name)
			vlog.Error().Err(err).Msg("Failed to fault volume")
			continue
		}
		delete(r.controllers, volume.Name)
	}

	for name := range r.controllers {
		if !watched[name] {
			delete(r.controllers, name)
		}
	}
	return nil
}

func (r *Reconciler) publishHost(typ events.EventType, host *types.Host, reason string) {
	metadata := map[string]string{
		"host_id": host.UUID,
		"address": host.Address,
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	r.cluster.PublishEvent(&events.Event{
		Type:     typ,
		Message:  fmt.Sprintf("Host %s (%s) is %s", host.UUID, host.Address, host.Status),
		Metadata: metadata,
	})
}
