package volume

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/backup"
	"github.com/cuemby/burrow/pkg/bgtask"
	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/recurring"
	"github.com/cuemby/burrow/pkg/retry"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultDevicePrefix is the directory attached volumes appear under
	DefaultDevicePrefix = "/dev/burrow"

	// DefaultNumberOfReplicas is used when a create request leaves it unset
	DefaultNumberOfReplicas = 2
)

// ErrShutdown is returned for calls made after Close
var ErrShutdown = errors.New("volume manager is shut down")

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Cluster is the replicated state the volume manager reads and writes
type Cluster interface {
	IsLeader() bool
	GetHost(uuid string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	GetSetting(name string) (*types.Setting, error)
	CreateVolume(volume *types.Volume) error
	UpdateVolume(volume *types.Volume) error
	DeleteVolume(name string) error
	GetVolume(name string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	GetSnapshotChain(volume string) (*types.SnapshotChain, error)
	PutSnapshotChain(chain *types.SnapshotChain) error
	PublishEvent(event *events.Event)
}

// Config holds volume manager settings
type Config struct {
	DevicePrefix string
	EngineRetry  retry.Config
}

// CreateRequest describes a new volume
type CreateRequest struct {
	Name             string               `json:"name"`
	Size             int64                `json:"size"`
	NumberOfReplicas int                  `json:"numberOfReplicas"`
	RecurringJobs    []types.RecurringJob `json:"recurringJobs"`

	// FromBackup is the URL of a backup whose data fills the new volume.
	// Size defaults to the size recorded with the backup.
	FromBackup string `json:"fromBackup,omitempty"`
}

// Manager owns the volume lifecycle. Every mutation of a volume runs on
// that volume's actor, so operations on one volume are applied in order
// while different volumes proceed in parallel.
type Manager struct {
	cluster   Cluster
	engine    engine.Engine
	backups   *backup.Coordinator
	tasks     *bgtask.Registry
	placer    *scheduler.Placer
	recurring *recurring.Scheduler
	cfg       Config

	mu     sync.Mutex
	actors map[string]*actor

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewManager creates a volume manager
func NewManager(cluster Cluster, eng engine.Engine, backups *backup.Coordinator, tasks *bgtask.Registry, cfg Config) *Manager {
	if cfg.DevicePrefix == "" {
		cfg.DevicePrefix = DefaultDevicePrefix
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cluster: cluster,
		engine:  eng,
		backups: backups,
		tasks:   tasks,
		placer:  scheduler.NewPlacer(),
		cfg:     cfg,
		actors:  make(map[string]*actor),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("volume"),
	}
	m.recurring = recurring.NewScheduler(m)
	return m
}

// Recurring returns the recurring job scheduler driven by this manager
func (m *Manager) Recurring() *recurring.Scheduler {
	return m.recurring
}

// Close stops the recurring jobs and the volume actors
func (m *Manager) Close() {
	m.recurring.Stop()
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, a := range m.actors {
		a.stop()
		delete(m.actors, name)
	}
}

// Endpoint returns the device path of an attached volume
func (m *Manager) Endpoint(name string) string {
	return strings.TrimSuffix(m.cfg.DevicePrefix, "/") + "/" + name
}

// Get returns a volume by name
func (m *Manager) Get(name string) (*types.Volume, error) {
	return m.cluster.GetVolume(name)
}

// List returns every volume ordered by name
func (m *Manager) List() ([]*types.Volume, error) {
	return m.cluster.ListVolumes()
}

// Create validates req, places the replicas and materializes them through
// the data engine. The volume starts detached.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.Volume, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "create")

	if req.NumberOfReplicas == 0 {
		req.NumberOfReplicas = DefaultNumberOfReplicas
	}

	var source *types.Backup
	if req.FromBackup != "" {
		var err error
		if source, err = m.backups.Lookup(ctx, req.FromBackup); err != nil {
			metrics.VolumeOperationFailures.WithLabelValues("create").Inc()
			return nil, err
		}
		if req.Size == 0 {
			req.Size = source.VolumeSize
		}
		if req.Size < source.VolumeSize {
			return nil, errdefs.NewInvalidArgumentError("volume size %d is smaller than backup %s of %d bytes",
				req.Size, source.Name, source.VolumeSize)
		}
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	var volume *types.Volume
	err := m.do(ctx, req.Name, func() error {
		var err error
		if volume, err = m.create(ctx, req); err != nil {
			return err
		}
		if source != nil {
			volume, err = m.restore(ctx, volume, source)
		}
		return err
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("create").Inc()
		return nil, err
	}
	return volume, nil
}

func validateCreate(req CreateRequest) error {
	if !validName.MatchString(req.Name) || req.Name == types.VolumeHead {
		return errdefs.NewInvalidArgumentError("invalid volume name %q", req.Name)
	}
	if req.Size <= 0 {
		return errdefs.NewInvalidArgumentError("volume size must be positive, got %d", req.Size)
	}
	if req.NumberOfReplicas < 1 {
		return errdefs.NewInvalidArgumentError("numberOfReplicas must be at least 1, got %d", req.NumberOfReplicas)
	}
	return recurring.Validate(req.RecurringJobs)
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (*types.Volume, error) {
	logger := log.WithVolume(req.Name)

	if _, err := m.cluster.GetVolume(req.Name); err == nil {
		return nil, errdefs.NewNameConflictError("volume %s already exists", req.Name)
	}

	hosts, err := m.cluster.ListHosts()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list hosts")
	}
	volumes, err := m.cluster.ListVolumes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list volumes")
	}
	placement, err := m.placer.Place(req.NumberOfReplicas, hosts, scheduler.Load(volumes))
	if err != nil {
		return nil, err
	}

	image, err := m.cluster.GetSetting(types.SettingEngineImage)
	if err != nil {
		return nil, err
	}

	volume := &types.Volume{
		Name:             req.Name,
		Size:             req.Size,
		NumberOfReplicas: req.NumberOfReplicas,
		State:            types.VolumeStateDetached,
		EngineImage:      image.Value,
		RecurringJobs:    req.RecurringJobs,
		Created:          time.Now().UTC(),
	}
	if volume.RecurringJobs == nil {
		volume.RecurringJobs = []types.RecurringJob{}
	}
	for _, hostID := range placement {
		volume.Replicas = append(volume.Replicas, &types.Replica{
			Name:       fmt.Sprintf("%s-r-%s", req.Name, uuid.New().String()[:8]),
			HostID:     hostID,
			VolumeName: req.Name,
		})
	}

	if err := m.cluster.CreateVolume(volume); err != nil {
		return nil, err
	}

	var created []*types.Replica
	for _, replica := range volume.Replicas {
		replica := replica
		err := m.engineCall(ctx, engine.OpCreateReplica, func(ctx context.Context) error {
			return m.engine.CreateReplica(ctx, replica, volume.Size, volume.EngineImage)
		})
		if err != nil {
			logger.Error().Err(err).Str("replica", replica.Name).Msg("Failed to create replica, rolling back")
			m.rollbackCreate(ctx, volume, created)
			return nil, errors.Wrapf(err, "failed to create replica %s on host %s", replica.Name, replica.HostID)
		}
		created = append(created, replica)
	}

	if err := m.recurring.Sync(volume.Name, volume.RecurringJobs); err != nil {
		logger.Warn().Err(err).Msg("Failed to schedule recurring jobs")
	}

	logger.Info().
		Int64("size", volume.Size).
		Strs("hosts", volume.ReplicaHosts()).
		Msg("Volume created")
	m.publish(events.EventVolumeCreated, volume, fmt.Sprintf("Volume %s created with %d replicas", volume.Name, len(volume.Replicas)))
	return volume, nil
}

func (m *Manager) rollbackCreate(ctx context.Context, volume *types.Volume, created []*types.Replica) {
	for _, replica := range created {
		if err := m.engine.DeleteReplica(ctx, replica); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
			m.logger.Warn().Err(err).Str("replica", replica.Name).Msg("Failed to delete replica during rollback")
		}
	}
	if err := m.cluster.DeleteVolume(volume.Name); err != nil {
		m.logger.Warn().Err(err).Str("volume", volume.Name).Msg("Failed to remove volume record during rollback")
	}
}

// restore attaches a new volume on the host of its first replica, writes
// the backup into it and detaches it again. A failed restore deletes the
// volume.
func (m *Manager) restore(ctx context.Context, volume *types.Volume, source *types.Backup) (*types.Volume, error) {
	logger := log.WithVolume(volume.Name)
	hostID := volume.Replicas[0].HostID

	attached, err := m.attach(ctx, volume.Name, hostID)
	if err == nil {
		err = m.backups.Restore(ctx, attached, source)
	}
	if err == nil {
		var detached *types.Volume
		if detached, err = m.detach(ctx, volume.Name); err == nil {
			logger.Info().Str("backup", source.URL).Msg("Volume restored from backup")
			m.publish(events.EventVolumeRestored, detached,
				fmt.Sprintf("Volume %s restored from backup %s", volume.Name, source.Name))
			return detached, nil
		}
	}

	logger.Error().Err(err).Str("backup", source.URL).Msg("Restore failed, rolling back")
	m.rollbackRestore(ctx, volume.Name)
	return nil, errors.Wrapf(err, "failed to restore volume %s from backup %s", volume.Name, source.Name)
}

// rollbackRestore stops whatever the restore started and removes the volume
func (m *Manager) rollbackRestore(ctx context.Context, name string) {
	volume, err := m.cluster.GetVolume(name)
	if err != nil {
		m.logger.Warn().Err(err).Str("volume", name).Msg("Failed to read volume during rollback")
		return
	}
	if volume.Controller != nil {
		if err := ignoreNotFound(m.engine.StopController(ctx, volume)); err != nil {
			m.logger.Warn().Err(err).Str("volume", name).Msg("Failed to stop controller during rollback")
		}
	}
	for _, replica := range volume.Replicas {
		if err := ignoreNotFound(m.engine.StopReplica(ctx, replica)); err != nil {
			m.logger.Warn().Err(err).Str("replica", replica.Name).Msg("Failed to stop replica during rollback")
		}
	}
	m.rollbackCreate(ctx, volume, volume.Replicas)
	m.recurring.Remove(name)
	m.tasks.Remove(name)
}

// Attach starts the replicas and a controller on hostID. A volume whose
// engine commands keep failing is left faulted.
func (m *Manager) Attach(ctx context.Context, name, hostID string) (*types.Volume, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "attach")

	var volume *types.Volume
	err := m.do(ctx, name, func() error {
		var err error
		volume, err = m.attach(ctx, name, hostID)
		return err
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("attach").Inc()
		return nil, err
	}
	return volume, nil
}

func (m *Manager) attach(ctx context.Context, name, hostID string) (*types.Volume, error) {
	logger := log.WithVolume(name)

	volume, err := m.cluster.GetVolume(name)
	if err != nil {
		return nil, err
	}
	if volume.State != types.VolumeStateDetached {
		return nil, errdefs.NewAttachConflictError("volume %s is %s, must be detached to attach", name, volume.State)
	}
	if _, err := m.cluster.GetHost(hostID); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, errdefs.NewHostUnknownError("host %s is not registered", hostID)
		}
		return nil, err
	}

	volume.State = types.VolumeStateAttaching
	volume.LastError = ""
	if err := m.cluster.UpdateVolume(volume); err != nil {
		return nil, err
	}

	if err := m.startEngine(ctx, volume, hostID); err != nil {
		logger.Error().Err(err).Str("host_id", hostID).Msg("Attach failed, volume faulted")
		if ferr := m.fault(volume, err); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to record faulted volume")
		}
		return nil, errdefs.NewAttachConflictError("failed to attach volume %s to host %s: %v", name, hostID, err)
	}

	volume.State = types.VolumeStateHealthy
	volume.Endpoint = m.Endpoint(name)
	if err := m.cluster.UpdateVolume(volume); err != nil {
		return nil, err
	}

	logger.Info().
		Str("host_id", hostID).
		Str("endpoint", volume.Endpoint).
		Msg("Volume attached")
	m.publish(events.EventVolumeAttached, volume, fmt.Sprintf("Volume %s attached to host %s", name, hostID))
	return volume, nil
}

// startEngine starts every replica and then the controller, filling in the
// addresses they report
func (m *Manager) startEngine(ctx context.Context, volume *types.Volume, hostID string) error {
	addrs := make([]string, 0, len(volume.Replicas))
	for _, replica := range volume.Replicas {
		replica := replica
		var addr string
		err := m.engineCall(ctx, engine.OpStartReplica, func(ctx context.Context) error {
			var err error
			addr, err = m.engine.StartReplica(ctx, replica)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "failed to start replica %s", replica.Name)
		}
		replica.Address = addr
		replica.Running = true
		addrs = append(addrs, addr)
	}

	var addr string
	err := m.engineCall(ctx, engine.OpStartController, func(ctx context.Context) error {
		var err error
		addr, err = m.engine.StartController(ctx, volume, hostID, addrs)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to start controller")
	}
	volume.Controller = &types.Controller{HostID: hostID, Address: addr}
	return nil
}

// Detach stops the controller and the replicas. Detaching a detached volume
// is a no-op.
func (m *Manager) Detach(ctx context.Context, name string) (*types.Volume, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "detach")

	var volume *types.Volume
	err := m.do(ctx, name, func() error {
		var err error
		volume, err = m.detach(ctx, name)
		return err
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("detach").Inc()
		return nil, err
	}
	return volume, nil
}

func (m *Manager) detach(ctx context.Context, name string) (*types.Volume, error) {
	logger := log.WithVolume(name)

	volume, err := m.cluster.GetVolume(name)
	if err != nil {
		return nil, err
	}
	if volume.State == types.VolumeStateDetached {
		return volume, nil
	}

	volume.State = types.VolumeStateDetaching
	if err := m.cluster.UpdateVolume(volume); err != nil {
		return nil, err
	}

	if err := m.stopEngine(ctx, volume); err != nil {
		logger.Error().Err(err).Msg("Detach failed, volume faulted")
		if ferr := m.fault(volume, err); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to record faulted volume")
		}
		return nil, errors.Wrapf(err, "failed to detach volume %s", name)
	}

	previous := ""
	if volume.Controller != nil {
		previous = volume.Controller.HostID
	}
	volume.State = types.VolumeStateDetached
	volume.Controller = nil
	volume.Endpoint = ""
	volume.LastError = ""
	if err := m.cluster.UpdateVolume(volume); err != nil {
		return nil, err
	}

	logger.Info().Str("host_id", previous).Msg("Volume detached")
	m.publish(events.EventVolumeDetached, volume, fmt.Sprintf("Volume %s detached from host %s", name, previous))
	return volume, nil
}

func (m *Manager) stopEngine(ctx context.Context, volume *types.Volume) error {
	if volume.Controller != nil {
		err := m.engineCall(ctx, engine.OpStopController, func(ctx context.Context) error {
			return ignoreNotFound(m.engine.StopController(ctx, volume))
		})
		if err != nil {
			return errors.Wrap(err, "failed to stop controller")
		}
	}

	for _, replica := range volume.Replicas {
		replica := replica
		err := m.engineCall(ctx, engine.OpStopReplica, func(ctx context.Context) error {
			return ignoreNotFound(m.engine.StopReplica(ctx, replica))
		})
		if err != nil {
			return errors.Wrapf(err, "failed to stop replica %s", replica.Name)
		}
		replica.Running = false
		replica.Address = ""
	}
	return nil
}

// fault records a failed engine transition on the volume
func (m *Manager) fault(volume *types.Volume, cause error) error {
	volume.State = types.VolumeStateFaulted
	volume.LastError = cause.Error()
	m.publish(events.EventVolumeFaulted, volume, fmt.Sprintf("Volume %s faulted: %v", volume.Name, cause))
	return m.cluster.UpdateVolume(volume)
}

// MarkFaulted moves a healthy volume whose controller stopped responding to
// faulted. Volumes in any other state are left alone.
func (m *Manager) MarkFaulted(ctx context.Context, name string, cause error) error {
	return m.do(ctx, name, func() error {
		volume, err := m.cluster.GetVolume(name)
		if err != nil {
			return err
		}
		if volume.State != types.VolumeStateHealthy {
			return nil
		}
		vlog := log.WithVolume(name)
		vlog.Warn().Err(cause).Msg("Controller unhealthy, volume faulted")
		return m.fault(volume, cause)
	})
}

// Delete removes a detached volume, its replicas, snapshots, recurring jobs
// and task queue
func (m *Manager) Delete(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "delete")

	err := m.do(ctx, name, func() error {
		return m.delete(ctx, name)
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, name string) error {
	volume, err := m.cluster.GetVolume(name)
	if err != nil {
		return err
	}
	if volume.State != types.VolumeStateDetached {
		return errdefs.NewAttachConflictError("volume %s is %s, must be detached to delete", name, volume.State)
	}

	for _, replica := range volume.Replicas {
		replica := replica
		err := m.engineCall(ctx, engine.OpDeleteReplica, func(ctx context.Context) error {
			return ignoreNotFound(m.engine.DeleteReplica(ctx, replica))
		})
		if err != nil {
			return errors.Wrapf(err, "failed to delete replica %s", replica.Name)
		}
	}

	if err := m.cluster.DeleteVolume(name); err != nil {
		return err
	}
	m.recurring.Remove(name)
	m.tasks.Remove(name)

	vlog := log.WithVolume(name)
	vlog.Info().Msg("Volume deleted")
	m.publish(events.EventVolumeDeleted, volume, fmt.Sprintf("Volume %s deleted", name))
	return nil
}

// UpdateRecurring replaces the recurring job set of a volume and reschedules
// it without detaching
func (m *Manager) UpdateRecurring(ctx context.Context, name string, jobs []types.RecurringJob) (*types.Volume, error) {
	if err := recurring.Validate(jobs); err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []types.RecurringJob{}
	}

	var volume *types.Volume
	err := m.do(ctx, name, func() error {
		var err error
		volume, err = m.cluster.GetVolume(name)
		if err != nil {
			return err
		}
		volume.RecurringJobs = jobs
		if err := m.cluster.UpdateVolume(volume); err != nil {
			return err
		}
		return m.recurring.Sync(name, jobs)
	})
	if err != nil {
		return nil, err
	}

	vlog := log.WithVolume(name)
	vlog.Info().Int("jobs", len(jobs)).Msg("Recurring jobs updated")
	return volume, nil
}

// SyncRecurring schedules the recurring jobs of every volume and drops the
// entries of volumes that no longer exist
func (m *Manager) SyncRecurring() error {
	volumes, err := m.cluster.ListVolumes()
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(volumes))
	for _, volume := range volumes {
		present[volume.Name] = true
		if err := m.recurring.Sync(volume.Name, volume.RecurringJobs); err != nil {
			m.logger.Warn().Err(err).Str("volume", volume.Name).Msg("Failed to sync recurring jobs")
		}
	}
	for _, name := range m.recurring.Volumes() {
		if !present[name] {
			m.recurring.Remove(name)
		}
	}
	return nil
}

// BgTaskQueue returns the visible background tasks of a volume
func (m *Manager) BgTaskQueue(name string) ([]types.BgTask, error) {
	if _, err := m.cluster.GetVolume(name); err != nil {
		return nil, err
	}
	queue, ok := m.tasks.Get(name)
	if !ok {
		return []types.BgTask{}, nil
	}
	return queue.List(), nil
}

// Actions lists the volume actions valid in the volume's current state
func Actions(volume *types.Volume) []string {
	switch volume.State {
	case types.VolumeStateDetached:
		return []string{"attach", "recurringUpdate", "snapshotList", "snapshotGet"}
	case types.VolumeStateHealthy:
		return []string{
			"detach",
			"snapshotCreate",
			"snapshotList",
			"snapshotGet",
			"snapshotDelete",
			"snapshotRevert",
			"snapshotPurge",
			"snapshotBackup",
			"bgTaskQueue",
			"recurringUpdate",
		}
	case types.VolumeStateAttaching, types.VolumeStateFaulted:
		return []string{"detach"}
	default:
		return []string{}
	}
}

// engineCall retries a data engine command with exponential backoff
func (m *Manager) engineCall(ctx context.Context, op string, fn func(context.Context) error) error {
	cfg := m.cfg.EngineRetry
	cfg.Retryable = retryableEngineError
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.EngineRetries.WithLabelValues(op).Inc()
		m.logger.Warn().Err(err).
			Str("command", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Engine command failed, retrying")
	}
	return retry.New(cfg).Do(ctx, fn)
}

func retryableEngineError(err error) bool {
	return !errors.Is(err, errdefs.ErrInvalidArgument) &&
		!errors.Is(err, errdefs.ErrHostUnknown) &&
		!errors.Is(err, errdefs.ErrAttachConflict) &&
		!errors.Is(err, context.Canceled)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, errdefs.ErrNotFound) {
		return nil
	}
	return err
}

func (m *Manager) publish(typ events.EventType, volume *types.Volume, message string) {
	m.cluster.PublishEvent(&events.Event{
		Type:    typ,
		Message: message,
		Metadata: map[string]string{
			"volume": volume.Name,
			"state":  string(volume.State),
		},
	})
}
