package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/backupstore"
	"github.com/cuemby/burrow/pkg/bgtask"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	storeRoot     = "backupstore/volumes"
	volumeCfg     = "volume.cfg"
	backupsDir    = "backups"
	blocksDir     = "blocks"
	backupPrefix  = "backup_"
	backupSuffix  = ".cfg"
	blockSuffix   = ".blk"
	backupNameFmt = "backup-%s"
)

// Cluster is the replicated state the coordinator reads
type Cluster interface {
	GetSetting(name string) (*types.Setting, error)
	GetVolume(name string) (*types.Volume, error)
	GetSnapshotChain(volume string) (*types.SnapshotChain, error)
	PublishEvent(event *events.Event)
}

// DataPath moves volume data between the engines and the backup target
type DataPath interface {
	ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error)
	ImportVolume(ctx context.Context, volume *types.Volume, r io.Reader) error
}

// Request describes one backup
type Request struct {
	Volume   string
	Snapshot string
	Labels   map[string]string

	// Retain keeps only the newest Retain backups carrying the same
	// RecurringJob label once this backup completes. Zero keeps all.
	Retain int
}

// Coordinator pushes snapshots to the backup target and manages the
// records stored there
type Coordinator struct {
	cluster  Cluster
	data     DataPath
	tasks    *bgtask.Registry
	opts     backupstore.Options

	mu     sync.Mutex
	target string
	store  *backupstore.Store

	// volumeLocks serializes read-modify-write of volume.cfg
	volumeLocks sync.Map

	logger zerolog.Logger
}

// NewCoordinator creates a backup coordinator
func NewCoordinator(cluster Cluster, data DataPath, tasks *bgtask.Registry, opts backupstore.Options) *Coordinator {
	return &Coordinator{
		cluster:  cluster,
		data:     data,
		tasks:    tasks,
		opts:     opts,
		logger:   log.WithComponent("backup"),
	}
}

// Store opens the store named by the backupTarget setting, reusing the
// previous one while the setting is unchanged
func (c *Coordinator) Store(ctx context.Context) (*backupstore.Store, error) {
	setting, err := c.cluster.GetSetting(types.SettingBackupTarget)
	if err != nil {
		return nil, err
	}
	target := strings.TrimSpace(setting.Value)
	if target == "" {
		return nil, errdefs.ErrNoBackupTarget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil && c.target == target {
		return c.store, nil
	}
	store, err := backupstore.New(ctx, target, c.opts)
	if err != nil {
		return nil, err
	}
	c.target, c.store = target, store
	return store, nil
}

// Backup validates the request and queues the transfer on the volume's
// task queue
func (c *Coordinator) Backup(ctx context.Context, req Request) (*bgtask.Task, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}

	volume, err := c.cluster.GetVolume(req.Volume)
	if err != nil {
		return nil, err
	}
	chain, err := c.cluster.GetSnapshotChain(req.Volume)
	if err != nil {
		return nil, err
	}
	snap, ok := chain.Snapshots[req.Snapshot]
	if !ok || snap.Removed {
		return nil, errdefs.NewNotFoundError("snapshot %s not found in volume %s", req.Snapshot, req.Volume)
	}

	replica := runningReplica(volume)
	if replica == nil {
		return nil, errdefs.NewAttachConflictError("volume %s has no running replica to back up from", req.Volume)
	}

	snapshot := *snap
	description := fmt.Sprintf("backup snapshot %s to %s", req.Snapshot, store.URL())
	return c.tasks.Queue(req.Volume).Submit(description, func(ctx context.Context) error {
		return c.push(ctx, store, volume, replica, &snapshot, req)
	}, bgtask.Pin(req.Snapshot))
}

func (c *Coordinator) push(ctx context.Context, store *backupstore.Store, volume *types.Volume,
	replica *types.Replica, snap *types.Snapshot, req Request) error {
	timer := metrics.NewTimer()
	logger := c.logger.With().Str("volume", volume.Name).Str("snapshot", snap.Name).Logger()

	backup, size, err := c.transfer(ctx, store, volume, replica, snap, req.Labels)
	if err != nil {
		metrics.BackupFailures.Inc()
		logger.Error().Err(err).Msg("Backup failed")
		c.cluster.PublishEvent(&events.Event{
			Type:    events.EventBackupFailed,
			Message: fmt.Sprintf("Backup of snapshot %s of volume %s failed: %v", snap.Name, volume.Name, err),
			Metadata: map[string]string{
				"volume":   volume.Name,
				"snapshot": snap.Name,
			},
		})
		return err
	}

	timer.ObserveDuration(metrics.BackupDuration)
	metrics.BackupsPushed.Inc()
	metrics.BackupBytes.Add(float64(size))
	logger.Info().
		Str("backup", backup.Name).
		Int64("bytes", size).
		Dur("duration", timer.Duration()).
		Msg("Backup completed")

	c.cluster.PublishEvent(&events.Event{
		Type:    events.EventBackupCompleted,
		Message: fmt.Sprintf("Snapshot %s of volume %s backed up as %s", snap.Name, volume.Name, backup.Name),
		Metadata: map[string]string{
			"volume":   volume.Name,
			"snapshot": snap.Name,
			"backup":   backup.Name,
			"url":      backup.URL,
		},
	})

	job := req.Labels[types.LabelRecurringJob]
	if job != "" && req.Retain > 0 {
		if err := c.applyRetention(ctx, store, volume.Name, job, req.Retain); err != nil {
			return errors.Wrapf(err, "backup %s completed but retention failed", backup.Name)
		}
	}
	return nil
}

func (c *Coordinator) transfer(ctx context.Context, store *backupstore.Store, volume *types.Volume,
	replica *types.Replica, snap *types.Snapshot, labels map[string]string) (*types.Backup, int64, error) {
	name := fmt.Sprintf(backupNameFmt, uuid.New().String()[:8])

	rc, err := c.data.ExportSnapshot(ctx, replica, snap.Name)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to export snapshot %s", snap.Name)
	}
	defer rc.Close()

	size, err := store.Put(ctx, blockKey(volume.Name, name), rc)
	if err != nil {
		return nil, size, err
	}

	backup := &types.Backup{
		Name:            name,
		URL:             backupURL(store.URL(), volume.Name, name),
		SnapshotName:    snap.Name,
		SnapshotCreated: snap.Created,
		Created:         time.Now().UTC(),
		VolumeName:      volume.Name,
		VolumeSize:      volume.Size,
		VolumeCreated:   volume.Created,
		Labels:          labels,
	}
	if err := store.PutJSON(ctx, backupKey(volume.Name, name), backup); err != nil {
		_ = store.Delete(ctx, blockKey(volume.Name, name))
		return nil, size, err
	}

	unlock := c.lockVolume(volume.Name)
	defer unlock()

	bv := &types.BackupVolume{}
	err = store.GetJSON(ctx, volumeKey(volume.Name), bv)
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		bv = &types.BackupVolume{Name: volume.Name, Size: volume.Size, Created: volume.Created}
	case err != nil:
		return nil, size, err
	}
	bv.LastBackupName = name
	if err := store.PutJSON(ctx, volumeKey(volume.Name), bv); err != nil {
		return nil, size, err
	}
	return backup, size, nil
}

// applyRetention deletes the oldest backups labelled with job beyond retain
func (c *Coordinator) applyRetention(ctx context.Context, store *backupstore.Store, volume, job string, retain int) error {
	backups, err := c.list(ctx, store, volume)
	if err != nil {
		return err
	}

	var labelled []*types.Backup
	for _, b := range backups {
		if b.Labels[types.LabelRecurringJob] == job {
			labelled = append(labelled, b)
		}
	}
	for len(labelled) > retain {
		if err := c.delete(ctx, store, volume, labelled[0].Name); err != nil {
			return err
		}
		labelled = labelled[1:]
	}
	return nil
}

// ListVolumes returns every volume that has backups on the target
func (c *Coordinator) ListVolumes(ctx context.Context) ([]*types.BackupVolume, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}

	names, err := store.List(ctx, storeRoot)
	if err != nil {
		return nil, err
	}

	volumes := make([]*types.BackupVolume, 0, len(names))
	for _, name := range names {
		bv := &types.BackupVolume{}
		if err := store.GetJSON(ctx, volumeKey(name), bv); err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		volumes = append(volumes, bv)
	}
	return volumes, nil
}

// GetVolume returns the backup volume record of a volume
func (c *Coordinator) GetVolume(ctx context.Context, name string) (*types.BackupVolume, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}

	bv := &types.BackupVolume{}
	if err := store.GetJSON(ctx, volumeKey(name), bv); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, errdefs.NewNotFoundError("backup volume %s not found", name)
		}
		return nil, err
	}
	return bv, nil
}

// List returns the backups of a volume, oldest first
func (c *Coordinator) List(ctx context.Context, volume string) ([]*types.Backup, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	return c.list(ctx, store, volume)
}

func (c *Coordinator) list(ctx context.Context, store *backupstore.Store, volume string) ([]*types.Backup, error) {
	names, err := store.List(ctx, path.Join(storeRoot, volume, backupsDir))
	if err != nil {
		return nil, err
	}

	backups := make([]*types.Backup, 0, len(names))
	for _, file := range names {
		if !strings.HasPrefix(file, backupPrefix) || !strings.HasSuffix(file, backupSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(file, backupPrefix), backupSuffix)

		b := &types.Backup{}
		if err := store.GetJSON(ctx, backupKey(volume, name), b); err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Created.Equal(backups[j].Created) {
			return backups[i].Name < backups[j].Name
		}
		return backups[i].Created.Before(backups[j].Created)
	})
	return backups, nil
}

// Get returns one backup of a volume
func (c *Coordinator) Get(ctx context.Context, volume, name string) (*types.Backup, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}

	b := &types.Backup{}
	if err := store.GetJSON(ctx, backupKey(volume, name), b); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, errdefs.NewNotFoundError("backup %s of volume %s not found", name, volume)
		}
		return nil, err
	}
	return b, nil
}

// Lookup resolves a backup URL on the current backup target
func (c *Coordinator) Lookup(ctx context.Context, backupURL string) (*types.Backup, error) {
	target, query, ok := strings.Cut(backupURL, "?")
	if !ok {
		return nil, errdefs.NewInvalidArgumentError("backup URL %q has no backup query", backupURL)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, errdefs.NewInvalidArgumentError("invalid backup URL %q: %v", backupURL, err)
	}
	volume, name := values.Get("volume"), values.Get("backup")
	if volume == "" || name == "" {
		return nil, errdefs.NewInvalidArgumentError("backup URL %q needs backup and volume", backupURL)
	}

	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	if target != store.URL() {
		return nil, errdefs.NewInvalidArgumentError("backup %s is not on the backup target %s", backupURL, store.URL())
	}
	return c.Get(ctx, volume, name)
}

// Restore writes the data of a backup into a volume attached on its
// controller host
func (c *Coordinator) Restore(ctx context.Context, volume *types.Volume, b *types.Backup) error {
	store, err := c.Store(ctx)
	if err != nil {
		return err
	}
	if b.VolumeSize > volume.Size {
		return errdefs.NewInvalidArgumentError("backup %s holds %d bytes, volume %s has %d",
			b.Name, b.VolumeSize, volume.Name, volume.Size)
	}

	rc, err := store.Get(ctx, blockKey(b.VolumeName, b.Name))
	if err != nil {
		return errors.Wrapf(err, "failed to read backup %s", b.Name)
	}
	defer rc.Close()

	timer := metrics.NewTimer()
	if err := c.data.ImportVolume(ctx, volume, rc); err != nil {
		return errors.Wrapf(err, "failed to restore backup %s into volume %s", b.Name, volume.Name)
	}

	c.logger.Info().
		Str("volume", volume.Name).
		Str("backup", b.Name).
		Dur("duration", timer.Duration()).
		Msg("Backup restored")
	return nil
}

// Delete removes a backup and its block object. The backup volume record
// goes with the last backup.
func (c *Coordinator) Delete(ctx context.Context, volume, name string) error {
	store, err := c.Store(ctx)
	if err != nil {
		return err
	}
	return c.delete(ctx, store, volume, name)
}

func (c *Coordinator) delete(ctx context.Context, store *backupstore.Store, volume, name string) error {
	exists, err := store.Exists(ctx, backupKey(volume, name))
	if err != nil {
		return err
	}
	if !exists {
		return errdefs.NewNotFoundError("backup %s of volume %s not found", name, volume)
	}

	if err := store.Delete(ctx, blockKey(volume, name)); err != nil {
		return err
	}
	if err := store.Delete(ctx, backupKey(volume, name)); err != nil {
		return err
	}

	unlock := c.lockVolume(volume)
	defer unlock()

	remaining, err := c.list(ctx, store, volume)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		c.logger.Info().Str("volume", volume).Msg("Last backup deleted, removing backup volume")
		return store.Delete(ctx, volumeKey(volume))
	}

	bv := &types.BackupVolume{}
	if err := store.GetJSON(ctx, volumeKey(volume), bv); err != nil {
		return err
	}
	if bv.LastBackupName == name {
		bv.LastBackupName = remaining[len(remaining)-1].Name
		return store.PutJSON(ctx, volumeKey(volume), bv)
	}
	return nil
}

func (c *Coordinator) lockVolume(volume string) func() {
	mu, _ := c.volumeLocks.LoadOrStore(volume, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func runningReplica(volume *types.Volume) *types.Replica {
	for _, r := range volume.Replicas {
		if r.Running {
			return r
		}
	}
	return nil
}

func volumeKey(volume string) string {
	return path.Join(storeRoot, volume, volumeCfg)
}

func backupKey(volume, name string) string {
	return path.Join(storeRoot, volume, backupsDir, backupPrefix+name+backupSuffix)
}

func blockKey(volume, name string) string {
	return path.Join(storeRoot, volume, blocksDir, name+blockSuffix)
}

// backupURL identifies a backup independently of the node that wrote it
func backupURL(target, volume, name string) string {
	v := url.Values{}
	v.Set("backup", name)
	v.Set("volume", volume)
	return target + "?" + v.Encode()
}
