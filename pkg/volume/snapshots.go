package volume

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/backup"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/recurring"
	"github.com/cuemby/burrow/pkg/snapshot"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SnapshotCreate takes a snapshot of a healthy volume. An empty name is
// replaced by a generated one.
func (m *Manager) SnapshotCreate(ctx context.Context, name, snapName string, labels map[string]string) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := m.do(ctx, name, func() error {
		var err error
		snap, err = m.snapshotCreate(ctx, name, snapName, labels)
		return err
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("snapshotCreate").Inc()
		return nil, err
	}
	return snap, nil
}

func (m *Manager) snapshotCreate(ctx context.Context, name, snapName string, labels map[string]string) (*types.Snapshot, error) {
	volume, chain, err := m.healthyVolume(name)
	if err != nil {
		return nil, err
	}
	if snapName == "" {
		snapName = uuid.New().String()[:8]
	}

	next := snapshot.Clone(chain)
	snap, err := snapshot.Create(next, snapName, time.Now().UTC(), labels)
	if err != nil {
		return nil, err
	}

	if err := m.engine.SnapshotCreate(ctx, volume, snapName, labels); err != nil {
		return nil, errors.Wrapf(err, "failed to create snapshot %s", snapName)
	}
	if err := m.cluster.PutSnapshotChain(next); err != nil {
		return nil, err
	}

	vlog := log.WithVolume(name)
	vlog.Info().Str("snapshot", snapName).Msg("Snapshot created")
	m.publishSnapshot(events.EventSnapshotCreated, name, snapName)
	return snap, nil
}

// SnapshotList returns the snapshots of a volume ordered by creation time
func (m *Manager) SnapshotList(name string) ([]*types.Snapshot, error) {
	if _, err := m.cluster.GetVolume(name); err != nil {
		return nil, err
	}
	chain, err := m.cluster.GetSnapshotChain(name)
	if err != nil {
		return nil, err
	}
	return snapshot.List(chain), nil
}

// SnapshotGet returns one snapshot of a volume
func (m *Manager) SnapshotGet(name, snapName string) (*types.Snapshot, error) {
	if _, err := m.cluster.GetVolume(name); err != nil {
		return nil, err
	}
	chain, err := m.cluster.GetSnapshotChain(name)
	if err != nil {
		return nil, err
	}
	return snapshot.Get(chain, snapName)
}

// SnapshotDelete marks a snapshot removed. Its data stays until a purge.
func (m *Manager) SnapshotDelete(ctx context.Context, name, snapName string) error {
	err := m.do(ctx, name, func() error {
		volume, chain, err := m.healthyVolume(name)
		if err != nil {
			return err
		}

		next := snapshot.Clone(chain)
		if err := snapshot.Delete(next, snapName); err != nil {
			return err
		}
		if err := m.engine.SnapshotDelete(ctx, volume, snapName); err != nil {
			return errors.Wrapf(err, "failed to delete snapshot %s", snapName)
		}
		if err := m.cluster.PutSnapshotChain(next); err != nil {
			return err
		}

		vlog := log.WithVolume(name)
		vlog.Info().Str("snapshot", snapName).Msg("Snapshot marked removed")
		m.publishSnapshot(events.EventSnapshotDeleted, name, snapName)
		return nil
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("snapshotDelete").Inc()
	}
	return err
}

// SnapshotRevert moves the volume head under snapName
func (m *Manager) SnapshotRevert(ctx context.Context, name, snapName string) error {
	err := m.do(ctx, name, func() error {
		volume, chain, err := m.healthyVolume(name)
		if err != nil {
			return err
		}

		next := snapshot.Clone(chain)
		if err := snapshot.Revert(next, snapName); err != nil {
			return err
		}
		if err := m.engine.SnapshotRevert(ctx, volume, snapName); err != nil {
			return errors.Wrapf(err, "failed to revert to snapshot %s", snapName)
		}
		if err := m.cluster.PutSnapshotChain(next); err != nil {
			return err
		}

		vlog := log.WithVolume(name)
		vlog.Info().Str("snapshot", snapName).Msg("Volume reverted")
		m.publishSnapshot(events.EventSnapshotReverted, name, snapName)
		return nil
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("snapshotRevert").Inc()
	}
	return err
}

// SnapshotPurge reclaims removed snapshots that the chain no longer needs
// and returns their names in purge order
func (m *Manager) SnapshotPurge(ctx context.Context, name string) ([]string, error) {
	var purged []string
	err := m.do(ctx, name, func() error {
		volume, chain, err := m.healthyVolume(name)
		if err != nil {
			return err
		}
		purged, err = m.purge(ctx, volume, chain)
		return err
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("snapshotPurge").Inc()
		return nil, err
	}
	return purged, nil
}

func (m *Manager) purge(ctx context.Context, volume *types.Volume, chain *types.SnapshotChain) ([]string, error) {
	if held := m.heldByTask(chain); held != "" {
		return nil, errdefs.NewAttachConflictError("snapshot %s of volume %s has a queued backup, purge once it finishes", held, volume.Name)
	}

	next := snapshot.Clone(chain)
	purged := snapshot.Purge(next)

	if err := m.engine.SnapshotPurge(ctx, volume); err != nil {
		return nil, errors.Wrap(err, "failed to purge snapshots")
	}
	if len(purged) == 0 {
		return []string{}, nil
	}
	if err := m.cluster.PutSnapshotChain(next); err != nil {
		return nil, err
	}

	vlog := log.WithVolume(volume.Name)
	vlog.Info().Strs("snapshots", purged).Msg("Snapshots purged")
	m.publishSnapshot(events.EventSnapshotPurged, volume.Name, strings.Join(purged, ","))
	return purged, nil
}

// heldByTask returns a snapshot a purge would reclaim while an unfinished
// background task still reads it, or ""
func (m *Manager) heldByTask(chain *types.SnapshotChain) string {
	pinned := m.tasks.Pinned(chain.VolumeName)
	if len(pinned) == 0 {
		return ""
	}
	for _, name := range snapshot.Purgeable(chain) {
		if pinned[name] {
			return name
		}
	}
	return ""
}

// SnapshotBackup queues a backup of a snapshot and returns the queued task
func (m *Manager) SnapshotBackup(ctx context.Context, name, snapName string, labels map[string]string) (types.BgTask, error) {
	var info types.BgTask
	err := m.do(ctx, name, func() error {
		if _, _, err := m.healthyVolume(name); err != nil {
			return err
		}
		task, err := m.backups.Backup(ctx, backup.Request{Volume: name, Snapshot: snapName, Labels: labels})
		if err != nil {
			return err
		}
		info = task.Info()
		return nil
	})
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("snapshotBackup").Inc()
		return types.BgTask{}, err
	}
	return info, nil
}

// RunRecurringJob executes one firing of a recurring job. Firings are
// skipped on followers and for volumes that are not healthy.
func (m *Manager) RunRecurringJob(ctx context.Context, name string, job types.RecurringJob) error {
	if !m.cluster.IsLeader() {
		return recurring.ErrSkipped
	}

	return m.do(ctx, name, func() error {
		volume, chain, err := m.healthyVolume(name)
		if err != nil {
			if errors.Is(err, errdefs.ErrAttachConflict) {
				return recurring.ErrSkipped
			}
			return err
		}
		logger := log.WithVolume(name).With().Str("job", job.Name).Logger()

		labels := map[string]string{types.LabelRecurringJob: job.Name}
		snapName := fmt.Sprintf("%s-%s", job.Name, uuid.New().String()[:8])

		next := snapshot.Clone(chain)
		if _, err := snapshot.Create(next, snapName, time.Now().UTC(), labels); err != nil {
			return err
		}
		if err := m.engine.SnapshotCreate(ctx, volume, snapName, labels); err != nil {
			return errors.Wrapf(err, "failed to create snapshot %s", snapName)
		}

		// snapshots still waiting for their backup outlive retain until it ran
		pinned := m.tasks.Pinned(name)
		if job.Retain > 0 {
			for _, old := range snapshot.MarkRetained(next, types.LabelRecurringJob, job.Name, job.Retain, pinned) {
				if err := m.engine.SnapshotDelete(ctx, volume, old); err != nil {
					logger.Warn().Err(err).Str("snapshot", old).Msg("Failed to remove snapshot beyond retain")
					// keep the chain in step with the engine
					next.Snapshots[old].Removed = false
				}
			}
		}
		if err := m.cluster.PutSnapshotChain(next); err != nil {
			return err
		}
		m.publishSnapshot(events.EventSnapshotCreated, name, snapName)

		if job.Retain > 0 {
			if held := m.heldByTask(next); held != "" {
				logger.Debug().Str("snapshot", held).Msg("Purge deferred until the queued backup finishes")
			} else if _, err := m.purge(ctx, volume, next); err != nil {
				logger.Warn().Err(err).Msg("Failed to purge snapshots beyond retain")
			}
		}

		if job.Task == types.RecurringTaskBackup {
			_, err := m.backups.Backup(ctx, backup.Request{
				Volume:   name,
				Snapshot: snapName,
				Labels:   labels,
				Retain:   job.Retain,
			})
			if err != nil {
				return errors.Wrapf(err, "failed to queue backup of %s", snapName)
			}
		}

		m.cluster.PublishEvent(&events.Event{
			Type:    events.EventRecurringFired,
			Message: fmt.Sprintf("Recurring %s job %s ran for volume %s", job.Task, job.Name, name),
			Metadata: map[string]string{
				"volume":   name,
				"job":      job.Name,
				"task":     string(job.Task),
				"snapshot": snapName,
			},
		})
		logger.Info().Str("snapshot", snapName).Msg("Recurring job ran")
		return nil
	})
}

// healthyVolume loads a volume and its chain, failing unless it is healthy
func (m *Manager) healthyVolume(name string) (*types.Volume, *types.SnapshotChain, error) {
	volume, err := m.cluster.GetVolume(name)
	if err != nil {
		return nil, nil, err
	}
	if volume.State != types.VolumeStateHealthy {
		return nil, nil, errdefs.NewAttachConflictError("volume %s is %s, must be attached", name, volume.State)
	}
	chain, err := m.cluster.GetSnapshotChain(name)
	if err != nil {
		return nil, nil, err
	}
	return volume, chain, nil
}

func (m *Manager) publishSnapshot(typ events.EventType, volume, snap string) {
	m.cluster.PublishEvent(&events.Event{
		Type:    typ,
		Message: fmt.Sprintf("Snapshot %s of volume %s: %s", snap, volume, typ),
		Metadata: map[string]string{
			"volume":   volume,
			"snapshot": snap,
		},
	})
}
