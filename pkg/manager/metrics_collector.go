package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// MetricsCollector periodically refreshes the cluster state gauges
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager:  mgr,
		interval: 10 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectHostMetrics()
	c.collectVolumeMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectHostMetrics() {
	hosts, err := c.manager.ListHosts()
	if err != nil {
		return
	}

	counts := map[types.HostStatus]int{
		types.HostStatusReady: 0,
		types.HostStatusDown:  0,
	}
	for _, host := range hosts {
		counts[host.Status]++
	}

	for status, count := range counts {
		metrics.HostsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectVolumeMetrics() {
	volumes, err := c.manager.ListVolumes()
	if err != nil {
		return
	}

	states := map[types.VolumeState]int{
		types.VolumeStateDetached:  0,
		types.VolumeStateAttaching: 0,
		types.VolumeStateHealthy:   0,
		types.VolumeStateFaulted:   0,
		types.VolumeStateDetaching: 0,
	}
	replicas := 0
	snapshots := map[bool]int{false: 0, true: 0}

	for _, volume := range volumes {
		states[volume.State]++
		replicas += len(volume.Replicas)

		chain, err := c.manager.GetSnapshotChain(volume.Name)
		if err != nil {
			continue
		}
		for _, snap := range chain.Snapshots {
			snapshots[snap.Removed]++
		}
	}

	for state, count := range states {
		metrics.VolumesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	metrics.ReplicasTotal.Set(float64(replicas))
	for removed, count := range snapshots {
		metrics.SnapshotsTotal.WithLabelValues(strconv.FormatBool(removed)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
