package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_hosts_total",
			Help: "Total number of hosts by status",
		},
		[]string{"status"},
	)

	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_volumes_total",
			Help: "Total number of volumes by state",
		},
		[]string{"state"},
	)

	ReplicasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_replicas_total",
			Help: "Total number of replicas across all volumes",
		},
	)

	SnapshotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_snapshots_total",
			Help: "Total number of snapshots by removed flag",
		},
		[]string{"removed"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_raft_apply_duration_seconds",
			Help:    "Time taken to commit a command through raft",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Volume operation metrics
	VolumeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_volume_operation_duration_seconds",
			Help:    "Duration of volume operations by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	VolumeOperationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_volume_operation_failures_total",
			Help: "Total number of failed volume operations by operation",
		},
		[]string{"operation"},
	)

	EngineRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_engine_retries_total",
			Help: "Total number of retried data engine commands by command",
		},
		[]string{"command"},
	)

	// Scheduler metrics
	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_placement_latency_seconds",
			Help:    "Time taken to place replicas in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicasPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_replicas_placed_total",
			Help: "Total number of replicas placed",
		},
	)

	// Background task metrics
	BgTasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_bgtasks_queued",
			Help: "Number of pending or running background tasks",
		},
	)

	BgTasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bgtasks_completed_total",
			Help: "Total number of background tasks that finished successfully",
		},
	)

	BgTaskFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bgtask_failures_total",
			Help: "Total number of background tasks that finished with an error",
		},
	)

	// Backup metrics
	BackupsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_backups_pushed_total",
			Help: "Total number of backups written to the backup store",
		},
	)

	BackupBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_backup_bytes_total",
			Help: "Total number of snapshot bytes written to the backup store",
		},
	)

	BackupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_backup_failures_total",
			Help: "Total number of backups that failed before completing",
		},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_backup_duration_seconds",
			Help:    "Time taken to push one backup",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	// Recurring job metrics
	RecurringRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_recurring_runs_total",
			Help: "Total number of recurring job firings by task and result",
		},
		[]string{"task", "result"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)
)

func init() {
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(ReplicasTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(VolumeOperationDuration)
	prometheus.MustRegister(VolumeOperationFailures)
	prometheus.MustRegister(EngineRetries)
	prometheus.MustRegister(PlacementLatency)
	prometheus.MustRegister(ReplicasPlaced)
	prometheus.MustRegister(BgTasksQueued)
	prometheus.MustRegister(BgTasksCompleted)
	prometheus.MustRegister(BgTaskFailures)
	prometheus.MustRegister(BackupsPushed)
	prometheus.MustRegister(BackupBytes)
	prometheus.MustRegister(BackupFailures)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(RecurringRuns)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
