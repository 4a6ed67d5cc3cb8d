/*
Package metrics exposes Burrow's Prometheus metrics and process health.

All collectors are package-level variables registered in init(), so any
package can record into them without wiring:

	timer := metrics.NewTimer()
	err := engine.StartController(ctx, vol, hostID, addrs)
	timer.ObserveDurationVec(metrics.VolumeOperationDuration, "attach")
	if err != nil {
		metrics.VolumeOperationFailures.WithLabelValues("attach").Inc()
	}

Gauges describing cluster state (hosts, volumes, snapshots, raft indexes)
are refreshed by the manager's MetricsCollector. Counters and histograms are
recorded inline by the code doing the work.

# Metric families

	burrow_hosts_total{status}
	burrow_volumes_total{state}
	burrow_replicas_total
	burrow_snapshots_total{removed}
	burrow_raft_is_leader, burrow_raft_peers_total
	burrow_raft_log_index, burrow_raft_applied_index
	burrow_raft_apply_duration_seconds
	burrow_api_requests_total{method,status}
	burrow_api_request_duration_seconds{method}
	burrow_volume_operation_duration_seconds{operation}
	burrow_volume_operation_failures_total{operation}
	burrow_engine_retries_total{command}
	burrow_placement_latency_seconds, burrow_replicas_placed_total
	burrow_bgtasks_queued, burrow_bgtasks_completed_total, burrow_bgtask_failures_total
	burrow_backups_pushed_total, burrow_backup_bytes_total, burrow_backup_duration_seconds
	burrow_recurring_runs_total{task,result}

# Health

UpdateComponent records the state of the raft, engine and api components.
/health fails when any component is unhealthy; /ready fails until all three
critical components have reported healthy.
*/
package metrics
