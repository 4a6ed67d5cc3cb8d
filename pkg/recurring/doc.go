/*
Package recurring fires the cron-scheduled snapshot and backup jobs of
volumes.

Each volume with jobs owns a robfig/cron instance holding one entry per job.
Cron expressions use the standard five-field syntax and the descriptors
cron accepts (@hourly, @every 30m). Sync is idempotent: an unchanged job set
leaves the running cron alone, a changed one replaces it.

A firing calls the Runner, which is the volume manager. The runner returns
ErrSkipped when the node is not the leader or the volume is not healthy;
skips, successes and failures are counted in burrow_recurring_runs_total.
Overlapping firings of the same entry are skipped while the previous one
still runs.
*/
package recurring
