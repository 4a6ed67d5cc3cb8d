/*
Package backup copies snapshots to the backup target and manages the
records kept there.

A backup runs as a background task on the volume's queue. The task streams
the snapshot from a running replica through the data engine into the store
and then writes the JSON records:

	backupstore/volumes/<volume>/volume.cfg
	backupstore/volumes/<volume>/backups/backup_<name>.cfg
	backupstore/volumes/<volume>/blocks/<name>.blk

The volume record is created with the first backup of a volume and removed
with its last one. Backups taken by a recurring job carry the job name in
the RecurringJob label, and the job's retain count bounds how many of them
are kept.
*/
package backup
