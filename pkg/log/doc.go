/*
Package log provides structured logging for Burrow using zerolog.

A single global zerolog logger is initialized once by the burrow binary and
shared by every package. Packages derive child loggers that carry a fixed
field so lines can be filtered per subsystem or per volume:

	logger := log.WithComponent("volume")
	logger.Info().Str("host", hostID).Msg("Volume attached")

	vlog := log.WithVolume("vol1")
	vlog.Warn().Err(err).Msg("Engine command failed, retrying")

# Output

Init selects console or JSON rendering. Writer returns the destination
shared by the global logger, raft's hclog output and the HTTP access log:
stdout by default, or a lumberjack rotating file when a log file is
configured:

	w, err := log.Writer("/var/log/burrow/burrow.log")
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: w})

Files rotate at 500 MB, keep three compressed backups and expire after 28
days.

# Levels

debug, info, warn and error map onto the zerolog levels of the same name.
Unknown values fall back to info.

# Fields

Child loggers use these field names:

  - component: subsystem (manager, volume, scheduler, backup, recurring, ...)
  - host_id: host UUID
  - volume: volume name
  - task: background task number
*/
package log
