package recurring

import (
	"context"
	"reflect"
	"sync"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrSkipped is returned by a Runner that declined to run a firing, for
// example because the node is not the leader or the volume is not healthy
var ErrSkipped = errors.New("recurring job skipped")

// Runner executes one firing of a recurring job
type Runner interface {
	RunRecurringJob(ctx context.Context, volume string, job types.RecurringJob) error
}

type volumeCron struct {
	cron *cron.Cron
	jobs []types.RecurringJob
}

// Scheduler keeps one cron instance per volume with one entry per job
type Scheduler struct {
	runner Runner

	mu      sync.Mutex
	volumes map[string]*volumeCron

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewScheduler creates a scheduler that fires jobs through runner
func NewScheduler(runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:  runner,
		volumes: make(map[string]*volumeCron),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("recurring"),
	}
}

// Validate checks a job set: names unique and non-empty, cron expressions
// parseable, tasks known and retain not negative
func Validate(jobs []types.RecurringJob) error {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return errdefs.NewInvalidArgumentError("recurring job name is required")
		}
		if seen[job.Name] {
			return errdefs.NewNameConflictError("duplicate recurring job name %s", job.Name)
		}
		seen[job.Name] = true

		if _, err := cron.ParseStandard(job.Cron); err != nil {
			return errdefs.NewInvalidArgumentError("invalid cron %q for job %s: %v", job.Cron, job.Name, err)
		}
		if job.Task != types.RecurringTaskSnapshot && job.Task != types.RecurringTaskBackup {
			return errdefs.NewInvalidArgumentError("unknown task %q for job %s", job.Task, job.Name)
		}
		if job.Retain < 0 {
			return errdefs.NewInvalidArgumentError("retain of job %s must not be negative", job.Name)
		}
	}
	return nil
}

// Sync replaces the cron entries of a volume when its job set changed
func (s *Scheduler) Sync(volume string, jobs []types.RecurringJob) error {
	if err := Validate(jobs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.volumes[volume]
	if ok && reflect.DeepEqual(current.jobs, jobs) {
		return nil
	}
	if ok {
		current.cron.Stop()
		delete(s.volumes, volume)
	}
	if len(jobs) == 0 {
		return nil
	}

	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.Cron, func() { s.fire(volume, job) }); err != nil {
			return errdefs.NewInvalidArgumentError("invalid cron %q for job %s: %v", job.Cron, job.Name, err)
		}
	}
	c.Start()

	s.volumes[volume] = &volumeCron{cron: c, jobs: append([]types.RecurringJob(nil), jobs...)}
	s.logger.Info().Str("volume", volume).Int("jobs", len(jobs)).Msg("Recurring jobs scheduled")
	return nil
}

// Remove stops the cron entries of a volume
func (s *Scheduler) Remove(volume string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.volumes[volume]; ok {
		current.cron.Stop()
		delete(s.volumes, volume)
	}
}

// Jobs returns the scheduled job set of a volume
func (s *Scheduler) Jobs(volume string) []types.RecurringJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.volumes[volume]; ok {
		return append([]types.RecurringJob(nil), current.jobs...)
	}
	return nil
}

// Volumes returns the names of volumes with scheduled jobs
func (s *Scheduler) Volumes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.volumes))
	for name := range s.volumes {
		names = append(names, name)
	}
	return names
}

// Stop stops every cron instance and cancels running firings
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, current := range s.volumes {
		current.cron.Stop()
		delete(s.volumes, name)
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) fire(volume string, job types.RecurringJob) {
	logger := s.logger.With().Str("volume", volume).Str("job", job.Name).Logger()

	err := s.runner.RunRecurringJob(s.ctx, volume, job)
	switch {
	case err == nil:
		metrics.RecurringRuns.WithLabelValues(string(job.Task), "ok").Inc()
		logger.Debug().Msg("Recurring job fired")
	case errors.Is(err, ErrSkipped):
		metrics.RecurringRuns.WithLabelValues(string(job.Task), "skipped").Inc()
		logger.Debug().Err(err).Msg("Recurring job skipped")
	default:
		metrics.RecurringRuns.WithLabelValues(string(job.Task), "error").Inc()
		logger.Error().Err(err).Msg("Recurring job failed")
	}
}

// cronLogger adapts zerolog to the cron.Logger interface
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
