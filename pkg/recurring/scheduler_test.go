package recurring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	fired map[string]int
	err   error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fired: make(map[string]int)}
}

func (r *fakeRunner) RunRecurringJob(ctx context.Context, volume string, job types.RecurringJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired[volume+"/"+job.Name]++
	return r.err
}

func (r *fakeRunner) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[key]
}

func TestValidate(t *testing.T) {
	snapshotJob := types.RecurringJob{Name: "hourly", Cron: "0 * * * *", Task: types.RecurringTaskSnapshot, Retain: 5}

	tests := []struct {
		name string
		jobs []types.RecurringJob
		want error
	}{
		{"empty set", nil, nil},
		{"valid", []types.RecurringJob{snapshotJob, {Name: "nightly", Cron: "@every 24h", Task: types.RecurringTaskBackup, Retain: 7}}, nil},
		{"duplicate name", []types.RecurringJob{snapshotJob, snapshotJob}, errdefs.ErrNameConflict},
		{"missing name", []types.RecurringJob{{Cron: "* * * * *", Task: types.RecurringTaskSnapshot}}, errdefs.ErrInvalidArgument},
		{"bad cron", []types.RecurringJob{{Name: "x", Cron: "every tuesday", Task: types.RecurringTaskSnapshot}}, errdefs.ErrInvalidArgument},
		{"unknown task", []types.RecurringJob{{Name: "x", Cron: "* * * * *", Task: "clone"}}, errdefs.ErrInvalidArgument},
		{"negative retain", []types.RecurringJob{{Name: "x", Cron: "* * * * *", Task: types.RecurringTaskSnapshot, Retain: -1}}, errdefs.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.jobs)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSyncFiresJobs(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner)
	defer s.Stop()

	jobs := []types.RecurringJob{{Name: "fast", Cron: "@every 1s", Task: types.RecurringTaskSnapshot, Retain: 2}}
	require.NoError(t, s.Sync("vol1", jobs))

	assert.Eventually(t, func() bool { return runner.count("vol1/fast") >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, jobs, s.Jobs("vol1"))
	assert.Equal(t, []string{"vol1"}, s.Volumes())
}

func TestSyncUnchangedKeepsCron(t *testing.T) {
	s := NewScheduler(newFakeRunner())
	defer s.Stop()

	jobs := []types.RecurringJob{{Name: "hourly", Cron: "@hourly", Task: types.RecurringTaskBackup, Retain: 1}}
	require.NoError(t, s.Sync("vol1", jobs))
	before := s.volumes["vol1"].cron

	require.NoError(t, s.Sync("vol1", jobs))
	assert.Same(t, before, s.volumes["vol1"].cron)

	jobs[0].Retain = 3
	require.NoError(t, s.Sync("vol1", jobs))
	assert.NotSame(t, before, s.volumes["vol1"].cron)
}

func TestSyncEmptyAndRemove(t *testing.T) {
	s := NewScheduler(newFakeRunner())
	defer s.Stop()

	jobs := []types.RecurringJob{{Name: "hourly", Cron: "@hourly", Task: types.RecurringTaskSnapshot}}
	require.NoError(t, s.Sync("vol1", jobs))
	require.NoError(t, s.Sync("vol1", nil))
	assert.Empty(t, s.Jobs("vol1"))

	require.NoError(t, s.Sync("vol2", jobs))
	s.Remove("vol2")
	assert.Empty(t, s.Volumes())

	err := s.Sync("vol3", []types.RecurringJob{{Name: "bad", Cron: "nope", Task: types.RecurringTaskSnapshot}})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestFireCountsSkips(t *testing.T) {
	runner := newFakeRunner()
	runner.err = ErrSkipped
	s := NewScheduler(runner)
	defer s.Stop()

	s.fire("vol1", types.RecurringJob{Name: "hourly", Task: types.RecurringTaskSnapshot})
	assert.Equal(t, 1, runner.count("vol1/hourly"))
}

func TestFireMatchesWrappedSkip(t *testing.T) {
	runner := newFakeRunner()
	runner.err = errors.Wrap(ErrSkipped, "volume vol1 is detached")
	s := NewScheduler(runner)
	defer s.Stop()

	skipped := metrics.RecurringRuns.WithLabelValues(string(types.RecurringTaskBackup), "skipped")
	failed := metrics.RecurringRuns.WithLabelValues(string(types.RecurringTaskBackup), "error")
	skippedBefore, failedBefore := testutil.ToFloat64(skipped), testutil.ToFloat64(failed)

	s.fire("vol1", types.RecurringJob{Name: "nightly", Task: types.RecurringTaskBackup})
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(skipped))
	assert.Equal(t, failedBefore, testutil.ToFloat64(failed))
}
