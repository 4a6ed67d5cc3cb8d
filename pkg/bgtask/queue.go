package bgtask

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Func is the work of a background task
type Func func(ctx context.Context) error

// Task is a handle on a submitted background task
type Task struct {
	mu       *sync.Mutex
	info     types.BgTask
	fn       Func
	snapshot string
	done     chan struct{}
	err      error
}

// Option configures a submitted task
type Option func(*Task)

// Pin records that the task reads a snapshot, which must keep its data
// until the task has finished
func Pin(snapshot string) Option {
	return func(t *Task) {
		t.snapshot = snapshot
	}
}

// Info returns a copy of the task record
func (t *Task) Info() types.BgTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyTask(&t.info)
}

// Done is closed when the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns an AsyncTaskFailureError once a failed task has finished
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue runs the background tasks of one volume in submission order
type Queue struct {
	volume string

	mu      sync.Mutex
	nextNum int64
	tasks   []*Task // last finished task, then pending tasks in order
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewQueue creates a queue and starts its worker
func NewQueue(volume string) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		volume:  volume,
		nextNum: 1,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithVolume(volume).With().Str("component", "bgtask").Logger(),
	}
	go q.run()
	return q
}

// Submit appends a task to the queue. Numbers start at 1 and are never reused.
func (q *Queue) Submit(description string, fn Func, opts ...Option) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, errdefs.NewNotFoundError("task queue of volume %s is closed", q.volume)
	}

	task := &Task{
		mu: &q.mu,
		info: types.BgTask{
			Num:         q.nextNum,
			VolumeName:  q.volume,
			Description: description,
			Created:     time.Now().UTC(),
		},
		fn:   fn,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(task)
	}
	q.nextNum++
	q.tasks = append(q.tasks, task)
	metrics.BgTasksQueued.Inc()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return task, nil
}

// List returns the visible queue: the most recently finished task, if any,
// followed by the running and pending tasks
func (q *Queue) List() []types.BgTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.BgTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, copyTask(&t.info))
	}
	return out
}

// Pinned returns the snapshots read by tasks that have not finished
func (q *Queue) Pinned() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	pinned := make(map[string]bool)
	for _, t := range q.tasks {
		if t.snapshot != "" && t.info.Finished == nil {
			pinned[t.snapshot] = true
		}
	}
	return pinned
}

// Close stops the worker after the running task. Tasks that have not
// started finish with an error.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.stopped
	q.cancel()
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		task, closed := q.next()
		if closed {
			q.abandonPending()
			return
		}
		if task == nil {
			<-q.wake
			continue
		}
		q.execute(task)
	}
}

// next returns the first unfinished task
func (q *Queue) next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, true
	}
	for _, t := range q.tasks {
		if t.info.Finished == nil {
			return t, false
		}
	}
	return nil, false
}

func (q *Queue) execute(task *Task) {
	logger := log.WithTask(q.volume, task.info.Num)
	logger.Debug().Str("description", task.info.Description).Msg("Running background task")

	err := task.fn(q.ctx)
	q.finish(task, err)

	if err != nil {
		metrics.BgTaskFailures.Inc()
		logger.Error().Err(err).Str("description", task.info.Description).Msg("Background task failed")
	} else {
		metrics.BgTasksCompleted.Inc()
		logger.Debug().Msg("Background task finished")
	}
}

// finish records the outcome and drops every task finished before this one
func (q *Queue) finish(task *Task, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	task.info.Finished = &now
	if err != nil {
		msg := err.Error()
		task.info.Err = &msg
		task.err = errdefs.NewAsyncTaskFailureError("task %d (%s) of volume %s failed: %v",
			task.info.Num, task.info.Description, q.volume, err)
	}

	for i, t := range q.tasks {
		if t == task {
			q.tasks = q.tasks[i:]
			break
		}
	}

	metrics.BgTasksQueued.Dec()
	close(task.done)
}

func (q *Queue) abandonPending() {
	q.mu.Lock()
	var pending []*Task
	for _, t := range q.tasks {
		if t.info.Finished == nil {
			pending = append(pending, t)
		}
	}
	q.mu.Unlock()

	for _, t := range pending {
		q.finish(t, errdefs.NewNotFoundError("volume %s removed before the task ran", q.volume))
	}
}

func copyTask(t *types.BgTask) types.BgTask {
	out := *t
	if t.Finished != nil {
		f := *t.Finished
		out.Finished = &f
	}
	if t.Err != nil {
		e := *t.Err
		out.Err = &e
	}
	return out
}
