package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/types"
)

// Callback receives the deployment ID and the tracked task once the tracker
// reaches a verdict
type Callback func(deploymentID string, task *types.Task)

// TaskFetcher is the slice of the remote client the tracker needs
type TaskFetcher interface {
	GetTask(ctx context.Context, taskURL string) (*asg.RemoteTask, error)
}

// TaskStore persists the tracked task between polls
type TaskStore interface {
	UpdateTask(deploymentID string, task types.Task) error
}

// Options tune the polling cadence and budget
type Options struct {
	PollInterval time.Duration
	MaxRetries   int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3600
	}
	return o
}

// Tracker polls remote task URLs until the task finishes or the retry budget
// runs out. Polls run on the shared pool; each poll reschedules the next, so
// no goroutine is parked per tracked task.
type Tracker struct {
	fetcher TaskFetcher
	store   TaskStore
	pool    *Pool
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New creates a tracker polling through the given pool
func New(pool *Pool, fetcher TaskFetcher, store TaskStore, opts Options) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		fetcher: fetcher,
		store:   store,
		pool:    pool,
		opts:    opts.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("tracker"),
	}
}

// Stop abandons all in-flight polls
func (t *Tracker) Stop() {
	t.cancel()
}

// MaxRetries returns the configured polling budget
func (t *Tracker) MaxRetries() int {
	return t.opts.MaxRetries
}

// Track polls the task's remote URL after one poll interval. On a terminal
// remote status onComplete fires exactly once; when the budget is exhausted
// onTimeout fires exactly once. A track with n retries polls at most n+1
// times.
func (t *Tracker) Track(deploymentID string, task *types.Task, retries int, onComplete, onTimeout Callback) {
	t.pool.Schedule(t.opts.PollInterval, func() {
		t.poll(deploymentID, task, retries, onComplete, onTimeout)
	})
}

func (t *Tracker) poll(deploymentID string, task *types.Task, retries int, onComplete, onTimeout Callback) {
	if t.ctx.Err() != nil {
		return
	}

	metrics.RemotePolls.Inc()
	remote, err := t.fetcher.GetTask(t.ctx, task.URL)
	if err != nil {
		t.recover(deploymentID, task, retries, err, onComplete, onTimeout)
		return
	}

	mergeRemote(task, remote)
	if err := t.store.UpdateTask(deploymentID, *task); err != nil {
		t.recover(deploymentID, task, retries, err, onComplete, onTimeout)
		return
	}

	switch {
	case remote.Finished():
		t.logger.Info().
			Str("deployment", deploymentID).
			Str("task", task.ID).
			Str("status", string(task.Status)).
			Msg("Remote task finished")
		onComplete(deploymentID, task)
	case retries == 0:
		t.logger.Warn().
			Str("deployment", deploymentID).
			Str("task", task.ID).
			Msg("Remote task polling budget exhausted")
		onTimeout(deploymentID, task)
	default:
		t.Track(deploymentID, task, retries-1, onComplete, onTimeout)
	}
}

// recover reschedules after a transient failure and gives up on anything
// else. A non-transient error here is a programming or data problem; the
// task is left as it is and the restart sweep picks the deployment up if
// the process bounces.
func (t *Tracker) recover(deploymentID string, task *types.Task, retries int, err error, onComplete, onTimeout Callback) {
	if !types.Transient(err) {
		t.logger.Error().Err(err).
			Str("deployment", deploymentID).
			Str("task", task.ID).
			Msg("Tracking aborted")
		return
	}
	if retries == 0 {
		onTimeout(deploymentID, task)
		return
	}
	t.logger.Warn().Err(err).
		Str("deployment", deploymentID).
		Str("task", task.ID).
		Int("retries_left", retries-1).
		Msg("Transient failure while polling remote task")
	t.Track(deploymentID, task, retries-1, onComplete, onTimeout)
}

// mergeRemote folds the remote document into the stored task. The remote
// log is authoritative for tracked tasks; the remote update time becomes
// the task end on completion.
func mergeRemote(task *types.Task, remote *asg.RemoteTask) {
	task.Status = remote.TaskStatus()
	if len(remote.Log) > 0 {
		task.Log = remote.Log
	}
	if remote.Finished() && task.End == nil {
		end := remote.UpdateTime
		if end.IsZero() {
			end = time.Now().UTC()
		}
		task.End = &end
	}
}
