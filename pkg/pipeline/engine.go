package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/config"
	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/tracker"
	"github.com/gantryhq/gantry/pkg/types"
)

// Remote is the slice of the auto scaling service client the pipeline drives.
// *asg.Client satisfies it.
type Remote interface {
	CreateGroup(ctx context.Context, environment, region string, form url.Values) (string, error)
	CreateNextGroup(ctx context.Context, environment, region, cluster string, form url.Values) (string, error)
	EnableTraffic(ctx context.Context, environment, region, name, ticket string) (string, error)
	DisableTraffic(ctx context.Context, environment, region, name, ticket string) (string, error)
	DeleteGroup(ctx context.Context, environment, region, name, ticket string) (string, error)
	ShowGroup(ctx context.Context, environment, region, name string) (*asg.Group, error)
	ShowCluster(ctx context.Context, environment, region, cluster string) ([]asg.Generation, error)
	SecurityGroups(ctx context.Context, environment, region string) (map[string]string, error)
	GetLoadBalancer(ctx context.Context, environment, region, name string) (*asg.LoadBalancer, error)
}

// Tracker follows remote tasks and calls back with a verdict
type Tracker interface {
	Track(deploymentID string, task *types.Task, retries int, onComplete, onTimeout tracker.Callback)
	MaxRetries() int
}

// Scheduler runs functions after a delay. The health waits poll through it
// so a deployment never holds a goroutine while waiting.
type Scheduler interface {
	Schedule(delay time.Duration, fn func())
}

// Options tune the in-pipeline health waits
type Options struct {
	HealthPollInterval time.Duration
	HealthMaxAttempts  int
	HealthTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.HealthPollInterval <= 0 {
		o.HealthPollInterval = time.Second
	}
	if o.HealthMaxAttempts <= 0 {
		o.HealthMaxAttempts = 3600
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 5 * time.Second
	}
	return o
}

// Engine drives deployments through the fixed task list. Exactly one
// goroutine works on a given deployment at a time: holding the in-progress
// slot for the environment key is the engine's contract with its callers, so
// no method here takes a lock.
//
// The engine runs on its own context rather than a request's. Deployments
// outlive the HTTP requests that start or resume them, so request contexts
// must never cap a remote call made hours into a rollout.
type Engine struct {
	store  storage.Store
	remote Remote
	track  Tracker
	pool   Scheduler
	coord  *coordination.Coordinator
	broker *events.Broker
	deploy config.DeployConfig
	opts   Options

	probes *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New assembles an engine. Stop releases it.
func New(store storage.Store, remote Remote, track Tracker, pool Scheduler, coord *coordination.Coordinator, broker *events.Broker, deploy config.DeployConfig, opts Options) *Engine {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		remote: remote,
		track:  track,
		pool:   pool,
		coord:  coord,
		broker: broker,
		deploy: deploy,
		opts:   opts,
		probes: &http.Client{Timeout: opts.HealthTimeout},
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("pipeline"),
	}
}

// Stop cancels the engine's context. In-flight callbacks finish their
// current step and then find the context closed.
func (e *Engine) Stop() {
	e.cancel()
}

// Start begins a deployment from its first task. The caller must already
// hold the in-progress slot for the deployment's environment key.
func (e *Engine) Start(d *types.Deployment) {
	now := time.Now().UTC()
	d.Start = &now
	if err := e.store.SaveDeployment(d); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Msg("Failed to persist deployment start")
		return
	}

	metrics.DeploymentsStarted.Inc()
	e.broker.Publish(events.DeploymentEvent(events.EventDeploymentStarted, d, ""))
	e.logger.Info().
		Str("deployment", d.ID).
		Str("application", d.Application).
		Str("environment", d.Environment).
		Str("region", d.Region).
		Str("ami", d.AMI).
		Msg("Deployment started")

	first := d.FirstIncompleteTask()
	if first == nil {
		e.endCompleted(d)
		return
	}
	e.StartTask(d, first)
}

// Recover resumes a deployment interrupted by a restart. A running task that
// already has a remote task resource is re-tracked where it left off;
// anything else is started over from the first incomplete task.
func (e *Engine) Recover(d *types.Deployment) {
	task := d.FirstIncompleteTask()
	if task == nil {
		e.endCompleted(d)
		return
	}

	if task.Status == types.TaskRunning && task.URL != "" {
		e.logger.Info().
			Str("deployment", d.ID).
			Str("task", task.ID).
			Str("url", task.URL).
			Msg("Re-tracking remote task after restart")
		e.trackTask(d, task)
		return
	}

	e.logger.Info().
		Str("deployment", d.ID).
		Str("task", task.ID).
		Str("action", string(task.Action)).
		Msg("Restarting task after restart")
	e.StartTask(d, task)
}

// Resume restarts a paused deployment from its next pending task. It clears
// the paused record and withdraws any cancel request left from before the
// pause.
func (e *Engine) Resume(deploymentID string) error {
	d, err := e.store.GetDeployment(deploymentID)
	if err != nil {
		return fmt.Errorf("failed to load deployment %s: %w", deploymentID, err)
	}

	if err := e.coord.ClearPaused(e.ctx, d.Key()); err != nil {
		return err
	}
	if err := e.coord.WithdrawCancelRequest(e.ctx, d.Key()); err != nil {
		return err
	}

	e.broker.Publish(events.DeploymentEvent(events.EventDeploymentResumed, d, ""))
	e.logger.Info().Str("deployment", d.ID).Str("key", d.Key()).Msg("Deployment resumed")

	next := d.FirstIncompleteTask()
	if next == nil {
		e.endCompleted(d)
		return nil
	}
	e.StartTask(d, next)
	return nil
}

// StartTask stamps a task started, persists it, and dispatches on the
// action. Handlers either complete the task in line, hand it to the tracker,
// or schedule a health poll; an error return means the task never got going.
func (e *Engine) StartTask(d *types.Deployment, task *types.Task) {
	now := time.Now().UTC()
	task.Start = &now
	task.Status = types.TaskRunning
	if err := e.store.UpdateTask(d.ID, *task); err != nil {
		e.failTask(d, task, fmt.Errorf("failed to persist task start: %w", err))
		return
	}

	e.broker.Publish(events.TaskEvent(events.EventTaskStarted, d, task, ""))
	e.logger.Info().
		Str("deployment", d.ID).
		Str("task", task.ID).
		Str("action", string(task.Action)).
		Msg("Task started")

	var err error
	switch task.Action {
	case types.ActionCreateASG:
		err = e.createASG(d, task)
	case types.ActionWaitForInstanceHealth:
		err = e.waitForInstanceHealth(d, task)
	case types.ActionEnableASG:
		err = e.enableASG(d, task)
	case types.ActionWaitForELBHealth:
		err = e.waitForELBHealth(d, task)
	case types.ActionDisableASG:
		err = e.disableASG(d, task)
	case types.ActionDeleteASG:
		err = e.deleteASG(d, task)
	default:
		err = types.NewError(types.ErrValidation, "unknown task action %q", task.Action)
	}
	if err != nil {
		e.failTask(d, task, err)
	}
}

// trackTask hands a task with a remote resource to the tracker. The
// callbacks close over the deployment so the boundary never re-reads it.
func (e *Engine) trackTask(d *types.Deployment, task *types.Task) {
	e.track.Track(d.ID, task, e.track.MaxRetries(),
		func(string, *types.Task) { e.taskFinished(d, task) },
		func(string, *types.Task) { e.taskTimedOut(d, task) })
}

// followRemote records the remote task resource and starts tracking it
func (e *Engine) followRemote(d *types.Deployment, task *types.Task, taskURL string) error {
	task.URL = taskURL
	if err := e.store.UpdateTask(d.ID, *task); err != nil {
		return fmt.Errorf("failed to persist task url: %w", err)
	}
	e.trackTask(d, task)
	return nil
}

// skip completes a task in line without running its action
func (e *Engine) skip(d *types.Deployment, task *types.Task, message string) {
	task.Status = types.TaskSkipped
	task.AppendLog(message)
	e.broker.Publish(events.TaskEvent(events.EventTaskSkipped, d, task, message))
	e.logger.Info().
		Str("deployment", d.ID).
		Str("task", task.ID).
		Str("action", string(task.Action)).
		Msg(message)
	e.taskFinished(d, task)
}

// taskFinished is the join point of every task: tracker completions, health
// wait completions, inline completions, and skips all land here. It persists
// the final task state and then crosses the boundary to the next task.
func (e *Engine) taskFinished(d *types.Deployment, task *types.Task) {
	now := time.Now().UTC()
	if task.End == nil {
		task.End = &now
	}
	if !task.Status.Terminal() {
		task.Status = types.TaskCompleted
	}
	if err := e.store.UpdateTask(d.ID, *task); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Str("task", task.ID).Msg("Failed to persist finished task")
		e.endFailed(d, fmt.Sprintf("failed to persist task %s", task.ID))
		return
	}

	metrics.TasksFinished.WithLabelValues(string(task.Action), string(task.Status)).Inc()
	if task.Start != nil {
		metrics.TaskDuration.WithLabelValues(string(task.Action)).Observe(task.End.Sub(*task.Start).Seconds())
	}

	switch task.Status {
	case types.TaskFailed, types.TaskTerminated:
		// the remote service ran the task and reports it did not succeed
		e.broker.Publish(events.TaskEvent(events.EventTaskFailed, d, task, ""))
		e.logger.Error().
			Str("deployment", d.ID).
			Str("task", task.ID).
			Str("action", string(task.Action)).
			Str("status", string(task.Status)).
			Msg("Remote task did not succeed")
		e.endFailed(d, fmt.Sprintf("task %s %s", task.Action, task.Status))
		return
	case types.TaskCompleted:
		e.broker.Publish(events.TaskEvent(events.EventTaskCompleted, d, task, ""))
		e.logger.Info().
			Str("deployment", d.ID).
			Str("task", task.ID).
			Str("action", string(task.Action)).
			Msg("Task completed")
	}

	if err := e.afterTask(d, task); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Str("task", task.ID).Msg("Post-task bookkeeping failed")
		e.endFailed(d, err.Error())
		return
	}

	e.boundary(d, task)
}

// taskTimedOut is the tracker's and the health waits' exhaustion callback.
// There is no retry: the deployment fails.
func (e *Engine) taskTimedOut(d *types.Deployment, task *types.Task) {
	e.failTask(d, task, fmt.Errorf("timed out waiting for %s", task.Action))
}

// failTask marks a task failed and fails the deployment with it
func (e *Engine) failTask(d *types.Deployment, task *types.Task, err error) {
	now := time.Now().UTC()
	task.Status = types.TaskFailed
	task.End = &now
	task.AppendLog(err.Error())
	if uerr := e.store.UpdateTask(d.ID, *task); uerr != nil {
		e.logger.Error().Err(uerr).Str("deployment", d.ID).Str("task", task.ID).Msg("Failed to persist failed task")
	}

	metrics.TasksFinished.WithLabelValues(string(task.Action), string(types.TaskFailed)).Inc()
	e.broker.Publish(events.TaskEvent(events.EventTaskFailed, d, task, err.Error()))
	e.logger.Error().
		Err(err).
		Str("deployment", d.ID).
		Str("task", task.ID).
		Str("action", string(task.Action)).
		Msg("Task failed")

	e.endFailed(d, err.Error())
}

// boundary applies operator requests between tasks, then starts the
// successor or finalizes the deployment. Cancel wins over pause when both
// are outstanding.
func (e *Engine) boundary(d *types.Deployment, finished *types.Task) {
	cancelled, err := e.coord.CancelRequested(e.ctx, d.Key())
	if err != nil {
		e.stall(d, err)
		return
	}
	if cancelled {
		e.cancelRemaining(d)
		return
	}

	paused, err := e.coord.PauseRequested(e.ctx, d.Key())
	if err != nil {
		e.stall(d, err)
		return
	}
	if paused {
		e.pause(d)
		return
	}

	next := d.NextTask(finished)
	if next == nil {
		e.endCompleted(d)
		return
	}
	e.StartTask(d, next)
}

// stall logs a coordination failure and leaves the deployment incomplete.
// The restart sweep picks it up once coordination is reachable again.
func (e *Engine) stall(d *types.Deployment, err error) {
	e.logger.Error().Err(err).Str("deployment", d.ID).Str("key", d.Key()).Msg("Coordination unreachable at task boundary")
}

// cancelRemaining skips every task that has not finished and ends the
// deployment as cancelled
func (e *Engine) cancelRemaining(d *types.Deployment) {
	for i := range d.Tasks {
		if d.Tasks[i].Status.Terminal() {
			continue
		}
		d.Tasks[i].Status = types.TaskSkipped
		d.Tasks[i].AppendLog("Deployment cancelled")
	}
	e.logger.Info().Str("deployment", d.ID).Str("key", d.Key()).Msg("Deployment cancelled")
	e.endDeployment(d, events.EventDeploymentCancelled, "cancelled", "")
}

// pause parks the deployment. No task is started; Resume picks it back up.
func (e *Engine) pause(d *types.Deployment) {
	if err := e.coord.RegisterPaused(e.ctx, d); err != nil {
		e.stall(d, err)
		return
	}
	if err := e.coord.WithdrawPauseRequest(e.ctx, d.Key()); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Msg("Failed to withdraw pause request")
	}
	e.broker.Publish(events.DeploymentEvent(events.EventDeploymentPaused, d, ""))
	e.logger.Info().Str("deployment", d.ID).Str("key", d.Key()).Msg("Deployment paused")
}

func (e *Engine) endCompleted(d *types.Deployment) {
	e.endDeployment(d, events.EventDeploymentCompleted, "completed", "")
}

func (e *Engine) endFailed(d *types.Deployment, reason string) {
	e.endDeployment(d, events.EventDeploymentFailed, "failed", reason)
}

// endDeployment stamps the end, persists the document, and clears the
// deployment's coordination footprint so the environment key is free again
func (e *Engine) endDeployment(d *types.Deployment, event events.EventType, outcome, message string) {
	now := time.Now().UTC()
	d.End = &now
	if err := e.store.SaveDeployment(d); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Msg("Failed to persist finished deployment")
	}
	if err := e.coord.EndDeployment(e.ctx, d.Key()); err != nil {
		e.logger.Error().Err(err).Str("deployment", d.ID).Str("key", d.Key()).Msg("Failed to clear in-progress record")
	}

	metrics.DeploymentsFinished.WithLabelValues(outcome).Inc()
	e.broker.Publish(events.DeploymentEvent(event, d, message))
	e.logger.Info().
		Str("deployment", d.ID).
		Str("key", d.Key()).
		Str("outcome", outcome).
		Msg("Deployment finished")
}

// mergeParameters persists extra parameters and folds them into the working
// copy of the deployment
func (e *Engine) mergeParameters(d *types.Deployment, params types.Parameters) error {
	updated, err := e.store.MergeParameters(d.ID, params)
	if err != nil {
		return fmt.Errorf("failed to merge parameters: %w", err)
	}
	d.Parameters = updated.Parameters
	return nil
}

// afterTask runs per-action bookkeeping once a task has completed. The
// create task is the only one with any: a tracked create announces the new
// group's name in its log, and later tasks need it in the parameters.
func (e *Engine) afterTask(d *types.Deployment, task *types.Task) error {
	if task.Action != types.ActionCreateASG || task.Status != types.TaskCompleted {
		return nil
	}
	if d.Parameters.NewASGName() != "" {
		return nil
	}
	name := asg.CreatedGroupName(task.Log)
	if name == "" {
		return types.NewError(types.ErrUnexpectedResponse, "create task finished without naming the new group")
	}
	return e.mergeParameters(d, types.Parameters{"new_asg_name": name})
}
