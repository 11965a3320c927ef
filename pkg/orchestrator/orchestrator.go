package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/types"
)

// Engine is the pipeline surface the orchestrator drives
type Engine interface {
	Start(d *types.Deployment)
	Recover(d *types.Deployment)
	Resume(deploymentID string) error
}

// Orchestrator connects the work queue to the pipeline and owns crash
// recovery. Deployments enter through the queue, never directly: the queue's
// per-message lease is what makes a crashed worker's deployment visible
// again, and the restart sweep is what picks it up.
type Orchestrator struct {
	store  storage.Store
	coord  *coordination.Coordinator
	queue  *coordination.Queue
	engine Engine
	broker *events.Broker
	logger zerolog.Logger
}

// New assembles an orchestrator
func New(store storage.Store, coord *coordination.Coordinator, queue *coordination.Queue, engine Engine, broker *events.Broker) *Orchestrator {
	return &Orchestrator{
		store:  store,
		coord:  coord,
		queue:  queue,
		engine: engine,
		broker: broker,
		logger: log.WithComponent("orchestrator"),
	}
}

// Start recovers interrupted work, then begins consuming the queue. The
// sweep runs first so a deployment cannot be recovered and redelivered at
// the same time.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Sweep(ctx); err != nil {
		return fmt.Errorf("failed to sweep incomplete deployments: %w", err)
	}
	o.queue.Start(o.handle)
	return nil
}

// Stop halts queue consumption, waiting for in-flight handlers
func (o *Orchestrator) Stop() {
	o.queue.Stop()
}

// handle dispatches one queued message. An error return leaves the message
// for redelivery after its lease lapses.
func (o *Orchestrator) handle(ctx context.Context, msg coordination.Message) error {
	switch msg.Kind {
	case coordination.KindDeploy:
		return o.handleDeploy(ctx, msg.DeploymentID)
	case coordination.KindResume:
		return o.engine.Resume(msg.DeploymentID)
	default:
		o.logger.Error().Str("kind", msg.Kind).Str("message_id", msg.ID).Msg("Discarding message of unknown kind")
		return nil
	}
}

// handleDeploy starts a queued deployment. The global lock holds work on the
// queue rather than failing it; the in-progress register is what serializes
// deployments per environment key.
func (o *Orchestrator) handleDeploy(ctx context.Context, deploymentID string) error {
	locked, err := o.coord.Locked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("deployments are locked, holding %s", deploymentID)
	}

	d, err := o.store.GetDeployment(deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrDeploymentNotFound) {
			o.logger.Error().Str("deployment", deploymentID).Msg("Dropping message for unknown deployment")
			return nil
		}
		return err
	}
	if d.End != nil {
		// duplicate delivery of finished work
		return nil
	}

	registered, err := o.coord.RegisterDeployment(ctx, d)
	if err != nil {
		return err
	}
	if !registered {
		holder, err := o.coord.InProgress(ctx, d.Key())
		if err != nil {
			return err
		}
		if holder == d.ID {
			// redelivery of the message that started this deployment; the
			// restart sweep owns it now
			o.logger.Warn().Str("deployment", d.ID).Msg("Ignoring redelivered message for running deployment")
			return nil
		}
		o.failBeforeStart(d, types.NewError(types.ErrAlreadyInProgress, "deployment already in progress for %s", d.Key()))
		return nil
	}

	o.engine.Start(d)
	return nil
}

// failBeforeStart ends a deployment that never got to run a task. The
// in-progress slot belongs to another deployment, so it is left untouched.
func (o *Orchestrator) failBeforeStart(d *types.Deployment, reason error) {
	now := time.Now().UTC()
	if len(d.Tasks) > 0 {
		task := &d.Tasks[0]
		task.Status = types.TaskFailed
		task.Start = &now
		task.End = &now
		task.AppendLog(reason.Error())
	}
	d.Start = &now
	d.End = &now
	if err := o.store.SaveDeployment(d); err != nil {
		o.logger.Error().Err(err).Str("deployment", d.ID).Msg("Failed to persist refused deployment")
	}

	metrics.DeploymentsFinished.WithLabelValues("failed").Inc()
	o.broker.Publish(events.DeploymentEvent(events.EventDeploymentFailed, d, reason.Error()))
	o.logger.Error().Err(reason).Str("deployment", d.ID).Str("key", d.Key()).Msg("Deployment refused")
}

// Sweep recovers deployments interrupted by a restart. Documents that never
// started belong to the queue; paused documents belong to the operator; a
// started document whose in-progress record matches is recovered, and one
// whose record is gone is marked broken for triage.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	incomplete, err := o.store.ListIncompleteDeployments()
	if err != nil {
		return err
	}

	for _, d := range incomplete {
		if d.Start == nil {
			continue
		}

		paused, err := o.coord.Paused(ctx, d.Key())
		if err != nil {
			return err
		}
		if paused == d.ID {
			o.logger.Info().Str("deployment", d.ID).Str("key", d.Key()).Msg("Leaving paused deployment parked")
			continue
		}

		holder, err := o.coord.InProgress(ctx, d.Key())
		if err != nil {
			return err
		}
		if holder == d.ID {
			o.logger.Info().Str("deployment", d.ID).Str("key", d.Key()).Msg("Recovering interrupted deployment")
			o.engine.Recover(d)
			continue
		}

		o.markBroken(d, holder)
	}
	return nil
}

// markBroken records that a started deployment lost its in-progress slot.
// The document keeps no end timestamp so it stays visible to triage; nothing
// will advance it again.
func (o *Orchestrator) markBroken(d *types.Deployment, holder string) {
	task := d.FirstIncompleteTask()
	if task != nil {
		task.AppendLog("Deployment lost its in-progress record; manual triage required")
		if err := o.store.UpdateTask(d.ID, *task); err != nil {
			o.logger.Error().Err(err).Str("deployment", d.ID).Msg("Failed to persist broken marker")
		}
	}

	o.broker.Publish(events.DeploymentEvent(events.EventDeploymentBroken, d, "in-progress record lost"))
	o.logger.Error().
		Str("deployment", d.ID).
		Str("key", d.Key()).
		Str("holder", holder).
		Msg("Deployment broken: in-progress record lost")
}

// Broken lists started, unfinished deployments whose in-progress record is
// gone or held by another deployment
func (o *Orchestrator) Broken(ctx context.Context) ([]*types.Deployment, error) {
	incomplete, err := o.store.ListIncompleteDeployments()
	if err != nil {
		return nil, err
	}

	var broken []*types.Deployment
	for _, d := range incomplete {
		if d.Start == nil {
			continue
		}
		paused, err := o.coord.Paused(ctx, d.Key())
		if err != nil {
			return nil, err
		}
		if paused == d.ID {
			continue
		}
		holder, err := o.coord.InProgress(ctx, d.Key())
		if err != nil {
			return nil, err
		}
		if holder != d.ID {
			broken = append(broken, d)
		}
	}
	return broken, nil
}

// RequestPause asks the deployment holding the environment key to pause at
// its next task boundary. Returns false when a pause was already requested.
func (o *Orchestrator) RequestPause(ctx context.Context, application, environment, region string) (bool, error) {
	return o.coord.RequestPause(ctx, types.EnvironmentKey(application, environment, region))
}

// RequestCancel asks the deployment holding the environment key to stop at
// its next task boundary. Returns false when a cancel was already requested.
func (o *Orchestrator) RequestCancel(ctx context.Context, application, environment, region string) (bool, error) {
	return o.coord.RequestCancel(ctx, types.EnvironmentKey(application, environment, region))
}

// RequestResume queues a resume for the paused deployment on the environment
// key, so the work runs on a queue worker rather than the caller
func (o *Orchestrator) RequestResume(ctx context.Context, application, environment, region string) error {
	key := types.EnvironmentKey(application, environment, region)
	id, err := o.coord.Paused(ctx, key)
	if err != nil {
		return err
	}
	if id == "" {
		return types.NewError(types.ErrValidation, "no paused deployment for %s", key)
	}
	if _, err := o.queue.Enqueue(ctx, coordination.KindResume, id); err != nil {
		return err
	}
	o.logger.Info().Str("deployment", id).Str("key", key).Msg("Resume queued")
	return nil
}
