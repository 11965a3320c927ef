package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/config"
	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/types"
)

// Request is a deployment submission
type Request struct {
	Application string           `json:"application"`
	Environment string           `json:"environment"`
	Region      string           `json:"region"`
	AMI         string           `json:"ami"`
	User        string           `json:"user"`
	Message     string           `json:"message"`
	Parameters  types.Parameters `json:"parameters"`
}

// validate checks the request shape before any service is consulted
func (r Request) validate(deploy config.DeployConfig) error {
	var missing []string
	for field, value := range map[string]string{
		"application": r.Application,
		"environment": r.Environment,
		"region":      r.Region,
		"ami":         r.AMI,
		"user":        r.User,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}

	if _, ok := deploy.Environments[r.Environment]; !ok {
		return types.NewError(types.ErrValidation, "unknown environment %s", r.Environment)
	}

	if min, max := r.Parameters.Min(), r.Parameters.Max(); max > 0 && min > max {
		return types.NewError(types.ErrValidation, "min %d exceeds max %d", min, max)
	}
	return nil
}

// Intake turns deployment submissions into queued deployment documents. It
// refuses what it can refuse cheaply, builds the merged parameter set, and
// hands everything else to the queue; the orchestrator's claim on the
// in-progress slot remains the real gate.
type Intake struct {
	store  storage.Store
	coord  *coordination.Coordinator
	queue  *coordination.Queue
	images ImageService
	props  PropertiesService
	deploy config.DeployConfig
	broker *events.Broker
	logger zerolog.Logger
}

// New assembles an intake
func New(store storage.Store, coord *coordination.Coordinator, queue *coordination.Queue, images ImageService, props PropertiesService, deploy config.DeployConfig, broker *events.Broker) *Intake {
	return &Intake{
		store:  store,
		coord:  coord,
		queue:  queue,
		images: images,
		props:  props,
		deploy: deploy,
		broker: broker,
		logger: log.WithComponent("intake"),
	}
}

// Submit validates a request, builds the deployment document, persists it,
// and queues it. The returned deployment has not started; its ID is the
// caller's handle for progress.
func (i *Intake) Submit(ctx context.Context, req Request) (*types.Deployment, error) {
	if err := req.validate(i.deploy); err != nil {
		return nil, err
	}

	locked, err := i.coord.Locked(ctx)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, types.NewError(types.ErrLocked, "deployments are locked")
	}

	key := types.EnvironmentKey(req.Application, req.Environment, req.Region)
	holder, err := i.coord.InProgress(ctx, key)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		return nil, types.NewError(types.ErrAlreadyInProgress, "deployment %s already in progress for %s", holder, key)
	}

	// the image must belong to the application being deployed; nothing is
	// persisted for a mismatch
	name, err := i.images.ImageName(ctx, req.AMI)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(name, req.Application+"-") {
		return nil, types.NewError(types.ErrImageMismatch, "image %s is named %s and does not belong to %s", req.AMI, name, req.Application)
	}

	props, err := i.props.Properties(ctx, req.Application, req.Environment)
	if err != nil {
		return nil, err
	}

	env := i.deploy.Environment(req.Environment)
	d := &types.Deployment{
		ID:          uuid.New().String(),
		Application: req.Application,
		Environment: req.Environment,
		Region:      req.Region,
		AMI:         req.AMI,
		User:        req.User,
		Message:     req.Message,
		Hash:        props.Hash,
		Parameters:  types.MergeParameters(i.deploy.DefaultsFor(req.Environment), props.Parameters, req.Parameters, env.Protected),
		Tasks:       types.StandardTasks(),
		Created:     time.Now().UTC(),
	}

	if err := i.store.SaveDeployment(d); err != nil {
		return nil, err
	}
	if _, err := i.queue.Enqueue(ctx, coordination.KindDeploy, d.ID); err != nil {
		return nil, fmt.Errorf("deployment %s saved but not queued: %w", d.ID, err)
	}

	i.broker.Publish(events.DeploymentEvent(events.EventDeploymentQueued, d, ""))
	i.logger.Info().
		Str("deployment", d.ID).
		Str("application", d.Application).
		Str("environment", d.Environment).
		Str("region", d.Region).
		Str("ami", d.AMI).
		Str("user", d.User).
		Msg("Deployment queued")
	return d, nil
}
