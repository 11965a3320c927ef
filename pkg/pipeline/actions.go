package pipeline

import (
	"fmt"
	"net/url"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/types"
)

// createASG creates the deployment's new auto scaling group. The remote
// service has two shapes for this: the very first group of a cluster comes
// back synchronously from the save endpoint, while every later generation
// goes through an asynchronous cluster task that the tracker follows.
func (e *Engine) createASG(d *types.Deployment, task *types.Task) error {
	cluster := clusterName(d)
	generations, err := e.remote.ShowCluster(e.ctx, d.Environment, d.Region, cluster)
	if err != nil {
		return err
	}

	form, err := e.prepareForm(d)
	if err != nil {
		return err
	}

	if len(generations) == 0 {
		name, err := e.remote.CreateGroup(e.ctx, d.Environment, d.Region, form)
		if err != nil {
			return err
		}
		if err := e.mergeParameters(d, types.Parameters{"new_asg_name": name}); err != nil {
			return err
		}
		task.AppendLog(fmt.Sprintf("Created auto scaling group '%s'", name))
		e.logger.Info().Str("deployment", d.ID).Str("group", name).Msg("Created first group of cluster")
		e.taskFinished(d, task)
		return nil
	}

	// record what the new generation replaces before creating it, so the
	// disable and delete tasks know their target even after a restart
	latest := generations[len(generations)-1]
	replaced := types.Parameters{"old_asg_name": latest.Name}
	if latest.ImageID != "" {
		replaced["old_ami"] = latest.ImageID
	}
	if hash := e.lastDeployedHash(d); hash != "" {
		replaced["old_hash"] = hash
	}
	if err := e.mergeParameters(d, replaced); err != nil {
		return err
	}

	taskURL, err := e.remote.CreateNextGroup(e.ctx, d.Environment, d.Region, cluster, form)
	if err != nil {
		return err
	}
	return e.followRemote(d, task, taskURL)
}

// enableASG puts the new group in service: traffic, scaling activities, and
// instance launches all resume
func (e *Engine) enableASG(d *types.Deployment, task *types.Task) error {
	name := d.Parameters.NewASGName()
	if name == "" {
		return types.NewError(types.ErrMissingASG, "no new auto scaling group recorded for %s", d.Key())
	}
	if err := e.requireGroup(d, name); err != nil {
		return err
	}

	taskURL, err := e.remote.EnableTraffic(e.ctx, d.Environment, d.Region, name, d.ID)
	if err != nil {
		return err
	}
	return e.followRemote(d, task, taskURL)
}

// disableASG takes the replaced group out of service. First deployments of
// a cluster have nothing to disable.
func (e *Engine) disableASG(d *types.Deployment, task *types.Task) error {
	name := d.Parameters.OldASGName()
	if name == "" {
		e.skip(d, task, "Skipping disabling of auto scaling group")
		return nil
	}
	if err := e.requireGroup(d, name); err != nil {
		return err
	}

	taskURL, err := e.remote.DisableTraffic(e.ctx, d.Environment, d.Region, name, d.ID)
	if err != nil {
		return err
	}
	return e.followRemote(d, task, taskURL)
}

// deleteASG removes the replaced group entirely
func (e *Engine) deleteASG(d *types.Deployment, task *types.Task) error {
	name := d.Parameters.OldASGName()
	if name == "" {
		e.skip(d, task, "Skipping deletion of auto scaling group")
		return nil
	}
	if err := e.requireGroup(d, name); err != nil {
		return err
	}

	taskURL, err := e.remote.DeleteGroup(e.ctx, d.Environment, d.Region, name, d.ID)
	if err != nil {
		return err
	}
	return e.followRemote(d, task, taskURL)
}

// requireGroup enforces the existence precondition on mutating operations
func (e *Engine) requireGroup(d *types.Deployment, name string) error {
	group, err := e.remote.ShowGroup(e.ctx, d.Environment, d.Region, name)
	if err != nil {
		return err
	}
	if group == nil {
		return types.NewError(types.ErrMissingASG, "auto scaling group %s does not exist in %s %s", name, d.Environment, d.Region)
	}
	return nil
}

// prepareForm assembles the launch form for the deployment's parameters.
// Security group names are resolved against the live listing so the form
// only ever carries ids.
func (e *Engine) prepareForm(d *types.Deployment) (url.Values, error) {
	groups, err := e.remote.SecurityGroups(e.ctx, d.Environment, d.Region)
	if err != nil {
		return nil, err
	}
	env := e.deploy.Environment(d.Environment)
	return asg.PrepareForm(d.Parameters, asg.FormOptions{
		Application:              d.Application,
		Environment:              d.Environment,
		Region:                   d.Region,
		AMI:                      d.AMI,
		VPCID:                    env.VPCID,
		SSHKey:                   e.deploy.SSHKey,
		HealthcheckSecurityGroup: e.deploy.HealthcheckSecurityGroup,
		MonitoringSecurityGroup:  e.deploy.MonitoringSecurityGroup,
		SecurityGroups:           groups,
	})
}

// lastDeployedHash finds the configuration hash of the most recent finished
// deployment for the same application, environment, and region, "" when
// there is none
func (e *Engine) lastDeployedHash(d *types.Deployment) string {
	previous, err := e.store.ListDeploymentsByApplication(d.Application)
	if err != nil {
		e.logger.Warn().Err(err).Str("deployment", d.ID).Msg("Failed to look up previous deployments")
		return ""
	}
	for _, p := range previous {
		if p.ID == d.ID || p.Environment != d.Environment || p.Region != d.Region {
			continue
		}
		if p.End == nil || p.Hash == "" {
			continue
		}
		return p.Hash
	}
	return ""
}

// clusterName is the cluster the deployment rolls: application-environment
func clusterName(d *types.Deployment) string {
	return fmt.Sprintf("%s-%s", d.Application, d.Environment)
}
