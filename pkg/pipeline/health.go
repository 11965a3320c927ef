package pipeline

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/types"
)

// waitForInstanceHealth polls the new group's instances over HTTP until at
// least the group's minimum size answers the healthcheck path. Groups with
// no minimum have nothing to wait for.
func (e *Engine) waitForInstanceHealth(d *types.Deployment, task *types.Task) error {
	if d.Parameters.Min() <= 0 || d.Parameters.HealthcheckSkip() {
		e.skip(d, task, "Skipping instance healthcheck")
		return nil
	}

	name := d.Parameters.NewASGName()
	if name == "" {
		return types.NewError(types.ErrMissingASG, "no new auto scaling group recorded for %s", d.Key())
	}

	task.AppendLog(fmt.Sprintf("Waiting for %d healthy instances in %s", d.Parameters.Min(), name))
	if err := e.store.UpdateTask(d.ID, *task); err != nil {
		return fmt.Errorf("failed to persist task log: %w", err)
	}
	e.pollInstanceHealth(d, task, e.opts.HealthMaxAttempts)
	return nil
}

// pollInstanceHealth checks once per interval on the shared scheduler.
// Transport errors against the remote service burn an attempt and poll
// again; anything else fails the deployment.
func (e *Engine) pollInstanceHealth(d *types.Deployment, task *types.Task, attempts int) {
	e.pool.Schedule(e.opts.HealthPollInterval, func() {
		if e.ctx.Err() != nil {
			return
		}

		healthy, err := e.countHealthyInstances(d)
		switch {
		case err != nil && !types.Transient(err):
			e.failTask(d, task, err)
			return
		case err == nil && healthy >= d.Parameters.Min():
			task.AppendLog(fmt.Sprintf("%d healthy instances in %s", healthy, d.Parameters.NewASGName()))
			e.taskFinished(d, task)
			return
		}

		if attempts <= 0 {
			e.taskTimedOut(d, task)
			return
		}
		e.pollInstanceHealth(d, task, attempts-1)
	})
}

// countHealthyInstances probes every instance of the new group and counts
// 200 responses
func (e *Engine) countHealthyInstances(d *types.Deployment) (int, error) {
	group, err := e.remote.ShowGroup(e.ctx, d.Environment, d.Region, d.Parameters.NewASGName())
	if err != nil {
		return 0, err
	}
	if group == nil {
		return 0, types.NewError(types.ErrMissingASG, "auto scaling group %s disappeared during healthcheck", d.Parameters.NewASGName())
	}

	port := d.Parameters.ServicePort()
	path := d.Parameters.HealthcheckPath()
	healthy := 0
	for _, instance := range group.Instances {
		if instance.PrivateIP == "" {
			continue
		}
		if e.instanceHealthy(instance.PrivateIP, port, path) {
			healthy++
		}
	}
	return healthy, nil
}

// instanceHealthy probes one instance. Refused connections just mean the
// service has not come up yet.
func (e *Engine) instanceHealthy(ip string, port int, path string) bool {
	probeURL := fmt.Sprintf("http://%s:%d%s", ip, port, path)
	req, err := http.NewRequestWithContext(e.ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.probes.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// waitForELBHealth polls the selected load balancers until every instance of
// the new group is InService on all of them. Groups that do not health-check
// through their load balancers skip the wait.
func (e *Engine) waitForELBHealth(d *types.Deployment, task *types.Task) error {
	balancers := d.Parameters.SelectedLoadBalancers()
	if d.Parameters.HealthCheckType() != "ELB" || len(balancers) == 0 {
		e.skip(d, task, "Skipping ELB healthcheck")
		return nil
	}

	name := d.Parameters.NewASGName()
	if name == "" {
		return types.NewError(types.ErrMissingASG, "no new auto scaling group recorded for %s", d.Key())
	}

	task.AppendLog(fmt.Sprintf("Waiting for instances of %s to be in service on %s", name, strings.Join(balancers, ", ")))
	if err := e.store.UpdateTask(d.ID, *task); err != nil {
		return fmt.Errorf("failed to persist task log: %w", err)
	}
	e.pollELBHealth(d, task, e.opts.HealthMaxAttempts)
	return nil
}

func (e *Engine) pollELBHealth(d *types.Deployment, task *types.Task, attempts int) {
	e.pool.Schedule(e.opts.HealthPollInterval, func() {
		if e.ctx.Err() != nil {
			return
		}

		inService, err := e.allInstancesInService(d)
		switch {
		case err != nil && !types.Transient(err):
			e.failTask(d, task, err)
			return
		case err == nil && inService:
			task.AppendLog("All instances in service")
			e.taskFinished(d, task)
			return
		}

		if attempts <= 0 {
			e.taskTimedOut(d, task)
			return
		}
		e.pollELBHealth(d, task, attempts-1)
	})
}

// allInstancesInService reports whether every instance of the new group is
// registered InService on every selected load balancer. An empty group is
// never in service.
func (e *Engine) allInstancesInService(d *types.Deployment) (bool, error) {
	group, err := e.remote.ShowGroup(e.ctx, d.Environment, d.Region, d.Parameters.NewASGName())
	if err != nil {
		return false, err
	}
	if group == nil {
		return false, types.NewError(types.ErrMissingASG, "auto scaling group %s disappeared during healthcheck", d.Parameters.NewASGName())
	}
	if len(group.Instances) == 0 {
		return false, nil
	}

	for _, name := range d.Parameters.SelectedLoadBalancers() {
		balancer, err := e.remote.GetLoadBalancer(e.ctx, d.Environment, d.Region, name)
		if err != nil {
			return false, err
		}
		states := make(map[string]string, len(balancer.InstanceStates))
		for _, s := range balancer.InstanceStates {
			states[s.InstanceID] = s.State
		}
		for _, instance := range group.Instances {
			if states[instance.ID] != asg.InService {
				return false, nil
			}
		}
	}
	return true, nil
}
