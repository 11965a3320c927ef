package asg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gantryhq/gantry/pkg/types"
)

// InService is the load balancer state of a healthy registered instance
const InService = "InService"

// Group is a deployed auto scaling group
type Group struct {
	Name              string
	Min               int
	Max               int
	Desired           int
	LoadBalancerNames []string
	Instances         []Instance
}

// Instance is one member of a group
type Instance struct {
	ID             string
	PrivateIP      string
	LifecycleState string
}

// Generation is one group of a cluster, oldest first in cluster listings
type Generation struct {
	Name    string
	ImageID string
}

// LoadBalancer carries the registration states of a load balancer's instances
type LoadBalancer struct {
	Name           string
	InstanceStates []InstanceState
}

// InstanceState is one instance's registration state on a load balancer
type InstanceState struct {
	InstanceID string
	State      string
}

// CreateGroup creates the first auto scaling group of a cluster. The service
// answers 302 with the new group's show page; the group name is the last
// path segment.
func (c *Client) CreateGroup(ctx context.Context, environment, region string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/autoScaling/save", c.baseFor(environment), region)
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusFound {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"expected 302 from %s, got %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}
	location := resp.Location()
	if !strings.Contains(location, "/autoScaling/show/") {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"create group redirect does not identify a group: %q", location)
	}
	name := location[strings.LastIndex(location, "/")+1:]
	if name == "" {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"create group redirect does not identify a group: %q", location)
	}
	return name, nil
}

// CreateNextGroup creates the next generation of an existing cluster and
// returns the URL of the remote task performing the work. When the redirect
// lands on the cluster page instead of a task resource, the task is resolved
// through the task listing.
func (c *Client) CreateNextGroup(ctx context.Context, environment, region, cluster string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/cluster/createNextGroup", c.baseFor(environment), region)
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusFound {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"expected 302 from %s, got %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}
	location := resp.Location()
	if location == "" {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"create next group redirect carries no location")
	}
	if strings.Contains(location, "/task/") {
		return location + ".json", nil
	}
	return c.findCreateTask(ctx, environment, region, cluster)
}

// findCreateTask locates the task creating a group for the cluster in the
// remote task listing. Running tasks are preferred; a recently finished
// create still counts.
func (c *Client) findCreateTask(ctx context.Context, environment, region, cluster string) (string, error) {
	base := c.baseFor(environment)
	endpoint := fmt.Sprintf("%s/%s/task/list.json", base, region)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"task listing returned %d: %s", resp.Status, snippet(resp.Body))
	}

	var listing struct {
		RunningTaskList   []taskListItem `json:"runningTaskList"`
		CompletedTaskList []taskListItem `json:"completedTaskList"`
	}
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return "", types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse task listing")
	}

	for _, item := range append(listing.RunningTaskList, listing.CompletedTaskList...) {
		if m := creatingGroupPattern.FindStringSubmatch(item.Name); m != nil {
			if strings.HasPrefix(m[1], cluster) {
				return fmt.Sprintf("%s/%s/task/show/%d.json", base, region, item.ID), nil
			}
		}
	}
	return "", types.NewError(types.ErrTaskMissing,
		"no task found creating a group for cluster %s", cluster)
}

type taskListItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EnableTraffic puts a group into service and returns the task URL
func (c *Client) EnableTraffic(ctx context.Context, environment, region, name, ticket string) (string, error) {
	return c.clusterAction(ctx, environment, region, "activate", name, ticket, nil)
}

// DisableTraffic takes a group out of service and returns the task URL
func (c *Client) DisableTraffic(ctx context.Context, environment, region, name, ticket string) (string, error) {
	return c.clusterAction(ctx, environment, region, "deactivate", name, ticket, nil)
}

// DeleteGroup deletes a group and returns the task URL
func (c *Client) DeleteGroup(ctx context.Context, environment, region, name, ticket string) (string, error) {
	return c.clusterAction(ctx, environment, region, "delete", name, ticket, nil)
}

// ResizeGroup sets a group's min and max to the same size and returns the
// task URL
func (c *Client) ResizeGroup(ctx context.Context, environment, region, name, ticket string, size int) (string, error) {
	extra := url.Values{"minAndMaxSize": {fmt.Sprintf("%d", size)}}
	return c.clusterAction(ctx, environment, region, "resize", name, ticket, extra)
}

// clusterAction posts one of the cluster index actions. The service answers
// 302; the task URL is the redirect target with .json appended.
func (c *Client) clusterAction(ctx context.Context, environment, region, action, name, ticket string, extra url.Values) (string, error) {
	form := url.Values{}
	form.Set("_action_"+action, "")
	form.Set("name", name)
	form.Set("ticket", ticket)
	for key, values := range extra {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	endpoint := fmt.Sprintf("%s/%s/cluster/index", c.baseFor(environment), region)
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusFound {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"expected 302 from %s for %s of %s, got %d: %s", endpoint, action, name, resp.Status, snippet(resp.Body))
	}
	location := resp.Location()
	if location == "" {
		return "", types.NewError(types.ErrUnexpectedResponse,
			"%s of %s redirect carries no location", action, name)
	}
	return location + ".json", nil
}

// GetTask fetches a remote task document. Failures here are transient: the
// tracker polls again.
func (c *Client) GetTask(ctx context.Context, taskURL string) (*RemoteTask, error) {
	resp, err := c.get(ctx, taskURL)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, types.NewError(types.ErrHTTP, "task fetch from %s returned %d", taskURL, resp.Status)
	}
	task, err := parseTask(resp.Body)
	if err != nil {
		return nil, types.WrapError(types.ErrHTTP, err, "failed to parse task document from %s", taskURL)
	}
	return task, nil
}

// ShowGroup fetches a group with its instances. A missing group returns
// (nil, nil) so callers can guard preconditions.
func (c *Client) ShowGroup(ctx context.Context, environment, region, name string) (*Group, error) {
	endpoint := fmt.Sprintf("%s/%s/autoScaling/show/%s.json", c.baseFor(environment), region, name)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if resp.Status != http.StatusOK {
		return nil, types.NewError(types.ErrUnexpectedResponse,
			"group fetch from %s returned %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}

	var doc struct {
		Group struct {
			AutoScalingGroupName string   `json:"autoScalingGroupName"`
			MinSize              int      `json:"minSize"`
			MaxSize              int      `json:"maxSize"`
			DesiredCapacity      int      `json:"desiredCapacity"`
			LoadBalancerNames    []string `json:"loadBalancerNames"`
			Instances            []struct {
				InstanceID     string `json:"instanceId"`
				LifecycleState string `json:"lifecycleState"`
			} `json:"instances"`
		} `json:"group"`
		Instances []struct {
			InstanceID       string `json:"instanceId"`
			PrivateIPAddress string `json:"privateIpAddress"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse group document")
	}

	addresses := make(map[string]string, len(doc.Instances))
	for _, i := range doc.Instances {
		addresses[i.InstanceID] = i.PrivateIPAddress
	}

	group := &Group{
		Name:              doc.Group.AutoScalingGroupName,
		Min:               doc.Group.MinSize,
		Max:               doc.Group.MaxSize,
		Desired:           doc.Group.DesiredCapacity,
		LoadBalancerNames: doc.Group.LoadBalancerNames,
	}
	for _, i := range doc.Group.Instances {
		group.Instances = append(group.Instances, Instance{
			ID:             i.InstanceID,
			PrivateIP:      addresses[i.InstanceID],
			LifecycleState: i.LifecycleState,
		})
	}
	return group, nil
}

// ShowCluster fetches a cluster's group generations, oldest first. A missing
// cluster returns (nil, nil): the application has never been deployed there.
func (c *Client) ShowCluster(ctx context.Context, environment, region, cluster string) ([]Generation, error) {
	endpoint := fmt.Sprintf("%s/%s/cluster/show/%s.json", c.baseFor(environment), region, cluster)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if resp.Status != http.StatusOK {
		return nil, types.NewError(types.ErrUnexpectedResponse,
			"cluster fetch from %s returned %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}

	var doc []struct {
		AutoScalingGroupName string `json:"autoScalingGroupName"`
		Image                struct {
			ImageID string `json:"imageId"`
		} `json:"image"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse cluster document")
	}

	generations := make([]Generation, 0, len(doc))
	for _, g := range doc {
		generations = append(generations, Generation{
			Name:    g.AutoScalingGroupName,
			ImageID: g.Image.ImageID,
		})
	}
	return generations, nil
}

// SecurityGroups fetches the region's security groups as a name to ID table
func (c *Client) SecurityGroups(ctx context.Context, environment, region string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/%s/security/list.json", c.baseFor(environment), region)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, types.NewError(types.ErrUnexpectedResponse,
			"security group listing from %s returned %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}

	var doc struct {
		SecurityGroups []struct {
			GroupID   string `json:"groupId"`
			GroupName string `json:"groupName"`
		} `json:"securityGroups"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse security group listing")
	}

	groups := make(map[string]string, len(doc.SecurityGroups))
	for _, g := range doc.SecurityGroups {
		groups[g.GroupName] = g.GroupID
	}
	return groups, nil
}

// GetLoadBalancer fetches a load balancer's instance registration states
func (c *Client) GetLoadBalancer(ctx context.Context, environment, region, name string) (*LoadBalancer, error) {
	endpoint := fmt.Sprintf("%s/%s/loadBalancer/show/%s.json", c.baseFor(environment), region, name)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, types.NewError(types.ErrUnexpectedResponse,
			"load balancer fetch from %s returned %d: %s", endpoint, resp.Status, snippet(resp.Body))
	}

	var doc struct {
		InstanceStates []struct {
			InstanceID string `json:"instanceId"`
			State      string `json:"state"`
		} `json:"instanceStates"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse load balancer document")
	}

	lb := &LoadBalancer{Name: name}
	for _, s := range doc.InstanceStates {
		lb.InstanceStates = append(lb.InstanceStates, InstanceState{
			InstanceID: s.InstanceID,
			State:      s.State,
		})
	}
	return lb, nil
}
