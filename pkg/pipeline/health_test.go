package pipeline

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/types"
)

type probeTarget struct {
	port int
}

func probeAlwaysHealthy(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthcheck" {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func probeNeverHealthy(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
}

// newProbeTarget stands in for a deployed instance answering healthchecks
// on 127.0.0.1
func newProbeTarget(t *testing.T, handler http.HandlerFunc) *probeTarget {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &probeTarget{port: port}
}

func singleTaskDeployment(action types.Action, params types.Parameters) *types.Deployment {
	d := newDeployment(params)
	d.Tasks = []types.Task{{ID: uuid.New().String(), Action: action, Status: types.TaskPending}}
	return d
}

func TestInstanceHealthcheckWaitsForMinimum(t *testing.T) {
	target := newProbeTarget(t, probeAlwaysHealthy)
	remote := &fakeRemote{
		groups: map[string]*asg.Group{
			"accounts-poke-v002": {
				Name: "accounts-poke-v002",
				Instances: []asg.Instance{
					{ID: "i-01", PrivateIP: "127.0.0.1"},
					{ID: "i-02", PrivateIP: "127.0.0.1"},
					{ID: "i-03"}, // no address assigned yet, never probed
				},
			},
		},
	}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForInstanceHealth, types.Parameters{
		"min":          2,
		"new_asg_name": "accounts-poke-v002",
		"service_port": target.port,
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskCompleted, stored.Tasks[0].Status)
	assert.Equal(t, "2 healthy instances in accounts-poke-v002", lastLogLine(t, stored.Tasks[0]))
	require.NotNil(t, stored.End)
	assert.Empty(t, f.inProgress(t))
}

func TestInstanceHealthcheckTimesOut(t *testing.T) {
	target := newProbeTarget(t, probeNeverHealthy)
	remote := &fakeRemote{
		groups: map[string]*asg.Group{
			"accounts-poke-v002": {
				Name:      "accounts-poke-v002",
				Instances: []asg.Instance{{ID: "i-01", PrivateIP: "127.0.0.1"}},
			},
		},
	}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForInstanceHealth, types.Parameters{
		"min":          1,
		"new_asg_name": "accounts-poke-v002",
		"service_port": target.port,
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskFailed, stored.Tasks[0].Status)
	assert.Equal(t, fmt.Sprintf("timed out waiting for %s", types.ActionWaitForInstanceHealth), lastLogLine(t, stored.Tasks[0]))
	require.NotNil(t, stored.End)
	assert.Empty(t, f.inProgress(t))
}

func TestInstanceHealthRetriesTransportErrors(t *testing.T) {
	remote := &fakeRemote{
		showGroupErr: types.NewError(types.ErrHTTP, "connect: connection refused"),
	}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForInstanceHealth, types.Parameters{
		"min":          1,
		"new_asg_name": "accounts-poke-v002",
	})
	f.start(t, d)

	// transport errors burn attempts instead of failing outright
	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskFailed, stored.Tasks[0].Status)
	assert.Contains(t, lastLogLine(t, stored.Tasks[0]), "timed out")
}

func TestInstanceHealthMissingGroupFailsFast(t *testing.T) {
	remote := &fakeRemote{groups: map[string]*asg.Group{}}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForInstanceHealth, types.Parameters{
		"min":          1,
		"new_asg_name": "accounts-poke-v002",
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskFailed, stored.Tasks[0].Status)
	assert.Contains(t, lastLogLine(t, stored.Tasks[0]), "disappeared")
}

func TestExplicitInstanceHealthcheckSkip(t *testing.T) {
	f := newFixture(t, &fakeRemote{})

	d := singleTaskDeployment(types.ActionWaitForInstanceHealth, types.Parameters{
		"min":                       2,
		"skip_instance_healthcheck": true,
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskSkipped, stored.Tasks[0].Status)
	assert.Equal(t, "Skipping instance healthcheck", lastLogLine(t, stored.Tasks[0]))
}

func TestELBWaitChecksEveryBalancer(t *testing.T) {
	remote := &fakeRemote{
		groups: map[string]*asg.Group{
			"accounts-poke-v002": {
				Name:      "accounts-poke-v002",
				Instances: []asg.Instance{{ID: "i-01", PrivateIP: "10.1.2.3"}},
			},
		},
		balancers: map[string]*asg.LoadBalancer{
			"lb-a": {
				Name:           "lb-a",
				InstanceStates: []asg.InstanceState{{InstanceID: "i-01", State: asg.InService}},
			},
			"lb-b": {
				Name:           "lb-b",
				InstanceStates: []asg.InstanceState{{InstanceID: "i-01", State: "OutOfService"}},
			},
		},
	}
	remote.onBalancer = func(name string) {
		if name == "lb-b" {
			remote.balancers["lb-b"] = &asg.LoadBalancer{
				Name:           "lb-b",
				InstanceStates: []asg.InstanceState{{InstanceID: "i-01", State: asg.InService}},
			}
		}
	}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForELBHealth, types.Parameters{
		"health_check_type":       "ELB",
		"selected_load_balancers": []string{"lb-a", "lb-b"},
		"new_asg_name":            "accounts-poke-v002",
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskCompleted, stored.Tasks[0].Status)
	assert.Equal(t, "All instances in service", lastLogLine(t, stored.Tasks[0]))
	assert.Equal(t, 4, remote.balancerCalls)
}

func TestELBWaitEmptyGroupNeverInService(t *testing.T) {
	remote := &fakeRemote{
		groups: map[string]*asg.Group{
			"accounts-poke-v002": {Name: "accounts-poke-v002"},
		},
		balancers: map[string]*asg.LoadBalancer{
			"lb-a": {Name: "lb-a"},
		},
	}
	f := newFixture(t, remote)

	d := singleTaskDeployment(types.ActionWaitForELBHealth, types.Parameters{
		"health_check_type":       "ELB",
		"selected_load_balancers": []string{"lb-a"},
		"new_asg_name":            "accounts-poke-v002",
	})
	f.start(t, d)

	stored := f.reload(t, d.ID)
	assert.Equal(t, types.TaskFailed, stored.Tasks[0].Status)
	assert.Contains(t, lastLogLine(t, stored.Tasks[0]), "timed out")
}
