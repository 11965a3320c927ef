package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardTasks(t *testing.T) {
	tasks := StandardTasks()
	require.Len(t, tasks, 6)

	expected := []Action{
		ActionCreateASG,
		ActionWaitForInstanceHealth,
		ActionEnableASG,
		ActionWaitForELBHealth,
		ActionDisableASG,
		ActionDeleteASG,
	}

	seen := map[string]bool{}
	for i, task := range tasks {
		assert.Equal(t, expected[i], task.Action)
		assert.Equal(t, TaskPending, task.Status)
		assert.NotEmpty(t, task.ID)
		assert.False(t, seen[task.ID], "task IDs must be unique")
		seen[task.ID] = true
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskCompleted, TaskFailed, TaskTerminated, TaskSkipped}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
}

func TestNextTask(t *testing.T) {
	d := &Deployment{Tasks: StandardTasks()}

	first := d.NextTask(nil)
	require.NotNil(t, first)
	assert.Equal(t, ActionCreateASG, first.Action)

	first.Status = TaskCompleted
	second := d.NextTask(first)
	require.NotNil(t, second)
	assert.Equal(t, ActionWaitForInstanceHealth, second.Action)

	// Skipped tasks are jumped over
	second.Status = TaskSkipped
	third := d.NextTask(first)
	require.NotNil(t, third)
	assert.Equal(t, ActionEnableASG, third.Action)

	for i := range d.Tasks {
		d.Tasks[i].Status = TaskCompleted
	}
	assert.Nil(t, d.NextTask(nil))
}

func TestFirstIncompleteTask(t *testing.T) {
	d := &Deployment{Tasks: StandardTasks()}
	d.Tasks[0].Status = TaskCompleted
	d.Tasks[1].Status = TaskSkipped

	task := d.FirstIncompleteTask()
	require.NotNil(t, task)
	assert.Equal(t, ActionEnableASG, task.Action)
	assert.True(t, d.Incomplete())

	for i := range d.Tasks {
		d.Tasks[i].Status = TaskCompleted
	}
	assert.Nil(t, d.FirstIncompleteTask())
	assert.False(t, d.Incomplete())
}

func TestEnvironmentKey(t *testing.T) {
	assert.Equal(t, "accounts-poke-eu-west-1", EnvironmentKey("accounts", "poke", "eu-west-1"))

	d := &Deployment{Application: "search", Environment: "prod", Region: "us-east-1"}
	assert.Equal(t, "search-prod-us-east-1", d.Key())
}

func TestTaskAppendLog(t *testing.T) {
	task := &Task{ID: "t1", Action: ActionCreateASG, Status: TaskRunning}
	before := time.Now().UTC()
	task.AppendLog("Creating auto scaling group")

	require.Len(t, task.Log, 1)
	assert.Equal(t, "Creating auto scaling group", task.Log[0].Message)
	assert.False(t, task.Log[0].Timestamp.Before(before.Add(-time.Second)))
}

func TestMergeParameters(t *testing.T) {
	defaults := Parameters{"min": 1, "max": 2, "subnet_purpose": "internal"}
	user := Parameters{"max": 4, "message": "release"}
	protected := Parameters{"subnet_purpose": "publicweb"}

	merged := MergeParameters(defaults, user, protected)

	// Protected beats user beats defaults, key by key
	assert.Equal(t, 1, merged.Min())
	assert.Equal(t, 4, merged.Max())
	assert.Equal(t, "publicweb", merged.SubnetPurpose())
	assert.Equal(t, "release", merged.String("message", ""))

	// Inputs are not mutated
	assert.Equal(t, 2, defaults.Max())
	assert.Equal(t, "internal", user.String("subnet_purpose", "internal"))
}

func TestParametersNumericNormalization(t *testing.T) {
	// JSON unmarshals numbers as float64
	p := Parameters{"min": float64(2), "max": "5", "desired_capacity": 3}
	assert.Equal(t, 2, p.Min())
	assert.Equal(t, 5, p.Max())
	assert.Equal(t, 3, p.DesiredCapacity())

	// Desired capacity falls back to min
	q := Parameters{"min": 2}
	assert.Equal(t, 2, q.DesiredCapacity())
}

func TestParametersScalarOrList(t *testing.T) {
	scalar := Parameters{"selected_load_balancers": "accounts-elb"}
	assert.Equal(t, []string{"accounts-elb"}, scalar.SelectedLoadBalancers())

	list := Parameters{"selected_load_balancers": []any{"a", "b"}}
	assert.Equal(t, []string{"a", "b"}, list.SelectedLoadBalancers())

	typed := Parameters{"selected_zones": []string{"a", "b"}}
	assert.Equal(t, []string{"a", "b"}, typed.SelectedZones())

	assert.Nil(t, Parameters{}.SelectedLoadBalancers())
}

func TestParametersHealthcheckDefaults(t *testing.T) {
	p := Parameters{}
	assert.Equal(t, 8080, p.ServicePort())
	assert.Equal(t, "/healthcheck", p.HealthcheckPath())
	assert.False(t, p.HealthcheckSkip())

	q := Parameters{"service_port": float64(9090), "healthcheck_path": "status", "skip_instance_healthcheck": true}
	assert.Equal(t, 9090, q.ServicePort())
	assert.Equal(t, "/status", q.HealthcheckPath())
	assert.True(t, q.HealthcheckSkip())
}

func TestErrorKinds(t *testing.T) {
	err := NewError(ErrLocked, "deployments are disabled")
	assert.Equal(t, ErrLocked, KindOf(err))
	assert.True(t, IsKind(err, ErrLocked))
	assert.False(t, IsKind(err, ErrValidation))
	assert.Equal(t, "deployments are disabled", err.Error())
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := WrapError(ErrHTTP, cause, "polling task")

	assert.Equal(t, ErrHTTP, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "polling task")
	assert.Contains(t, err.Error(), "connection refused")

	// Classification survives another layer of wrapping
	outer := fmt.Errorf("tracker: %w", err)
	assert.Equal(t, ErrHTTP, KindOf(outer))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(NewError(ErrHTTP, "timeout")))
	assert.True(t, Transient(NewError(ErrStore, "bucket missing")))
	assert.False(t, Transient(NewError(ErrMissingASG, "no such group")))
	assert.False(t, Transient(errors.New("plain")))
	assert.False(t, Transient(nil))
}
