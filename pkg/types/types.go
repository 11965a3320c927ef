package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Deployment is the authoritative record of one deployment of a machine image
// to an (application, environment, region) target
type Deployment struct {
	ID          string     `json:"deployment_id"`
	Application string     `json:"application"`
	Environment string     `json:"environment"`
	Region      string     `json:"region"`
	AMI         string     `json:"ami"`
	User        string     `json:"user"`
	Message     string     `json:"message"`
	Hash        string     `json:"hash,omitempty"`
	Parameters  Parameters `json:"parameters"`
	Tasks       []Task     `json:"tasks"`
	Created     time.Time  `json:"created"`
	Start       *time.Time `json:"start,omitempty"` // Set when the first task starts
	End         *time.Time `json:"end,omitempty"`   // Set on completion or failure
}

// Key returns the coordination key for the deployment's target
func (d *Deployment) Key() string {
	return EnvironmentKey(d.Application, d.Environment, d.Region)
}

// Task returns the task with the given ID, or nil
func (d *Deployment) Task(taskID string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == taskID {
			return &d.Tasks[i]
		}
	}
	return nil
}

// NextTask returns the first pending task after the given one in pipeline
// order, or nil when none remains
func (d *Deployment) NextTask(after *Task) *Task {
	start := 0
	if after != nil {
		for i := range d.Tasks {
			if d.Tasks[i].ID == after.ID {
				start = i + 1
				break
			}
		}
	}
	for i := start; i < len(d.Tasks); i++ {
		if d.Tasks[i].Status == TaskPending {
			return &d.Tasks[i]
		}
	}
	return nil
}

// FirstIncompleteTask returns the first task not in a terminal status, or nil
func (d *Deployment) FirstIncompleteTask() *Task {
	for i := range d.Tasks {
		if !d.Tasks[i].Status.Terminal() {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Incomplete reports whether any task is still in a non-terminal status
func (d *Deployment) Incomplete() bool {
	return d.FirstIncompleteTask() != nil
}

// EnvironmentKey builds the "app-env-region" key used by the coordination
// store for in-progress, paused and awaiting entries
func EnvironmentKey(application, environment, region string) string {
	return fmt.Sprintf("%s-%s-%s", application, environment, region)
}

// Action identifies one of the fixed pipeline steps
type Action string

const (
	ActionCreateASG             Action = "create-asg"
	ActionWaitForInstanceHealth Action = "wait-for-instance-health"
	ActionEnableASG             Action = "enable-asg"
	ActionWaitForELBHealth      Action = "wait-for-elb-health"
	ActionDisableASG            Action = "disable-asg"
	ActionDeleteASG             Action = "delete-asg"
)

// StandardActions is the fixed task order of every deployment
var StandardActions = []Action{
	ActionCreateASG,
	ActionWaitForInstanceHealth,
	ActionEnableASG,
	ActionWaitForELBHealth,
	ActionDisableASG,
	ActionDeleteASG,
}

// TaskStatus represents the lifecycle state of a single task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskTerminated TaskStatus = "terminated"
	TaskSkipped    TaskStatus = "skipped"
)

// Terminal reports whether the status is final. Pending is not terminal: a
// deployment interrupted before a task started resumes from that task.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTerminated, TaskSkipped:
		return true
	}
	return false
}

// Task is one element of a deployment's ordered task list
type Task struct {
	ID     string     `json:"task_id"`
	Action Action     `json:"action"`
	Status TaskStatus `json:"status"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	URL    string     `json:"url,omitempty"` // Remote task resource, when the action tracks one
	Log    []LogEntry `json:"log,omitempty"`
}

// AppendLog adds a timestamped message to the task log
func (t *Task) AppendLog(message string) {
	t.Log = append(t.Log, LogEntry{Timestamp: time.Now().UTC(), Message: message})
}

// LogEntry is a single line of task history
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// StandardTasks builds the fixed six-task pipeline with fresh task IDs and
// every status pending
func StandardTasks() []Task {
	tasks := make([]Task, len(StandardActions))
	for i, action := range StandardActions {
		tasks[i] = Task{
			ID:     uuid.New().String(),
			Action: action,
			Status: TaskPending,
		}
	}
	return tasks
}
