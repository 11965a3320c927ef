package asg

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/gantryhq/gantry/pkg/types"
)

// Remote task statuses that mean the work is over
const (
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
	TaskTerminated = "terminated"
	TaskRunning    = "running"
)

const (
	logLineLayout    = "2006-01-02_15:04:05"
	updateTimeLayout = "2006-01-02 15:04:05 MST"
)

// creatingGroupPattern matches the log line announcing a new group's name
var creatingGroupPattern = regexp.MustCompile(`Creating auto scaling group '([^']+)'`)

// RemoteTask is the parsed state of a task running on the remote service
type RemoteTask struct {
	Status     string
	Log        []types.LogEntry
	UpdateTime time.Time
}

// Finished reports whether the remote task reached a terminal status
func (t *RemoteTask) Finished() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskTerminated:
		return true
	}
	return false
}

// TaskStatus maps the remote status onto the deployment task status. Anything
// unrecognized means the remote is still working.
func (t *RemoteTask) TaskStatus() types.TaskStatus {
	switch t.Status {
	case TaskCompleted:
		return types.TaskCompleted
	case TaskFailed:
		return types.TaskFailed
	case TaskTerminated:
		return types.TaskTerminated
	}
	return types.TaskRunning
}

// CreatedGroupName extracts the new group's name from the task log, "" when
// no log line announces one
func (t *RemoteTask) CreatedGroupName() string {
	return CreatedGroupName(t.Log)
}

// CreatedGroupName scans a task log for the line announcing a new group
func CreatedGroupName(log []types.LogEntry) string {
	for _, entry := range log {
		if m := creatingGroupPattern.FindStringSubmatch(entry.Message); m != nil {
			return m[1]
		}
	}
	return ""
}

// taskDocument is the wire shape of the remote task JSON
type taskDocument struct {
	Status     string   `json:"status"`
	Log        []string `json:"log"`
	UpdateTime string   `json:"updateTime"`
}

// parseTask decodes a remote task document. Log lines arrive as
// "YYYY-MM-DD_HH:MM:SS message" and are normalized into timestamped entries;
// updateTime arrives as "YYYY-MM-DD HH:MM:SS UTC" and is parsed after
// swapping the service's non-standard UTC token for GMT.
func parseTask(data []byte) (*RemoteTask, error) {
	var doc taskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	task := &RemoteTask{Status: doc.Status}
	for _, line := range doc.Log {
		task.Log = append(task.Log, parseLogLine(line))
	}
	if doc.UpdateTime != "" {
		normalized := strings.Replace(doc.UpdateTime, "UTC", "GMT", 1)
		if parsed, err := time.Parse(updateTimeLayout, normalized); err == nil {
			task.UpdateTime = parsed.UTC()
		}
	}
	return task, nil
}

// parseLogLine splits a remote log line into timestamp and message. Lines
// that don't carry the expected timestamp survive whole as the message.
func parseLogLine(line string) types.LogEntry {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 2 {
		if ts, err := time.ParseInLocation(logLineLayout, parts[0], time.UTC); err == nil {
			return types.LogEntry{Timestamp: ts, Message: parts[1]}
		}
	}
	return types.LogEntry{Message: line}
}
