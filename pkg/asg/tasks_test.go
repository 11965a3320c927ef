package asg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/types"
)

func TestParseTask(t *testing.T) {
	doc := []byte(`{
		"status": "running",
		"log": [
			"2015-11-07_09:52:11 Creating auto scaling group 'accounts-poke-v002', min 3, max 3",
			"2015-11-07_09:52:14 Waiting up to 40m for 3 instances"
		],
		"updateTime": "2015-11-07 09:52:14 UTC"
	}`)

	task, err := parseTask(doc)
	require.NoError(t, err)

	assert.Equal(t, TaskRunning, task.Status)
	assert.False(t, task.Finished())
	assert.Equal(t, types.TaskRunning, task.TaskStatus())
	assert.Equal(t, time.Date(2015, 11, 7, 9, 52, 14, 0, time.UTC), task.UpdateTime)

	require.Len(t, task.Log, 2)
	assert.Equal(t, time.Date(2015, 11, 7, 9, 52, 11, 0, time.UTC), task.Log[0].Timestamp)
	assert.Equal(t, "Creating auto scaling group 'accounts-poke-v002', min 3, max 3", task.Log[0].Message)
	assert.Equal(t, "accounts-poke-v002", task.CreatedGroupName())
}

func TestParseTaskRejectsGarbage(t *testing.T) {
	_, err := parseTask([]byte("<html>task show page</html>"))
	assert.Error(t, err)
}

func TestParseLogLineWithoutTimestamp(t *testing.T) {
	entry := parseLogLine("started by gantry")
	assert.True(t, entry.Timestamp.IsZero())
	assert.Equal(t, "started by gantry", entry.Message)
}

func TestRemoteTaskStatusMapping(t *testing.T) {
	cases := []struct {
		remote   string
		finished bool
		status   types.TaskStatus
	}{
		{TaskCompleted, true, types.TaskCompleted},
		{TaskFailed, true, types.TaskFailed},
		{TaskTerminated, true, types.TaskTerminated},
		{TaskRunning, false, types.TaskRunning},
		{"queued", false, types.TaskRunning},
	}
	for _, tc := range cases {
		task := &RemoteTask{Status: tc.remote}
		assert.Equal(t, tc.finished, task.Finished(), tc.remote)
		assert.Equal(t, tc.status, task.TaskStatus(), tc.remote)
	}
}

func TestCreatedGroupNameAbsent(t *testing.T) {
	task := &RemoteTask{Log: []types.LogEntry{{Message: "Waiting for instances"}}}
	assert.Empty(t, task.CreatedGroupName())
}
