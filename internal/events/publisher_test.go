package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/store"
)

func TestEventForCarriesTaskFields(t *testing.T) {
	task := &store.Task{
		ID:       42,
		Name:     "sync debian-bookworm on pulp01.example.com",
		TaskType: store.TaskTypeRepoSync,
		State:    store.TaskStateCompleted,
	}

	event := eventFor(task, "pulp01.example.com")

	assert.Equal(t, int64(42), event.TaskID)
	assert.Equal(t, "repo_sync", event.TaskType)
	assert.Equal(t, "completed", event.State)
	assert.Equal(t, "pulp01.example.com", event.PulpServer)
	assert.False(t, event.OccurredAt.IsZero())

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"task_id":42`)
	assert.Contains(t, string(payload), `"pulp_server":"pulp01.example.com"`)
}

func TestEventForOmitsEmptyServer(t *testing.T) {
	task := &store.Task{ID: 1, TaskType: store.TaskTypeRepoSync, State: store.TaskStateQueued}

	payload, err := json.Marshal(eventFor(task, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "pulp_server")
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "pulpmanager.tasks.failed", subjectFor("pulpmanager.tasks", "failed"))
	assert.Equal(t, "custom.subject.canceled", subjectFor("custom.subject", "canceled"))
}

func TestNoopPublisherIsSafe(t *testing.T) {
	var p Publisher = NoopPublisher{}
	p.TaskStateChanged(&store.Task{ID: 7}, "pulp01.example.com")
	p.Close()
}
