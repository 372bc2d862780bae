package store

import (
	"fmt"
	"strings"
)

// TaskState is stored numerically; names are accepted at the filter boundary.
type TaskState int

const (
	TaskStateQueued    TaskState = 1
	TaskStateRunning   TaskState = 2
	TaskStateCompleted TaskState = 3
	TaskStateFailed    TaskState = 4
	TaskStateCanceled  TaskState = 5
)

var taskStateNames = map[TaskState]string{
	TaskStateQueued:    "queued",
	TaskStateRunning:   "running",
	TaskStateCompleted: "completed",
	TaskStateFailed:    "failed",
	TaskStateCanceled:  "canceled",
}

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether the state is one of completed/failed/canceled.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCanceled
}

// ParseTaskState translates a state name to its stored value.
func ParseTaskState(name string) (TaskState, error) {
	for state, n := range taskStateNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", name)
}

// TaskType is stored numerically; names are accepted at the filter boundary.
type TaskType int

const (
	TaskTypeRepoGroupSync       TaskType = 1
	TaskTypeRemoveRepoContent   TaskType = 2
	TaskTypeRepoSnapshot        TaskType = 3
	TaskTypeRepoRemoval         TaskType = 4
	TaskTypeRepoCreationFromGit TaskType = 5
	TaskTypeRepoSync            TaskType = 6
)

var taskTypeNames = map[TaskType]string{
	TaskTypeRepoGroupSync:       "repo_group_sync",
	TaskTypeRemoveRepoContent:   "remove_repo_content",
	TaskTypeRepoSnapshot:        "repo_snapshot",
	TaskTypeRepoRemoval:         "repo_removal",
	TaskTypeRepoCreationFromGit: "repo_creation_from_git",
	TaskTypeRepoSync:            "repo_sync",
}

func (t TaskType) String() string {
	if name, ok := taskTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseTaskType translates a type name to its stored value.
func ParseTaskType(name string) (TaskType, error) {
	for typ, n := range taskTypeNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return typ, nil
		}
	}
	return 0, fmt.Errorf("unknown task type %q", name)
}

// HealthStatus is the green/amber/red rolling sync health.
type HealthStatus int

const (
	HealthGreen HealthStatus = 1
	HealthAmber HealthStatus = 2
	HealthRed   HealthStatus = 3
)

var healthNames = map[HealthStatus]string{
	HealthGreen: "green",
	HealthAmber: "amber",
	HealthRed:   "red",
}

func (h HealthStatus) String() string {
	if name, ok := healthNames[h]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(h))
}

// Worse reports whether h is worse than other (red > amber > green).
func (h HealthStatus) Worse(other HealthStatus) bool {
	return h > other
}

// ParseHealthStatus translates a health name to its stored value.
func ParseHealthStatus(name string) (HealthStatus, error) {
	for status, n := range healthNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown health status %q", name)
}
