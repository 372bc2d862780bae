// Package store is the durable record of pulp-manager: content servers,
// repos, server-repo bindings, repo groups and Tasks, on database/sql
// (SQLite or MySQL).
//
// Mutating methods write through the Querier they were constructed with;
// nothing commits until the caller commits its transaction. Readers bound
// to the root DB therefore see only committed state.
package store

import (
	"time"
)

// PulpServer is a managed content server (identified by FQDN).
type PulpServer struct {
	ID                       int64
	Name                     string
	Username                 string
	VaultServiceAccountMount string
	RegistrationSchedule     *string
	RegistrationRegexInclude *string
	RegistrationRegexExclude *string
	RepoSyncHealthRollup     *HealthStatus
	RepoSyncHealthRollupDate *time.Time
	DateCreated              time.Time
}

// Repo is a repository name known to the fleet, with its content kind.
type Repo struct {
	ID          int64
	Name        string
	RepoType    string
	DateCreated time.Time
}

// PulpServerRepo binds a Repo to a PulpServer along with the server-side
// resource hrefs captured by the reconciler.
type PulpServerRepo struct {
	ID                 int64
	PulpServerID       int64
	RepoID             int64
	RepoHref           *string
	RemoteHref         *string
	DistributionHref   *string
	RemoteFeed         *string
	RepoSyncHealth     *HealthStatus
	RepoSyncHealthDate *time.Time
	DateCreated        time.Time

	// Populated by joined queries only.
	RepoName string
	RepoType string
}

// PulpServerRepoGroup is scheduling configuration for a set of repos on a
// server. Not mutated by the core.
type PulpServerRepoGroup struct {
	ID                 int64
	PulpServerID       int64
	Name               string
	Schedule           string
	MaxConcurrentSyncs int
	MaxRuntimeSeconds  int
	RegexInclude       *string
	RegexExclude       *string
	// PulpMasterID names an upstream server to mirror repo definitions from.
	PulpMasterID *int64
}

// TaskError is the structured error captured on a failed Task or stage.
type TaskError struct {
	Msg    string `json:"msg"`
	Detail string `json:"detail"`
}

// Task is the local durable record of a unit of work, distinct from a
// content server's own task.
type Task struct {
	ID           int64
	Name         string
	TaskType     TaskType
	State        TaskState
	ParentTaskID *int64
	WorkerJobID  *string
	WorkerName   *string
	DateCreated  time.Time
	DateStarted  *time.Time
	DateFinished *time.Time
	TaskArgs     map[string]any
	Error        *TaskError
}

// Terminal reports whether the task has reached a terminal state.
func (t *Task) Terminal() bool {
	return t.State.Terminal()
}

// TaskStage is a step of a multi-step Task. Stages are appended, never
// replaced; the executor holds at most one non-terminal stage per Task.
type TaskStage struct {
	ID          int64
	TaskID      int64
	Name        string
	Detail      map[string]any
	Error       *TaskError
	DateCreated time.Time
}

// PulpServerRepoTask binds a per-repo child Task to its PulpServerRepo;
// the health window is computed over these rows.
type PulpServerRepoTask struct {
	ID               int64
	PulpServerRepoID int64
	TaskID           int64
	DateCreated      time.Time
}
