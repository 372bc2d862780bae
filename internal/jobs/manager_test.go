package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/store"
)

type enqueued struct {
	job  *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, enqueued{job: task, opts: opts})
	return &asynq.TaskInfo{}, nil
}

type fakeController struct {
	states    map[string]asynq.TaskState
	deleted   []string
	signalled []string
}

func (f *fakeController) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	state, ok := f.states[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: id, Queue: queue, State: state}, nil
}

func (f *fakeController) DeleteTask(queue, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeController) CancelProcessing(id string) error {
	f.signalled = append(f.signalled, id)
	return nil
}

func setupJobs(t *testing.T) (*JobManager, *store.DB, *fakeEnqueuer, *fakeController) {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	scheduler, err := gocron.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = scheduler.Shutdown() })

	enq := &fakeEnqueuer{}
	ctl := &fakeController{states: map[string]asynq.TaskState{}}
	cfg := config.Config{
		Paging: config.PagingConfig{MaxPageSize: 100, DefaultPageSize: 25},
		Sync:   config.SyncConfig{ResultTTL: time.Hour, JobTimeout: time.Minute},
	}
	return New(db, cfg, scheduler, enq, ctl, nil, nil, nil), db, enq, ctl
}

func TestQueueSyncReposTask(t *testing.T) {
	m, _, enq, _ := setupJobs(t)
	ctx := context.Background()

	task, err := m.QueueSyncReposTask(ctx, SyncReposPayload{
		ServerName:         "pulp01.example.com",
		RegexInclude:       "^ext-",
		MaxConcurrentSyncs: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, store.TaskTypeRepoGroupSync, task.TaskType)
	assert.Equal(t, store.TaskStateQueued, task.State)
	require.NotNil(t, task.WorkerJobID)
	assert.Equal(t, "pulp01.example.com", task.TaskArgs["pulp_server"])

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, TypeSyncRepos, enq.jobs[0].job.Type())
	var p SyncReposPayload
	require.NoError(t, json.Unmarshal(enq.jobs[0].job.Payload(), &p))
	assert.Equal(t, task.ID, p.TaskID)
	assert.Equal(t, 3, p.MaxConcurrentSyncs)
}

func TestQueueTaskEnqueueFailureMarksTaskFailed(t *testing.T) {
	m, db, enq, _ := setupJobs(t)
	enq.err = errors.QueueError("enqueue", assert.AnError)
	ctx := context.Background()

	task, err := m.QueueSnapshotTask(ctx, SnapshotPayload{
		ServerName:   "pulp01.example.com",
		SnapshotName: "release-2026-08",
	})
	// The Task is the durable record: the enqueue failure is captured on it
	// and not re-raised.
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateFailed, task.State)
	require.NotNil(t, task.Error)
	assert.Equal(t, "failed to enqueue worker job", task.Error.Msg)
	assert.NotNil(t, task.DateFinished)

	stored, err := store.NewTaskStore(db, m.cfg.Paging).Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateFailed, stored.State)
}

func optValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value()
		}
	}
	return nil
}

func TestUpdateConfigAppliesToNewEnqueues(t *testing.T) {
	m, _, enq, _ := setupJobs(t)
	ctx := context.Background()

	_, err := m.QueueSyncReposTask(ctx, SyncReposPayload{ServerName: "pulp01.example.com"})
	require.NoError(t, err)
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, time.Minute, optValue(enq.jobs[0].opts, asynq.TimeoutOpt))
	assert.Equal(t, time.Hour, optValue(enq.jobs[0].opts, asynq.RetentionOpt))

	cfg := m.config()
	cfg.Sync.JobTimeout = 2 * time.Minute
	cfg.Sync.ResultTTL = 30 * time.Minute
	m.UpdateConfig(cfg)

	_, err = m.QueueSyncReposTask(ctx, SyncReposPayload{ServerName: "pulp01.example.com"})
	require.NoError(t, err)
	require.Len(t, enq.jobs, 2)
	assert.Equal(t, 2*time.Minute, optValue(enq.jobs[1].opts, asynq.TimeoutOpt))
	assert.Equal(t, 30*time.Minute, optValue(enq.jobs[1].opts, asynq.RetentionOpt))
}

func TestChangeTaskStateCancelsPendingJob(t *testing.T) {
	m, _, _, ctl := setupJobs(t)
	ctx := context.Background()

	task, err := m.QueueRemovalTask(ctx, RemovalPayload{
		ServerName:   "pulp01.example.com",
		RegexInclude: "^snap-",
	})
	require.NoError(t, err)
	ctl.states[*task.WorkerJobID] = asynq.TaskStatePending

	canceled, err := m.ChangeTaskState(ctx, task.ID, "canceled")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateCanceled, canceled.State)
	assert.NotNil(t, canceled.DateFinished)
	assert.Equal(t, []string{*task.WorkerJobID}, ctl.deleted)
	assert.Empty(t, ctl.signalled)
}

func TestChangeTaskStateStopSignalsRunningJob(t *testing.T) {
	m, db, _, ctl := setupJobs(t)
	ctx := context.Background()

	task, err := m.QueueSyncReposTask(ctx, SyncReposPayload{ServerName: "pulp01.example.com"})
	require.NoError(t, err)
	task.State = store.TaskStateRunning
	require.NoError(t, store.NewTaskStore(db, m.cfg.Paging).Update(ctx, task))
	ctl.states[*task.WorkerJobID] = asynq.TaskStateActive

	canceled, err := m.ChangeTaskState(ctx, task.ID, "canceled")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateCanceled, canceled.State)
	assert.Equal(t, []string{*task.WorkerJobID}, ctl.signalled)
	assert.Empty(t, ctl.deleted)

	// A second cancel hits the terminal-state rule.
	_, err = m.ChangeTaskState(ctx, task.ID, "canceled")
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidState))
}

func TestChangeTaskStateValidation(t *testing.T) {
	m, _, _, _ := setupJobs(t)
	ctx := context.Background()

	_, err := m.ChangeTaskState(ctx, 999, "canceled")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	task, err := m.QueueRemovalTask(ctx, RemovalPayload{ServerName: "p", RegexInclude: "x"})
	require.NoError(t, err)
	_, err = m.ChangeTaskState(ctx, task.ID, "completed")
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidState))
}

func TestHandleWorkerFailureMarksTaskFailed(t *testing.T) {
	m, db, _, _ := setupJobs(t)
	ctx := context.Background()

	task, err := m.QueueSyncReposTask(ctx, SyncReposPayload{ServerName: "pulp01.example.com"})
	require.NoError(t, err)

	payload, _ := json.Marshal(SyncReposPayload{TaskID: task.ID})
	m.HandleWorkerFailure(ctx, asynq.NewTask(TypeSyncRepos, payload), assert.AnError)

	stored, err := store.NewTaskStore(db, m.cfg.Paging).Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateFailed, stored.State)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "worker job failed", stored.Error.Msg)
	assert.NotNil(t, stored.DateFinished)
}

func TestHandleWorkerFailureLeavesTerminalTaskAlone(t *testing.T) {
	m, db, _, _ := setupJobs(t)
	ctx := context.Background()

	task, err := m.QueueSyncReposTask(ctx, SyncReposPayload{ServerName: "pulp01.example.com"})
	require.NoError(t, err)
	_, err = m.ChangeTaskState(ctx, task.ID, "canceled")
	require.NoError(t, err)

	payload, _ := json.Marshal(SyncReposPayload{TaskID: task.ID})
	m.HandleWorkerFailure(ctx, asynq.NewTask(TypeSyncRepos, payload), assert.AnError)

	stored, err := store.NewTaskStore(db, m.cfg.Paging).Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateCanceled, stored.State)
}

func TestInstallSchedules(t *testing.T) {
	m, db, _, _ := setupJobs(t)
	ctx := context.Background()

	servers := store.NewPulpServerStore(db)
	regSchedule := "30 2 * * *"
	primary := &store.PulpServer{Name: "pulp01.example.com", RegistrationSchedule: &regSchedule}
	require.NoError(t, servers.Add(ctx, primary))
	other := &store.PulpServer{Name: "pulp02.example.com"}
	require.NoError(t, servers.Add(ctx, other))

	groups := store.NewPulpServerRepoGroupStore(db)
	require.NoError(t, groups.Add(ctx, &store.PulpServerRepoGroup{
		PulpServerID:       primary.ID,
		Name:               "external",
		Schedule:           "0 */4 * * *",
		MaxConcurrentSyncs: 4,
	}))
	require.NoError(t, groups.Add(ctx, &store.PulpServerRepoGroup{
		PulpServerID: other.ID,
		Name:         "mirror",
		Schedule:     "15 1 * * *",
		PulpMasterID: &primary.ID,
	}))

	require.NoError(t, m.InstallSchedules(ctx))
	assert.Len(t, m.scheduler.Jobs(), 3)

	// Reinstalling removes and recreates rather than duplicating.
	require.NoError(t, m.InstallSchedules(ctx))
	jobs := m.scheduler.Jobs()
	assert.Len(t, jobs, 3)

	byServer := map[string]int{}
	for _, job := range jobs {
		for _, tag := range job.Tags() {
			if len(tag) > len(tagServer) && tag[:len(tagServer)] == tagServer {
				byServer[tag[len(tagServer):]]++
			}
		}
	}
	assert.Equal(t, 2, byServer["pulp01.example.com"])
	assert.Equal(t, 1, byServer["pulp02.example.com"])
}

func TestInstallSchedulesSkipsGroupsWithoutSchedule(t *testing.T) {
	m, db, _, _ := setupJobs(t)
	ctx := context.Background()

	server := &store.PulpServer{Name: "pulp01.example.com"}
	require.NoError(t, store.NewPulpServerStore(db).Add(ctx, server))
	require.NoError(t, store.NewPulpServerRepoGroupStore(db).Add(ctx, &store.PulpServerRepoGroup{
		PulpServerID: server.ID,
		Name:         "manual",
	}))

	require.NoError(t, m.InstallSchedules(ctx))
	assert.Empty(t, m.scheduler.Jobs())
}
