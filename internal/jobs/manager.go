// Package jobs wraps the external work queue with a cron-capable scheduler.
// Scheduled entries and ad-hoc enqueues both create a durable Task first;
// the Task is the user-visible record, the queue record drives retry and
// cleanup policy.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/events"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/store"
)

// queueName is the asynq queue all worker jobs run on.
const queueName = "default"

// Enqueuer is the narrow slice of the queue client the manager needs.
// *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobController inspects and cancels queued worker jobs. *asynq.Inspector
// satisfies it.
type JobController interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// JobManager owns schedule installation, ad-hoc enqueues and cancellation.
type JobManager struct {
	db *store.DB

	mu  sync.RWMutex
	cfg config.Config

	scheduler gocron.Scheduler
	enqueuer  Enqueuer
	control   JobController
	recorder  metrics.Recorder
	events    events.Publisher
	log       *slog.Logger
}

// New builds a JobManager. recorder and publisher may be nil.
func New(db *store.DB, cfg config.Config, scheduler gocron.Scheduler, enqueuer Enqueuer, control JobController, recorder metrics.Recorder, publisher events.Publisher, log *slog.Logger) *JobManager {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &JobManager{
		db:        db,
		cfg:       cfg,
		scheduler: scheduler,
		enqueuer:  enqueuer,
		control:   control,
		recorder:  recorder,
		events:    publisher,
		log:       log,
	}
}

// UpdateConfig swaps the active configuration so subsequent enqueues and
// schedule installs pick up new timeouts and schedule settings.
func (m *JobManager) UpdateConfig(cfg config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *JobManager) config() config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *JobManager) tasks() *store.TaskStore {
	return store.NewTaskStore(m.db, m.config().Paging)
}

// QueueSyncReposTask creates a queued repo-group-sync Task and enqueues the
// sync worker job.
func (m *JobManager) QueueSyncReposTask(ctx context.Context, p SyncReposPayload) (*store.Task, error) {
	name := fmt.Sprintf("sync repos on %s", p.ServerName)
	args := map[string]any{
		"pulp_server":   p.ServerName,
		"regex_include": p.RegexInclude,
		"regex_exclude": p.RegexExclude,
	}
	if p.UpstreamName != "" {
		args["upstream_server"] = p.UpstreamName
	}
	return m.queueTask(ctx, name, store.TaskTypeRepoGroupSync, args, TypeSyncRepos, func(taskID int64) any {
		p.TaskID = taskID
		return p
	})
}

// QueueRegisterReposTask creates a queued registration Task and enqueues the
// registration worker job.
func (m *JobManager) QueueRegisterReposTask(ctx context.Context, p RegisterReposPayload) (*store.Task, error) {
	name := fmt.Sprintf("register repos on %s", p.ServerName)
	args := map[string]any{
		"pulp_server":   p.ServerName,
		"regex_include": p.RegexInclude,
		"regex_exclude": p.RegexExclude,
		"config_dir":    p.ConfigDir,
	}
	return m.queueTask(ctx, name, store.TaskTypeRepoCreationFromGit, args, TypeRegisterRepos, func(taskID int64) any {
		p.TaskID = taskID
		return p
	})
}

// QueueRemoveContentTask creates a queued content-removal Task and enqueues
// the removal worker job.
func (m *JobManager) QueueRemoveContentTask(ctx context.Context, p RemoveContentPayload) (*store.Task, error) {
	name := fmt.Sprintf("remove content from %s on %s", p.RepoName, p.ServerName)
	args := map[string]any{
		"pulp_server": p.ServerName,
		"repository":  p.RepoName,
	}
	if len(p.ContentHrefs) > 0 {
		args["content_hrefs"] = p.ContentHrefs
	}
	return m.queueTask(ctx, name, store.TaskTypeRemoveRepoContent, args, TypeRemoveRepoContent, func(taskID int64) any {
		p.TaskID = taskID
		return p
	})
}

// QueueSnapshotTask creates a queued snapshot Task and enqueues the snapshot
// worker job.
func (m *JobManager) QueueSnapshotTask(ctx context.Context, p SnapshotPayload) (*store.Task, error) {
	name := fmt.Sprintf("snapshot %s on %s", p.SnapshotName, p.ServerName)
	args := map[string]any{
		"pulp_server":   p.ServerName,
		"snapshot_name": p.SnapshotName,
		"regex_include": p.RegexInclude,
	}
	return m.queueTask(ctx, name, store.TaskTypeRepoSnapshot, args, TypeRepoSnapshot, func(taskID int64) any {
		p.TaskID = taskID
		return p
	})
}

// QueueRemovalTask creates a queued repo-removal Task and enqueues the
// removal worker job.
func (m *JobManager) QueueRemovalTask(ctx context.Context, p RemovalPayload) (*store.Task, error) {
	name := fmt.Sprintf("remove repos on %s", p.ServerName)
	args := map[string]any{
		"pulp_server":   p.ServerName,
		"regex_include": p.RegexInclude,
	}
	return m.queueTask(ctx, name, store.TaskTypeRepoRemoval, args, TypeRepoRemoval, func(taskID int64) any {
		p.TaskID = taskID
		return p
	})
}

// queueTask inserts the queued Task, then enqueues the worker job carrying
// the Task id. An enqueue failure marks the Task failed and is not re-raised:
// the Task is the durable record of the attempt.
func (m *JobManager) queueTask(ctx context.Context, name string, taskType store.TaskType, args map[string]any, jobType string, payload func(taskID int64) any) (*store.Task, error) {
	jobID := uuid.NewString()
	task := &store.Task{
		Name:        name,
		TaskType:    taskType,
		State:       store.TaskStateQueued,
		WorkerJobID: &jobID,
		TaskArgs:    args,
	}
	if err := m.tasks().Add(ctx, task); err != nil {
		return nil, err
	}
	m.recorder.IncTaskTransition(taskType.String(), task.State.String())
	m.events.TaskStateChanged(task, taskArg(task, "pulp_server"))

	data, err := json.Marshal(payload(task.ID))
	if err != nil {
		return nil, errors.InternalError("encode worker job payload", err)
	}

	cfg := m.config()
	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
	}
	if cfg.Sync.JobTimeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.Sync.JobTimeout))
	}
	if cfg.Sync.ResultTTL > 0 {
		opts = append(opts, asynq.Retention(cfg.Sync.ResultTTL))
	}

	if _, err := m.enqueuer.EnqueueContext(ctx, asynq.NewTask(jobType, data), opts...); err != nil {
		m.log.Error("failed to enqueue worker job",
			logfields.TaskID(task.ID), logfields.JobType(jobType), logfields.Error(err))
		m.markTaskFailed(ctx, task, "failed to enqueue worker job", err)
		return task, nil
	}

	m.log.Info("worker job enqueued",
		logfields.TaskID(task.ID), logfields.JobID(jobID), logfields.JobType(jobType))
	return task, nil
}

// ChangeTaskState cancels a Task. Cancellation is the only supported
// transition; already-issued server tasks are not touched.
func (m *JobManager) ChangeTaskState(ctx context.Context, taskID int64, target string) (*store.Task, error) {
	if target != store.TaskStateCanceled.String() {
		return nil, errors.InvalidState("only cancellation is supported").
			WithContext("target_state", target)
	}

	task, err := m.tasks().Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Terminal() {
		return nil, errors.InvalidState("task is already in a terminal state").
			WithContext("state", task.State.String())
	}

	if task.WorkerJobID != nil {
		m.cancelWorkerJob(*task.WorkerJobID)
	}

	now := time.Now().UTC()
	task.State = store.TaskStateCanceled
	task.DateFinished = &now
	if err := m.tasks().Update(ctx, task); err != nil {
		return nil, err
	}
	m.recorder.IncTaskTransition(task.TaskType.String(), task.State.String())
	m.events.TaskStateChanged(task, taskArg(task, "pulp_server"))
	m.log.Info("task canceled", logfields.TaskID(task.ID))
	return task, nil
}

// cancelWorkerJob deletes a pending worker job or stop-signals a running
// one. Best effort: queue errors are logged, the Task cancels regardless.
func (m *JobManager) cancelWorkerJob(jobID string) {
	info, err := m.control.GetTaskInfo(queueName, jobID)
	if err != nil {
		m.log.Warn("worker job not found in queue", logfields.JobID(jobID), logfields.Error(err))
		return
	}
	if info.State == asynq.TaskStateActive {
		if err := m.control.CancelProcessing(jobID); err != nil {
			m.log.Warn("failed to stop-signal worker job", logfields.JobID(jobID), logfields.Error(err))
		}
		return
	}
	if err := m.control.DeleteTask(queueName, jobID); err != nil {
		m.log.Warn("failed to delete pending worker job", logfields.JobID(jobID), logfields.Error(err))
	}
}

// HandleWorkerFailure is the queue's error handler: it marks the Task behind
// a failed worker job as failed. It never raises; everything is logged and
// swallowed.
func (m *JobManager) HandleWorkerFailure(ctx context.Context, job *asynq.Task, jobErr error) {
	task, err := m.taskForJob(ctx, job)
	if err != nil {
		m.log.Error("failure callback could not resolve task",
			slog.String("job_type", job.Type()), logfields.Error(err))
		return
	}
	if task.Terminal() {
		return
	}
	m.markTaskFailed(ctx, task, "worker job failed", jobErr)
}

// taskForJob resolves the Task behind a worker job, preferring the queue's
// job id over the payload-embedded task id.
func (m *JobManager) taskForJob(ctx context.Context, job *asynq.Task) (*store.Task, error) {
	if jobID, ok := asynq.GetTaskID(ctx); ok {
		if task, err := m.tasks().GetByWorkerJobID(ctx, jobID); err == nil {
			return task, nil
		}
	}
	var envelope struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(job.Payload(), &envelope); err != nil || envelope.TaskID == 0 {
		return nil, errors.InvalidArgument("worker job payload carries no task id")
	}
	return m.tasks().Get(ctx, envelope.TaskID)
}

func (m *JobManager) markTaskFailed(ctx context.Context, task *store.Task, msg string, cause error) {
	now := time.Now().UTC()
	task.State = store.TaskStateFailed
	task.DateFinished = &now
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	task.Error = &store.TaskError{Msg: msg, Detail: detail}
	if err := m.tasks().Update(ctx, task); err != nil {
		m.log.Error("failed to mark task failed", logfields.TaskID(task.ID), logfields.Error(err))
		return
	}
	m.recorder.IncTaskTransition(task.TaskType.String(), task.State.String())
	m.events.TaskStateChanged(task, taskArg(task, "pulp_server"))
}

func taskArg(task *store.Task, key string) string {
	if v, ok := task.TaskArgs[key].(string); ok {
		return v
	}
	return ""
}
