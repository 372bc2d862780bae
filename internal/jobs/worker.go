package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/events"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/manager"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/registrar"
	"github.com/pulp/pulp-manager/internal/store"
	"github.com/pulp/pulp-manager/internal/syncher"
)

// SyncDriver runs the per-server sync fan-out.
type SyncDriver interface {
	SyncRepos(ctx context.Context, params syncher.SyncParams) (*syncher.SyncResult, error)
}

// RepoRegistrar registers repo definitions onto a server.
type RepoRegistrar interface {
	RegisterRepos(ctx context.Context, serverName, regexInclude, regexExclude, configDir string) (*registrar.Result, error)
}

// FleetManager is the slice of the repository manager the workers drive.
type FleetManager interface {
	FindRepoVersionPackageContent(ctx context.Context, serverName, repoName string, criteria manager.PackageCriteria) ([]pulp.Package, error)
	RemoveRepoContent(ctx context.Context, serverName, repoName string, contentHrefs []string) error
	SnapshotRepos(ctx context.Context, serverName, snapshotName, regexInclude string) ([]string, error)
	RemoveRepos(ctx context.Context, serverName, regexInclude string) (int, error)
}

// Worker executes the queued job types. One worker job runs at a time per
// process; coordination across processes goes through the Task store and the
// content server's own task serialization.
type Worker struct {
	db       *store.DB
	cfg      config.Config
	sync     SyncDriver
	reg      RepoRegistrar
	fleet    FleetManager
	recorder metrics.Recorder
	events   events.Publisher
	log      *slog.Logger
}

// NewWorker builds a Worker. recorder and publisher may be nil.
func NewWorker(db *store.DB, cfg config.Config, sync SyncDriver, reg RepoRegistrar, fleet FleetManager, recorder metrics.Recorder, publisher events.Publisher, log *slog.Logger) *Worker {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		db:       db,
		cfg:      cfg,
		sync:     sync,
		reg:      reg,
		fleet:    fleet,
		recorder: recorder,
		events:   publisher,
		log:      log,
	}
}

// Mux returns the handler mux for the queue server.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSyncRepos, w.handleSyncRepos)
	mux.HandleFunc(TypeRegisterRepos, w.handleRegisterRepos)
	mux.HandleFunc(TypeRemoveRepoContent, w.handleRemoveContent)
	mux.HandleFunc(TypeRepoSnapshot, w.handleSnapshot)
	mux.HandleFunc(TypeRepoRemoval, w.handleRemoval)
	return mux
}

func (w *Worker) tasks() *store.TaskStore {
	return store.NewTaskStore(w.db, w.cfg.Paging)
}

func (w *Worker) handleSyncRepos(ctx context.Context, job *asynq.Task) error {
	var p SyncReposPayload
	if err := json.Unmarshal(job.Payload(), &p); err != nil {
		return errors.InvalidArgument("malformed sync payload")
	}
	task, err := w.startTask(ctx, p.TaskID)
	if err != nil || task == nil {
		return err
	}

	_, runErr := w.sync.SyncRepos(ctx, syncher.SyncParams{
		ServerName:         p.ServerName,
		UpstreamName:       p.UpstreamName,
		RegexInclude:       p.RegexInclude,
		RegexExclude:       p.RegexExclude,
		MaxConcurrentSyncs: p.MaxConcurrentSyncs,
		ParentTaskID:       task.ID,
	})
	return w.finishTask(ctx, task, runErr)
}

func (w *Worker) handleRegisterRepos(ctx context.Context, job *asynq.Task) error {
	var p RegisterReposPayload
	if err := json.Unmarshal(job.Payload(), &p); err != nil {
		return errors.InvalidArgument("malformed registration payload")
	}
	task, err := w.startTask(ctx, p.TaskID)
	if err != nil || task == nil {
		return err
	}

	result, runErr := w.reg.RegisterRepos(ctx, p.ServerName, p.RegexInclude, p.RegexExclude, p.ConfigDir)
	if runErr == nil {
		w.log.Info("repos registered",
			logfields.Server(p.ServerName),
			slog.Int("registered", result.Registered), slog.Int("skipped", result.Skipped))
	}
	return w.finishTask(ctx, task, runErr)
}

func (w *Worker) handleRemoveContent(ctx context.Context, job *asynq.Task) error {
	var p RemoveContentPayload
	if err := json.Unmarshal(job.Payload(), &p); err != nil {
		return errors.InvalidArgument("malformed content-removal payload")
	}
	task, err := w.startTask(ctx, p.TaskID)
	if err != nil || task == nil {
		return err
	}

	runErr := w.removeContent(ctx, p)
	return w.finishTask(ctx, task, runErr)
}

// removeContent resolves content hrefs (explicit or via package criteria)
// and removes them from the repo.
func (w *Worker) removeContent(ctx context.Context, p RemoveContentPayload) error {
	hrefs := p.ContentHrefs
	if len(hrefs) == 0 {
		packages, err := w.fleet.FindRepoVersionPackageContent(ctx, p.ServerName, p.RepoName, manager.PackageCriteria{
			Name:    p.PackageName,
			Version: p.PackageVersion,
			Sha256:  p.PackageSha256,
		})
		if err != nil {
			return err
		}
		if len(packages) == 0 {
			return errors.NotFound("package content", p.PackageName)
		}
		for i := range packages {
			hrefs = append(hrefs, packages[i].PulpHref)
		}
	}
	return w.fleet.RemoveRepoContent(ctx, p.ServerName, p.RepoName, hrefs)
}

func (w *Worker) handleSnapshot(ctx context.Context, job *asynq.Task) error {
	var p SnapshotPayload
	if err := json.Unmarshal(job.Payload(), &p); err != nil {
		return errors.InvalidArgument("malformed snapshot payload")
	}
	task, err := w.startTask(ctx, p.TaskID)
	if err != nil || task == nil {
		return err
	}

	created, runErr := w.fleet.SnapshotRepos(ctx, p.ServerName, p.SnapshotName, p.RegexInclude)
	if runErr == nil {
		w.log.Info("snapshot created",
			logfields.Server(p.ServerName), logfields.Count(len(created)))
	}
	return w.finishTask(ctx, task, runErr)
}

func (w *Worker) handleRemoval(ctx context.Context, job *asynq.Task) error {
	var p RemovalPayload
	if err := json.Unmarshal(job.Payload(), &p); err != nil {
		return errors.InvalidArgument("malformed removal payload")
	}
	task, err := w.startTask(ctx, p.TaskID)
	if err != nil || task == nil {
		return err
	}

	removed, runErr := w.fleet.RemoveRepos(ctx, p.ServerName, p.RegexInclude)
	if runErr == nil {
		w.log.Info("repos removed",
			logfields.Server(p.ServerName), logfields.Count(removed))
	}
	return w.finishTask(ctx, task, runErr)
}

// startTask moves the Task to running. Returns (nil, nil) when the Task was
// canceled before the worker picked it up.
func (w *Worker) startTask(ctx context.Context, taskID int64) (*store.Task, error) {
	task, err := w.tasks().Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Terminal() {
		w.log.Info("skipping terminal task", logfields.TaskID(task.ID),
			logfields.TaskState(task.State.String()))
		return nil, nil
	}

	now := time.Now().UTC()
	hostname, _ := os.Hostname()
	task.State = store.TaskStateRunning
	task.DateStarted = &now
	task.WorkerName = &hostname
	if err := w.tasks().Update(ctx, task); err != nil {
		return nil, err
	}
	w.recorder.IncTaskTransition(task.TaskType.String(), task.State.String())
	w.events.TaskStateChanged(task, taskArg(task, "pulp_server"))
	return task, nil
}

// finishTask records the run outcome on the Task. Failures are captured and
// re-raised so the queue marks the worker job failed as well; this double
// record is intentional. A Task canceled mid-run keeps its canceled state.
func (w *Worker) finishTask(ctx context.Context, task *store.Task, runErr error) error {
	current, err := w.tasks().Get(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.State == store.TaskStateCanceled {
		return runErr
	}

	now := time.Now().UTC()
	current.DateFinished = &now
	if runErr != nil {
		detail := runErr.Error()
		current.State = store.TaskStateFailed
		current.Error = &store.TaskError{Msg: "task execution failed", Detail: detail}
	} else {
		current.State = store.TaskStateCompleted
	}
	if err := w.tasks().Update(ctx, current); err != nil {
		return err
	}
	w.recorder.IncTaskTransition(current.TaskType.String(), current.State.String())
	w.events.TaskStateChanged(current, taskArg(current, "pulp_server"))
	if current.DateStarted != nil {
		w.recorder.ObserveTaskDuration(current.TaskType.String(), now.Sub(*current.DateStarted))
	}
	return runErr
}
