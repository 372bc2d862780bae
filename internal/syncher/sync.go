package syncher

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

const defaultMaxConcurrentSyncs = 5

// SyncParams drives one SyncRepos run.
type SyncParams struct {
	ServerName string
	// UpstreamName, when set, mirrors repo definitions down from that server
	// before syncing.
	UpstreamName string
	RegexInclude string
	RegexExclude string
	// MaxConcurrentSyncs caps the fan-out; zero means the default.
	MaxConcurrentSyncs int
	// ParentTaskID is the containing Task. The run stops advancing when it
	// is canceled.
	ParentTaskID int64
}

// SyncResult summarizes one run.
type SyncResult struct {
	Selected  int
	Completed int
	Failed    int
	Canceled  int
}

// SyncRepos syncs every syncable repo bound to a server: mirror definitions
// from the upstream when one is named, reconcile, fan out one child Task per
// repo with a non-null remote feed matching the include/exclude filters
// (exclude wins), then derive per-repo health and the server rollup.
func (s *Syncher) SyncRepos(ctx context.Context, params SyncParams) (*SyncResult, error) {
	servers := store.NewPulpServerStore(s.db)
	server, err := servers.GetByName(ctx, params.ServerName)
	if err != nil {
		return nil, err
	}

	if params.UpstreamName != "" {
		if s.upstream == nil {
			return nil, errors.InvalidState("no upstream registrar configured")
		}
		err = s.upstream.AddReposFromUpstream(ctx, params.ServerName, params.UpstreamName, params.RegexInclude, params.RegexExclude)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.recon.Reconcile(ctx, params.ServerName); err != nil {
		return nil, err
	}

	client, err := s.clients.ForServer(ctx, server)
	if err != nil {
		return nil, err
	}

	selected, err := s.selectRepos(ctx, server, params.RegexInclude, params.RegexExclude)
	if err != nil {
		return nil, err
	}
	s.log.Info("selected repos for sync",
		logfields.Server(server.Name), logfields.Count(len(selected)))

	queue, err := s.createChildTasks(ctx, server, params.ParentTaskID, selected)
	if err != nil {
		return nil, err
	}

	result, err := s.runFanOut(ctx, client, server, params, queue)
	if err != nil {
		return nil, err
	}

	if err := s.updateHealth(ctx, server, selected); err != nil {
		return nil, err
	}
	return result, nil
}

// selectRepos returns the server's bindings that have a remote feed and pass
// the include/exclude filters. Exclude wins.
func (s *Syncher) selectRepos(ctx context.Context, server *store.PulpServer, regexInclude, regexExclude string) ([]*store.PulpServerRepo, error) {
	include, err := compileOptional(regexInclude)
	if err != nil {
		return nil, err
	}
	exclude, err := compileOptional(regexExclude)
	if err != nil {
		return nil, err
	}

	bindings, err := store.NewPulpServerRepoStore(s.db).ListByServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	var selected []*store.PulpServerRepo
	for _, sr := range bindings {
		if sr.RemoteFeed == nil || *sr.RemoteFeed == "" {
			continue
		}
		if exclude != nil && exclude.MatchString(sr.RepoName) {
			continue
		}
		if include != nil && !include.MatchString(sr.RepoName) {
			continue
		}
		selected = append(selected, sr)
	}
	return selected, nil
}

// createChildTasks bulk-inserts one queued child Task per selected repo and
// binds a PulpServerRepoTask row to each.
func (s *Syncher) createChildTasks(ctx context.Context, server *store.PulpServer, parentTaskID int64, selected []*store.PulpServerRepo) ([]*repoSync, error) {
	var parent *int64
	if parentTaskID > 0 {
		parent = &parentTaskID
	}

	tasks := make([]*store.Task, len(selected))
	for i, sr := range selected {
		tasks[i] = &store.Task{
			Name:         fmt.Sprintf("sync %s on %s", sr.RepoName, server.Name),
			TaskType:     store.TaskTypeRepoSync,
			State:        store.TaskStateQueued,
			ParentTaskID: parent,
			TaskArgs: map[string]any{
				"pulp_server": server.Name,
				"repository":  sr.RepoName,
			},
		}
	}
	if err := s.tasks().BulkAdd(ctx, tasks); err != nil {
		return nil, err
	}

	bindings := make([]*store.PulpServerRepoTask, len(selected))
	for i, sr := range selected {
		bindings[i] = &store.PulpServerRepoTask{
			PulpServerRepoID: sr.ID,
			TaskID:           tasks[i].ID,
		}
	}
	bound := store.NewPulpServerRepoTaskStore(s.db, s.cfg.Paging)
	if err := bound.BulkAdd(ctx, bindings); err != nil {
		return nil, err
	}

	queue := make([]*repoSync, len(selected))
	for i := range selected {
		queue[i] = &repoSync{task: tasks[i], sr: selected[i]}
	}
	return queue, nil
}

// runFanOut drives the per-repo state machines, keeping at most
// MaxConcurrentSyncs repos in flight. When the parent Task is canceled the
// loop stops advancing: in-flight server tasks are left to run, queued
// children are marked canceled.
func (s *Syncher) runFanOut(ctx context.Context, client *pulp.Client, server *store.PulpServer, params SyncParams, queue []*repoSync) (*SyncResult, error) {
	maxInFlight := params.MaxConcurrentSyncs
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxConcurrentSyncs
	}
	poll := s.cfg.Sync.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	result := &SyncResult{Selected: len(queue)}
	inFlight := make(map[int64]*repoSync)

	progress, err := s.addParentStage(ctx, params.ParentTaskID, len(queue))
	if err != nil {
		return nil, err
	}

	for {
		canceled, err := s.parentCanceled(ctx, params.ParentTaskID)
		if err != nil {
			return nil, err
		}
		if canceled {
			s.log.Warn("parent task canceled, stopping sync fan-out",
				logfields.Server(server.Name), logfields.TaskID(params.ParentTaskID))
			if err := s.cancelQueued(ctx, queue, result); err != nil {
				return nil, err
			}
			break
		}

		for len(inFlight) < maxInFlight && len(queue) > 0 {
			rs := queue[0]
			queue = queue[1:]
			started, err := s.startSync(ctx, client, rs)
			if err != nil {
				return nil, err
			}
			if started {
				inFlight[rs.task.ID] = rs
			} else {
				result.Failed++
			}
		}
		s.recorder.SetSyncsInFlight(server.Name, len(inFlight))

		if len(inFlight) == 0 && len(queue) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CategoryInternal, errors.SeverityError, "sync run interrupted")
		case <-time.After(poll):
		}

		for id, rs := range inFlight {
			done, err := s.progressSync(ctx, client, rs)
			if err != nil {
				return nil, err
			}
			if !done {
				continue
			}
			delete(inFlight, id)
			switch rs.task.State {
			case store.TaskStateCompleted:
				result.Completed++
			default:
				result.Failed++
			}
		}

		if err := s.updateParentStage(ctx, progress, result, len(inFlight)); err != nil {
			return nil, err
		}
	}

	s.recorder.SetSyncsInFlight(server.Name, 0)
	if err := s.updateParentStage(ctx, progress, result, 0); err != nil {
		return nil, err
	}
	return result, nil
}

// addParentStage records a progress stage on the parent Task, when there is
// one.
func (s *Syncher) addParentStage(ctx context.Context, parentTaskID int64, total int) (*store.TaskStage, error) {
	if parentTaskID <= 0 {
		return nil, nil
	}
	stage := &store.TaskStage{
		TaskID: parentTaskID,
		Name:   "sync repos",
		Detail: map[string]any{"total": total, "completed": 0, "failed": 0, "in_flight": 0},
	}
	if err := s.tasks().AddStage(ctx, stage); err != nil {
		return nil, err
	}
	return stage, nil
}

func (s *Syncher) updateParentStage(ctx context.Context, stage *store.TaskStage, result *SyncResult, inFlight int) error {
	if stage == nil {
		return nil
	}
	stage.Detail["completed"] = result.Completed
	stage.Detail["failed"] = result.Failed
	stage.Detail["in_flight"] = inFlight
	return s.tasks().UpdateStage(ctx, stage)
}

// parentCanceled reloads the parent Task and reports whether it was canceled.
func (s *Syncher) parentCanceled(ctx context.Context, parentTaskID int64) (bool, error) {
	if parentTaskID <= 0 {
		return false, nil
	}
	parent, err := s.tasks().Get(ctx, parentTaskID)
	if err != nil {
		return false, err
	}
	return parent.State == store.TaskStateCanceled, nil
}

// cancelQueued marks not-yet-started children canceled.
func (s *Syncher) cancelQueued(ctx context.Context, queue []*repoSync, result *SyncResult) error {
	now := time.Now().UTC()
	for _, rs := range queue {
		rs.task.State = store.TaskStateCanceled
		rs.task.DateFinished = &now
		if err := s.tasks().Update(ctx, rs.task); err != nil {
			return err
		}
		s.events.TaskStateChanged(rs.task, serverName(rs))
		result.Canceled++
	}
	return nil
}

func compileOptional(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.InvalidArgument("invalid filter regex").WithContext("regex", expr)
	}
	return re, nil
}
