package syncher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// Stage names of the per-repo state machine. Each stage holds the href of
// the outstanding server task in its detail.
const (
	stageSyncRepo      = "sync repo"
	stageRemoveBanned  = "remove banned packages"
	stagePublishRepo   = "publish repo"
	stageDetailTaskKey = "task_href"
)

// repoSync is one child Task advancing through the state machine.
type repoSync struct {
	task *store.Task
	sr   *store.PulpServerRepo
}

// startSync kicks off the server-side sync for one repo and records stage
// "sync repo". Returns false when the repo could not enter the machine (its
// Task is then already terminal).
func (s *Syncher) startSync(ctx context.Context, client *pulp.Client, rs *repoSync) (bool, error) {
	now := time.Now().UTC()
	rs.task.State = store.TaskStateRunning
	rs.task.DateStarted = &now
	if err := s.tasks().Update(ctx, rs.task); err != nil {
		return false, err
	}
	s.recorder.IncTaskTransition(rs.task.TaskType.String(), rs.task.State.String())
	s.events.TaskStateChanged(rs.task, serverName(rs))

	if rs.sr.RepoHref == nil || rs.sr.RemoteHref == nil {
		return false, s.markFailed(ctx, rs, "server repo has no repository or remote href", nil)
	}

	taskHref, err := client.SyncRepository(ctx, *rs.sr.RepoHref, *rs.sr.RemoteHref, false)
	if err != nil {
		return false, s.markFailed(ctx, rs, "start sync", err)
	}

	s.log.Info("sync started",
		logfields.TaskID(rs.task.ID), logfields.Repository(rs.sr.RepoName), logfields.Href(taskHref))
	err = s.tasks().AddStage(ctx, &store.TaskStage{
		TaskID: rs.task.ID,
		Name:   stageSyncRepo,
		Detail: map[string]any{stageDetailTaskKey: taskHref},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// progressSync performs one poll of the repo's outstanding server task and
// advances the state machine. Returns true when the repo is done (its Task
// terminal).
func (s *Syncher) progressSync(ctx context.Context, client *pulp.Client, rs *repoSync) (bool, error) {
	stage, err := s.tasks().CurrentStage(ctx, rs.task.ID)
	if err != nil {
		return true, err
	}
	href, _ := stage.Detail[stageDetailTaskKey].(string)
	if href == "" {
		return true, s.markFailed(ctx, rs, "stage carries no server task href", nil)
	}

	serverTask, err := client.GetServerTask(ctx, href)
	if err != nil {
		return true, s.failStage(ctx, rs, stage, "poll server task", err)
	}

	switch serverTask.State {
	case pulp.TaskStateFailed, pulp.TaskStateCanceled:
		s.recorder.IncSyncStageResult(stage.Name, metrics.ResultFailed)
		return true, s.failStage(ctx, rs, stage,
			fmt.Sprintf("server task %s", serverTask.State),
			errors.UpstreamFailure(serverTask.ErrorDescription(), nil))
	case pulp.TaskStateCompleted:
		s.recorder.IncSyncStageResult(stage.Name, metrics.ResultSuccess)
		return s.advance(ctx, client, rs, stage, serverTask)
	default:
		// waiting | running
		return false, nil
	}
}

// advance dispatches on the completed stage's name.
func (s *Syncher) advance(ctx context.Context, client *pulp.Client, rs *repoSync, stage *store.TaskStage, serverTask *pulp.ServerTask) (bool, error) {
	switch stage.Name {
	case stageSyncRepo:
		if len(serverTask.CreatedResources) == 0 {
			// Nothing changed upstream: skip publication unconditionally.
			s.recorder.IncSyncStageResult(stagePublishRepo, metrics.ResultSkipped)
			return true, s.markCompleted(ctx, rs)
		}
		started, err := s.maybeStartBannedRemoval(ctx, client, rs)
		if err != nil {
			return true, s.markFailed(ctx, rs, "start banned package removal", err)
		}
		if started {
			return false, nil
		}
		return s.startPublicationOrSkip(ctx, client, rs)

	case stageRemoveBanned:
		return s.startPublicationOrSkip(ctx, client, rs)

	case stagePublishRepo:
		return true, s.markCompleted(ctx, rs)
	}
	return true, s.markFailed(ctx, rs, "unknown stage "+stage.Name, nil)
}

// maybeStartBannedRemoval inspects the latest repository version for banned
// packages and, when any match, issues the modify-repository call and
// records stage "remove banned packages". The stage is gated off entirely
// when the upstream feed is an internal domain (internal mirrors are
// trusted) or no banned regex is configured.
func (s *Syncher) maybeStartBannedRemoval(ctx context.Context, client *pulp.Client, rs *repoSync) (bool, error) {
	if s.cfg.Pulp.BannedPackageRegex == "" {
		return false, nil
	}
	if rs.sr.RemoteFeed != nil && s.cfg.Pulp.IsInternalURL(*rs.sr.RemoteFeed) {
		return false, nil
	}
	banned, err := regexp.Compile(s.cfg.Pulp.BannedPackageRegex)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid banned_package_regex")
	}

	kind, err := pulp.KindFromHref(*rs.sr.RepoHref)
	if err != nil {
		return false, err
	}
	repo, err := client.GetRepository(ctx, *rs.sr.RepoHref)
	if err != nil {
		return false, err
	}
	packages, err := client.ListPackages(ctx, kind, map[string]string{
		"repository_version": repo.LatestVersionHref,
	})
	if err != nil {
		return false, err
	}

	var hrefs []string
	for i := range packages {
		if banned.MatchString(packages[i].DisplayName()) {
			hrefs = append(hrefs, packages[i].PulpHref)
		}
	}
	if len(hrefs) == 0 {
		return false, nil
	}

	s.log.Info("removing banned packages",
		logfields.TaskID(rs.task.ID), logfields.Repository(rs.sr.RepoName), logfields.Count(len(hrefs)))
	taskHref, err := client.ModifyRepository(ctx, *rs.sr.RepoHref, nil, hrefs)
	if err != nil {
		return false, err
	}
	err = s.tasks().AddStage(ctx, &store.TaskStage{
		TaskID: rs.task.ID,
		Name:   stageRemoveBanned,
		Detail: map[string]any{stageDetailTaskKey: taskHref},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// startPublicationOrSkip publishes the latest repository version unless a
// publication for it already exists, in which case the Task completes
// immediately.
func (s *Syncher) startPublicationOrSkip(ctx context.Context, client *pulp.Client, rs *repoSync) (bool, error) {
	kind, err := pulp.KindFromHref(*rs.sr.RepoHref)
	if err != nil {
		return true, s.markFailed(ctx, rs, "derive content kind", err)
	}
	if kind == pulp.KindContainer {
		// Container distributions serve repositories directly.
		return true, s.markCompleted(ctx, rs)
	}
	repo, err := client.GetRepository(ctx, *rs.sr.RepoHref)
	if err != nil {
		return true, s.markFailed(ctx, rs, "fetch repository", err)
	}

	existing, err := client.ListPublications(ctx, kind, map[string]string{
		"repository_version": repo.LatestVersionHref,
	})
	if err != nil {
		return true, s.markFailed(ctx, rs, "list publications", err)
	}
	if len(existing) > 0 {
		s.recorder.IncSyncStageResult(stagePublishRepo, metrics.ResultSkipped)
		s.log.Info("publication already exists, skipping publish",
			logfields.TaskID(rs.task.ID), logfields.Repository(rs.sr.RepoName))
		return true, s.markCompleted(ctx, rs)
	}

	pub, err := s.buildPublication(ctx, client, rs, kind, repo.LatestVersionHref)
	if err != nil {
		return true, s.markFailed(ctx, rs, "build publication", err)
	}
	taskHref, err := client.CreatePublication(ctx, kind, pub)
	if err != nil {
		return true, s.markFailed(ctx, rs, "create publication", err)
	}
	err = s.tasks().AddStage(ctx, &store.TaskStage{
		TaskID: rs.task.ID,
		Name:   stagePublishRepo,
		Detail: map[string]any{stageDetailTaskKey: taskHref},
	})
	if err != nil {
		return true, err
	}
	return false, nil
}

// buildPublication renders the kind-specific publication body. Deb feeds
// whose distributions end with "/" are flat and publish simple instead of
// structured.
func (s *Syncher) buildPublication(ctx context.Context, client *pulp.Client, rs *repoSync, kind pulp.Kind, versionHref string) (*pulp.Publication, error) {
	pub := &pulp.Publication{RepositoryVersion: &versionHref}
	switch kind {
	case pulp.KindRPM:
		pub.MetadataChecksumType = "sha256"
		pub.PackageChecksumType = "sha256"
	case pulp.KindDeb:
		structured := true
		simple := false
		if rs.sr.RemoteHref != nil {
			remote, err := client.GetRemote(ctx, *rs.sr.RemoteHref)
			if err != nil {
				return nil, err
			}
			if remote.Distributions != nil && strings.HasSuffix(strings.TrimSpace(*remote.Distributions), "/") {
				structured = false
				simple = true
			}
		}
		pub.Structured = &structured
		if simple {
			pub.Simple = &simple
		}
	}
	return pub, nil
}

// failStage captures the error on the stage, then fails the Task.
func (s *Syncher) failStage(ctx context.Context, rs *repoSync, stage *store.TaskStage, msg string, cause error) error {
	stage.Error = &store.TaskError{Msg: msg, Detail: detailOf(cause)}
	if err := s.tasks().UpdateStage(ctx, stage); err != nil {
		return err
	}
	return s.markFailed(ctx, rs, msg, cause)
}

func (s *Syncher) markFailed(ctx context.Context, rs *repoSync, msg string, cause error) error {
	now := time.Now().UTC()
	rs.task.State = store.TaskStateFailed
	rs.task.DateFinished = &now
	rs.task.Error = &store.TaskError{Msg: msg, Detail: detailOf(cause)}
	if err := s.tasks().Update(ctx, rs.task); err != nil {
		return err
	}
	s.recorder.IncTaskTransition(rs.task.TaskType.String(), rs.task.State.String())
	s.events.TaskStateChanged(rs.task, serverName(rs))
	s.log.Warn("repo sync failed",
		logfields.TaskID(rs.task.ID), logfields.Repository(rs.sr.RepoName),
		slog.String("reason", msg), logfields.Error(cause))
	return nil
}

func (s *Syncher) markCompleted(ctx context.Context, rs *repoSync) error {
	now := time.Now().UTC()
	rs.task.State = store.TaskStateCompleted
	rs.task.DateFinished = &now
	if err := s.tasks().Update(ctx, rs.task); err != nil {
		return err
	}
	s.recorder.IncTaskTransition(rs.task.TaskType.String(), rs.task.State.String())
	s.events.TaskStateChanged(rs.task, serverName(rs))
	if rs.task.DateStarted != nil {
		s.recorder.ObserveTaskDuration(rs.task.TaskType.String(), now.Sub(*rs.task.DateStarted))
	}
	s.log.Info("repo sync completed",
		logfields.TaskID(rs.task.ID), logfields.Repository(rs.sr.RepoName))
	return nil
}

func detailOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func serverName(rs *repoSync) string {
	if name, ok := rs.task.TaskArgs["pulp_server"].(string); ok {
		return name
	}
	return ""
}
