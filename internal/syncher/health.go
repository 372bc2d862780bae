package syncher

import (
	"context"
	"time"

	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/store"
)

// healthWindow is how many recent bound Tasks the health policy looks at.
const healthWindow = 5

// ComputeHealth derives a repo's sync health from its recent bound Tasks,
// newest first:
//   - newest finished Task completed: green
//   - newest finished Task failed, fewer than four failures in the window: amber
//   - four or more failures in the window: red
//
// Canceled and unfinished Tasks carry no signal; an empty window is green.
func ComputeHealth(recent []*store.Task) store.HealthStatus {
	failed := 0
	var newest *store.Task
	for _, task := range recent {
		switch task.State {
		case store.TaskStateFailed:
			failed++
			if newest == nil {
				newest = task
			}
		case store.TaskStateCompleted:
			if newest == nil {
				newest = task
			}
		}
	}
	switch {
	case failed >= 4:
		return store.HealthRed
	case newest != nil && newest.State == store.TaskStateFailed:
		return store.HealthAmber
	default:
		return store.HealthGreen
	}
}

// updateHealth writes per-repo health for each synced binding, then the
// server rollup as the worst per-repo status across all of the server's
// bindings.
func (s *Syncher) updateHealth(ctx context.Context, server *store.PulpServer, synced []*store.PulpServerRepo) error {
	now := time.Now().UTC()
	bindings := store.NewPulpServerRepoStore(s.db)
	bound := store.NewPulpServerRepoTaskStore(s.db, s.cfg.Paging)

	for _, sr := range synced {
		recent, err := bound.RecentTasksForRepo(ctx, sr.ID, healthWindow)
		if err != nil {
			return err
		}
		health := ComputeHealth(recent)
		if err := bindings.UpdateHealth(ctx, sr.ID, health, now); err != nil {
			return err
		}
		s.log.Debug("repo sync health",
			logfields.Repository(sr.RepoName), logfields.Health(health.String()))
	}

	all, err := bindings.ListByServer(ctx, server.ID)
	if err != nil {
		return err
	}
	rollup := store.HealthGreen
	for _, sr := range all {
		if sr.RepoSyncHealth != nil && sr.RepoSyncHealth.Worse(rollup) {
			rollup = *sr.RepoSyncHealth
		}
	}
	if err := store.NewPulpServerStore(s.db).UpdateHealthRollup(ctx, server.ID, rollup, now); err != nil {
		return err
	}

	s.recorder.SetServerHealth(server.Name, rollup.String())
	s.log.Info("server sync health rollup",
		logfields.Server(server.Name), logfields.Health(rollup.String()))
	return nil
}
