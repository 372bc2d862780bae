package jobs

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/store"
)

const (
	tagJobType = "job_type:"
	tagServer  = "pulp_server:"
)

// InstallSchedules aligns the scheduler with the store: for every content
// server it removes that server's installed entries, then recreates one
// entry per repo group with a schedule and one for the server's registration
// schedule. Install is single-writer per server; the schedule loop itself
// runs as a singleton scheduled job.
func (m *JobManager) InstallSchedules(ctx context.Context) error {
	servers, err := store.NewPulpServerStore(m.db).Filter(ctx, nil)
	if err != nil {
		return err
	}
	for _, server := range servers {
		if err := m.installServerSchedules(ctx, server); err != nil {
			return err
		}
	}
	return nil
}

func (m *JobManager) installServerSchedules(ctx context.Context, server *store.PulpServer) error {
	m.removeServerEntries(server.Name)

	groups, err := store.NewPulpServerRepoGroupStore(m.db).ListByServer(ctx, server.ID)
	if err != nil {
		return err
	}
	installed := 0
	for _, group := range groups {
		if group.Schedule == "" {
			continue
		}
		payload := SyncReposPayload{
			ServerName:         server.Name,
			RegexInclude:       strValue(group.RegexInclude),
			RegexExclude:       strValue(group.RegexExclude),
			MaxConcurrentSyncs: group.MaxConcurrentSyncs,
		}
		if group.PulpMasterID != nil {
			upstream, err := store.NewPulpServerStore(m.db).Get(ctx, *group.PulpMasterID)
			if err != nil {
				return err
			}
			payload.UpstreamName = upstream.Name
		}
		_, err := m.scheduler.NewJob(
			gocron.CronJob(group.Schedule, false),
			gocron.NewTask(m.runScheduledSync, payload),
			gocron.WithName(fmt.Sprintf("sync-%s-%s", server.Name, group.Name)),
			gocron.WithTags(
				tagJobType+JobTypeRepoGroupSyncScheduled,
				tagServer+server.Name,
			),
		)
		if err != nil {
			return err
		}
		installed++
	}

	if server.RegistrationSchedule != nil && *server.RegistrationSchedule != "" {
		payload := RegisterReposPayload{
			ServerName:   server.Name,
			RegexInclude: strValue(server.RegistrationRegexInclude),
			RegexExclude: strValue(server.RegistrationRegexExclude),
			ConfigDir:    m.config().Pulp.LocalRepoConfigDir,
		}
		_, err := m.scheduler.NewJob(
			gocron.CronJob(*server.RegistrationSchedule, false),
			gocron.NewTask(m.runScheduledRegistration, payload),
			gocron.WithName(fmt.Sprintf("register-%s", server.Name)),
			gocron.WithTags(
				tagJobType+JobTypeRepoRegistrationScheduled,
				tagServer+server.Name,
			),
		)
		if err != nil {
			return err
		}
		installed++
	}

	m.log.Info("schedules installed",
		logfields.Server(server.Name), logfields.Count(installed))
	return nil
}

// removeServerEntries drops this server's scheduled-sync and scheduled-
// registration entries, and nothing else.
func (m *JobManager) removeServerEntries(serverName string) {
	for _, job := range m.scheduler.Jobs() {
		tags := job.Tags()
		if !hasTag(tags, tagServer+serverName) {
			continue
		}
		if hasTag(tags, tagJobType+JobTypeRepoGroupSyncScheduled) ||
			hasTag(tags, tagJobType+JobTypeRepoRegistrationScheduled) {
			if err := m.scheduler.RemoveJob(job.ID()); err != nil {
				m.log.Warn("failed to remove scheduler entry",
					logfields.Server(serverName), logfields.Error(err))
			}
		}
	}
}

// runScheduledSync is the payload of a scheduled sync entry: it enqueues the
// sync worker job under a fresh Task.
func (m *JobManager) runScheduledSync(payload SyncReposPayload) {
	if _, err := m.QueueSyncReposTask(context.Background(), payload); err != nil {
		m.log.Error("scheduled sync enqueue failed",
			logfields.Server(payload.ServerName), logfields.Error(err))
	}
}

func (m *JobManager) runScheduledRegistration(payload RegisterReposPayload) {
	if _, err := m.QueueRegisterReposTask(context.Background(), payload); err != nil {
		m.log.Error("scheduled registration enqueue failed",
			logfields.Server(payload.ServerName), logfields.Error(err))
	}
}

// StartScheduler begins firing installed entries.
func (m *JobManager) StartScheduler() {
	m.scheduler.Start()
}

// StopScheduler shuts the scheduler down, waiting for running entries.
func (m *JobManager) StopScheduler() error {
	return m.scheduler.Shutdown()
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
