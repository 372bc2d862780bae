package manager

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// SnapshotRepos freezes the current content of every matching repository on
// a server into a new snapshot repository plus distribution named
// "<snapshot_prefix><snapshotName>-<repo>". Returns the names created.
func (m *Manager) SnapshotRepos(ctx context.Context, serverName, snapshotName, regexInclude string) ([]string, error) {
	if snapshotName == "" {
		return nil, errors.InvalidArgument("snapshot name is required")
	}
	include, err := compileOptional(regexInclude)
	if err != nil {
		return nil, err
	}

	server, client, err := m.serverAndClient(ctx, serverName)
	if err != nil {
		return nil, err
	}
	bindings, err := store.NewPulpServerRepoStore(m.db).ListByServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, sr := range bindings {
		if sr.RepoHref == nil || strings.HasPrefix(sr.RepoName, m.cfg.Pulp.SnapshotPrefix) {
			continue
		}
		if include != nil && !include.MatchString(sr.RepoName) {
			continue
		}
		name := m.cfg.Pulp.SnapshotPrefix + snapshotName + "-" + sr.RepoName
		if err := m.snapshotOne(ctx, client, sr, name); err != nil {
			return created, err
		}
		created = append(created, name)
	}
	return created, nil
}

// snapshotOne copies the latest version of a repository into a fresh
// snapshot repository and exposes it under the snapshot name.
func (m *Manager) snapshotOne(ctx context.Context, client *pulp.Client, sr *store.PulpServerRepo, name string) error {
	kind, err := pulp.KindFromHref(*sr.RepoHref)
	if err != nil {
		return err
	}
	source, err := client.GetRepository(ctx, *sr.RepoHref)
	if err != nil {
		return err
	}
	if source.LatestVersionHref == "" {
		m.log.Info("skipping snapshot of empty repository", logfields.Repository(sr.RepoName))
		return nil
	}

	m.log.Info("snapshotting repository",
		logfields.Repository(sr.RepoName), slog.String("snapshot", name))

	existing, err := client.ListRepositories(ctx, kind, map[string]string{"name": name})
	if err != nil {
		return err
	}
	var snapshot *pulp.Repository
	if len(existing) > 0 {
		snapshot = &existing[0]
	} else {
		snapshot, err = client.CreateRepository(ctx, kind, &pulp.Repository{Name: name})
		if err != nil {
			return err
		}
	}

	packages, err := client.ListPackages(ctx, kind, map[string]string{"repository_version": source.LatestVersionHref})
	if err != nil {
		return err
	}
	hrefs := make([]string, len(packages))
	for i := range packages {
		hrefs[i] = packages[i].PulpHref
	}
	taskHref, err := client.ModifyRepository(ctx, snapshot.PulpHref, hrefs, nil)
	if err != nil {
		return err
	}
	if _, err := client.Monitor(ctx, taskHref); err != nil {
		return err
	}

	dists, err := client.ListDistributions(ctx, kind, map[string]string{"name": name})
	if err != nil {
		return err
	}
	if len(dists) > 0 {
		return nil
	}
	distTask, err := client.CreateDistribution(ctx, kind, &pulp.Distribution{
		Name:       name,
		BasePath:   name,
		Repository: &snapshot.PulpHref,
	})
	if err != nil {
		return err
	}
	_, err = client.Monitor(ctx, distTask)
	return err
}

// RemoveRepos deletes every matching repository from a server (distribution,
// repository, remote) and drops the local bindings. The fleet-wide Repo rows
// are kept; other servers may still carry the name.
func (m *Manager) RemoveRepos(ctx context.Context, serverName, regexInclude string) (int, error) {
	if regexInclude == "" {
		return 0, errors.InvalidArgument("repo removal requires an include regex")
	}
	include, err := compileOptional(regexInclude)
	if err != nil {
		return 0, err
	}

	server, client, err := m.serverAndClient(ctx, serverName)
	if err != nil {
		return 0, err
	}
	serverRepos := store.NewPulpServerRepoStore(m.db)
	bindings, err := serverRepos.ListByServer(ctx, server.ID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sr := range bindings {
		if !include.MatchString(sr.RepoName) {
			continue
		}
		m.log.Info("removing repository",
			logfields.Server(serverName), logfields.Repository(sr.RepoName))
		for _, href := range []*string{sr.DistributionHref, sr.RepoHref, sr.RemoteHref} {
			if href == nil {
				continue
			}
			taskHref, err := m.deleteResource(ctx, client, *href)
			if err != nil {
				if errors.IsCategory(err, errors.CategoryNotFound) {
					continue
				}
				return removed, err
			}
			if _, err := client.Monitor(ctx, taskHref); err != nil {
				return removed, err
			}
		}
		if err := serverRepos.Delete(ctx, sr.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) deleteResource(ctx context.Context, client *pulp.Client, href string) (string, error) {
	switch {
	case strings.Contains(href, "/distributions/"):
		return client.DeleteDistribution(ctx, href)
	case strings.Contains(href, "/repositories/"):
		return client.DeleteRepository(ctx, href)
	case strings.Contains(href, "/remotes/"):
		return client.DeleteRemote(ctx, href)
	}
	return "", errors.InvalidArgument("href is not a deletable resource").WithContext("href", href)
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.InvalidArgument("invalid regex").WithContext("pattern", pattern)
	}
	return re, nil
}
