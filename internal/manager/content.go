package manager

import (
	"context"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// PackageCriteria narrows a package-content lookup. At least one field must
// be set.
type PackageCriteria struct {
	Name    string
	Version string
	Sha256  string
}

func (c PackageCriteria) empty() bool {
	return c.Name == "" && c.Version == "" && c.Sha256 == ""
}

// FindRepoVersionPackageContent looks up package content units inside a
// repository's latest version.
func (m *Manager) FindRepoVersionPackageContent(ctx context.Context, serverName, repoName string, criteria PackageCriteria) ([]pulp.Package, error) {
	if criteria.empty() {
		return nil, errors.InvalidArgument("package lookup requires a name, version or sha256")
	}

	_, client, err := m.serverAndClient(ctx, serverName)
	if err != nil {
		return nil, err
	}
	binding, err := m.bindingByName(ctx, serverName, repoName)
	if err != nil {
		return nil, err
	}
	if binding.RepoHref == nil {
		return nil, errors.InvalidState("server repo has no repository href").
			WithContext("repository", repoName)
	}
	kind, err := pulp.KindFromHref(*binding.RepoHref)
	if err != nil {
		return nil, err
	}
	repo, err := client.GetRepository(ctx, *binding.RepoHref)
	if err != nil {
		return nil, err
	}

	params := map[string]string{"repository_version": repo.LatestVersionHref}
	if criteria.Name != "" {
		params["name"] = criteria.Name
	}
	if criteria.Version != "" {
		params["version"] = criteria.Version
	}
	if criteria.Sha256 != "" {
		params["sha256"] = criteria.Sha256
	}
	return client.ListPackages(ctx, kind, params)
}

// RemoveRepoContent removes the given content unit hrefs from a repository,
// producing a new version, and waits for the server to finish.
func (m *Manager) RemoveRepoContent(ctx context.Context, serverName, repoName string, contentHrefs []string) error {
	if len(contentHrefs) == 0 {
		return errors.InvalidArgument("no content hrefs to remove")
	}

	_, client, err := m.serverAndClient(ctx, serverName)
	if err != nil {
		return err
	}
	binding, err := m.bindingByName(ctx, serverName, repoName)
	if err != nil {
		return err
	}
	if binding.RepoHref == nil {
		return errors.InvalidState("server repo has no repository href").
			WithContext("repository", repoName)
	}

	m.log.Info("removing repo content",
		logfields.Server(serverName), logfields.Repository(repoName),
		logfields.Count(len(contentHrefs)))
	taskHref, err := client.ModifyRepository(ctx, *binding.RepoHref, nil, contentHrefs)
	if err != nil {
		return err
	}
	_, err = client.Monitor(ctx, taskHref)
	return err
}

// bindingByName resolves a ServerRepo binding by server and repo name.
func (m *Manager) bindingByName(ctx context.Context, serverName, repoName string) (*store.PulpServerRepo, error) {
	server, err := store.NewPulpServerStore(m.db).GetByName(ctx, serverName)
	if err != nil {
		return nil, err
	}
	bindings, err := store.NewPulpServerRepoStore(m.db).FilterJoined(ctx, map[string]string{"name": repoName})
	if err != nil {
		return nil, err
	}
	for _, sr := range bindings {
		if sr.PulpServerID == server.ID {
			return sr, nil
		}
	}
	return nil, errors.NotFound("server repo", repoName)
}
