// Package reconciler makes the local ServerRepo rows exactly reflect what a
// content server reports: repositories discovered remotely are added, stale
// bindings deleted, and drifted hrefs rewritten, all in one transaction.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// ClientProvider builds a content-server client for a registered server.
type ClientProvider interface {
	ForServer(ctx context.Context, server *store.PulpServer) (*pulp.Client, error)
}

// RepoInstance is the remote-side view of one repository: the linkage tuple
// the reconciler diffs against the stored ServerRepo.
type RepoInstance struct {
	Name             string
	Kind             pulp.Kind
	RepoHref         string
	RemoteHref       *string
	RemoteFeed       *string
	DistributionHref *string
}

// Result counts the changes one reconcile run applied.
type Result struct {
	Added   int
	Updated int
	Deleted int
}

// Reconciler drives the diff for one server at a time.
type Reconciler struct {
	db      *store.DB
	clients ClientProvider
	log     *slog.Logger
}

// New builds a Reconciler.
func New(db *store.DB, clients ClientProvider, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, clients: clients, log: log}
}

// Reconcile fetches the server's repositories, remotes and distributions for
// every content kind and applies the add/update/delete set in one
// transaction. On failure everything rolls back and the error is returned.
func (r *Reconciler) Reconcile(ctx context.Context, serverName string) (*Result, error) {
	server, err := store.NewPulpServerStore(r.db).GetByName(ctx, serverName)
	if err != nil {
		return nil, err
	}
	client, err := r.clients.ForServer(ctx, server)
	if err != nil {
		return nil, err
	}

	instances, err := r.fetchInstances(ctx, client)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, errors.StorageError("begin reconcile transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	result, err := r.apply(ctx, tx, server, instances)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.StorageError("commit reconcile transaction", err)
	}
	committed = true

	r.log.Info("reconciled server",
		logfields.Server(serverName),
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted))
	return result, nil
}

// fetchInstances reads the remote state for every content kind and resolves
// each repository's remote and distribution linkage. The remote is resolved
// by the repository's remote href when set, otherwise by name match; the
// distribution by repository href, otherwise by name.
func (r *Reconciler) fetchInstances(ctx context.Context, client *pulp.Client) ([]RepoInstance, error) {
	var instances []RepoInstance
	for _, kind := range pulp.Kinds() {
		repos, err := client.ListRepositories(ctx, kind, nil)
		if err != nil {
			return nil, err
		}
		if len(repos) == 0 {
			continue
		}
		remotes, err := client.ListRemotes(ctx, kind, nil)
		if err != nil {
			return nil, err
		}
		dists, err := client.ListDistributions(ctx, kind, nil)
		if err != nil {
			return nil, err
		}

		remoteByHref := make(map[string]*pulp.Remote, len(remotes))
		remoteByName := make(map[string]*pulp.Remote, len(remotes))
		for i := range remotes {
			remoteByHref[remotes[i].PulpHref] = &remotes[i]
			remoteByName[remotes[i].Name] = &remotes[i]
		}
		distByRepo := make(map[string]*pulp.Distribution, len(dists))
		distByName := make(map[string]*pulp.Distribution, len(dists))
		for i := range dists {
			if dists[i].Repository != nil {
				distByRepo[*dists[i].Repository] = &dists[i]
			}
			distByName[dists[i].Name] = &dists[i]
		}

		for _, repo := range repos {
			instance := RepoInstance{Name: repo.Name, Kind: kind, RepoHref: repo.PulpHref}

			var remote *pulp.Remote
			if repo.Remote != nil && *repo.Remote != "" {
				remote = remoteByHref[*repo.Remote]
			}
			if remote == nil {
				remote = remoteByName[repo.Name]
			}
			if remote != nil {
				href, feed := remote.PulpHref, remote.URL
				instance.RemoteHref = &href
				instance.RemoteFeed = &feed
			}

			dist := distByRepo[repo.PulpHref]
			if dist == nil {
				dist = distByName[repo.Name]
			}
			if dist != nil {
				href := dist.PulpHref
				instance.DistributionHref = &href
			}

			instances = append(instances, instance)
		}
	}
	return instances, nil
}

// apply writes the diff inside the caller's transaction.
func (r *Reconciler) apply(ctx context.Context, tx store.Querier, server *store.PulpServer, instances []RepoInstance) (*Result, error) {
	repos := store.NewRepoStore(tx)
	serverRepos := store.NewPulpServerRepoStore(tx)

	known, err := repos.Filter(ctx, nil)
	if err != nil {
		return nil, err
	}
	repoIDByName := make(map[string]int64, len(known))
	for _, repo := range known {
		repoIDByName[repo.Name] = repo.ID
	}

	// Repo rows are fleet-wide: create any names this server introduced.
	for _, instance := range instances {
		if _, ok := repoIDByName[instance.Name]; ok {
			continue
		}
		repo := &store.Repo{Name: instance.Name, RepoType: string(instance.Kind)}
		if err := repos.Add(ctx, repo); err != nil {
			return nil, err
		}
		repoIDByName[instance.Name] = repo.ID
	}

	current, err := serverRepos.ListByServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	currentByRepoID := make(map[int64]*store.PulpServerRepo, len(current))
	for _, sr := range current {
		currentByRepoID[sr.RepoID] = sr
	}

	result := &Result{}
	seen := make(map[int64]struct{}, len(instances))
	for _, instance := range instances {
		repoID := repoIDByName[instance.Name]
		seen[repoID] = struct{}{}

		existing, ok := currentByRepoID[repoID]
		if !ok {
			err := serverRepos.Add(ctx, &store.PulpServerRepo{
				PulpServerID:     server.ID,
				RepoID:           repoID,
				RepoHref:         strPtr(instance.RepoHref),
				RemoteHref:       instance.RemoteHref,
				RemoteFeed:       instance.RemoteFeed,
				DistributionHref: instance.DistributionHref,
			})
			if err != nil {
				return nil, err
			}
			result.Added++
			continue
		}

		fields := diffFields(existing, instance)
		if len(fields) == 0 {
			continue
		}
		if err := serverRepos.UpdateFields(ctx, existing.ID, fields); err != nil {
			return nil, err
		}
		result.Updated++
	}

	for _, sr := range current {
		if _, ok := seen[sr.RepoID]; ok {
			continue
		}
		if err := serverRepos.Delete(ctx, sr.ID); err != nil {
			return nil, err
		}
		result.Deleted++
	}
	return result, nil
}

// diffFields returns only the columns whose stored value differs from the
// fetched instance. Fields the instance does not carry are left alone.
func diffFields(existing *store.PulpServerRepo, instance RepoInstance) map[string]any {
	fields := map[string]any{}
	if !ptrEqual(existing.RepoHref, strPtr(instance.RepoHref)) {
		fields["repo_href"] = instance.RepoHref
	}
	if !ptrEqual(existing.RemoteHref, instance.RemoteHref) {
		fields["remote_href"] = ptrValue(instance.RemoteHref)
	}
	if !ptrEqual(existing.RemoteFeed, instance.RemoteFeed) {
		fields["remote_feed"] = ptrValue(instance.RemoteFeed)
	}
	if !ptrEqual(existing.DistributionHref, instance.DistributionHref) {
		fields["distribution_href"] = ptrValue(instance.DistributionHref)
	}
	return fields
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
