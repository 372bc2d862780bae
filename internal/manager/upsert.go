package manager

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// UpsertParams are the inputs of CreateOrUpdateRepository. Description must
// carry a "base_url:<prefix>" token; the base path is derived from it and
// the (possibly transformed) name.
type UpsertParams struct {
	Name        string
	Description string
	Kind        pulp.Kind

	// URL is the optional upstream feed; empty means no remote is managed.
	URL      string
	Username *string
	Password *string
	Proxy    *string

	TLSValidation *bool

	// Deb-only upstream layout.
	Distributions               *string
	Components                  *string
	Architectures               *string
	IgnoreMissingPackageIndices *bool
}

var baseURLToken = regexp.MustCompile(`base_url:([^\s,]+)`)

// BasePath derives the distribution base path from the upsert inputs: the
// base_url token from the description joined with the transformed name.
func (m *Manager) BasePath(p UpsertParams) (string, error) {
	match := baseURLToken.FindStringSubmatch(p.Description)
	if match == nil {
		return "", errors.InvalidArgument("description does not carry a base_url token").
			WithContext("name", p.Name)
	}
	name, err := m.transformName(p.Name)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(match[1], "/") + "/" + name, nil
}

// transformName applies the configured replacement pattern/rule. The rule is
// an expand template over the pattern's groups ($1, ${group}). A non-matching
// or unset pattern leaves the name verbatim.
func (m *Manager) transformName(name string) (string, error) {
	pattern := m.cfg.Pulp.PackageNameReplacementPattern
	if pattern == "" {
		return name, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid package_name_replacement_pattern")
	}
	idx := re.FindStringSubmatchIndex(name)
	if idx == nil {
		return name, nil
	}
	return string(re.ExpandString(nil, m.cfg.Pulp.PackageNameReplacementRule, name, idx)), nil
}

// CreateOrUpdateRepository idempotently drives a repository definition onto a
// server: remote, then repository, then distribution, each list-by-name and
// create-or-update with monitor, then the local ServerRepo binding in one
// commit.
func (m *Manager) CreateOrUpdateRepository(ctx context.Context, serverName string, p UpsertParams) error {
	server, client, err := m.serverAndClient(ctx, serverName)
	if err != nil {
		return err
	}

	basePath, err := m.BasePath(p)
	if err != nil {
		return err
	}

	var remoteHref, remoteFeed *string
	if p.URL != "" {
		remote, err := m.upsertRemote(ctx, client, p)
		if err != nil {
			return err
		}
		remoteHref, remoteFeed = &remote.PulpHref, &remote.URL
	}

	repo, err := m.upsertRepository(ctx, client, p, remoteHref)
	if err != nil {
		return err
	}

	dist, err := m.upsertDistribution(ctx, client, p, repo.PulpHref, basePath)
	if err != nil {
		return err
	}

	return m.upsertBinding(ctx, server, p, repo.PulpHref, remoteHref, remoteFeed, dist.PulpHref)
}

// buildRemote renders the remote body, applying the internal-domain policy:
// internal feeds force TLS validation on and attach the root CA.
func (m *Manager) buildRemote(p UpsertParams) (*pulp.Remote, error) {
	remote := &pulp.Remote{
		Name:          p.Name,
		URL:           p.URL,
		Policy:        "immediate",
		ProxyURL:      p.Proxy,
		Username:      p.Username,
		Password:      p.Password,
		Distributions: p.Distributions,
		Components:    p.Components,
		Architectures: p.Architectures,

		IgnoreMissingPackageIndices: p.IgnoreMissingPackageIndices,
	}

	tlsValidation := m.cfg.Pulp.RemoteTLSValidation
	if p.TLSValidation != nil {
		tlsValidation = *p.TLSValidation
	}
	if m.cfg.Pulp.IsInternalURL(p.URL) {
		tlsValidation = true
		if m.cfg.CA.RootCAFilePath != "" {
			pem, err := os.ReadFile(m.cfg.CA.RootCAFilePath)
			if err != nil {
				return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "read root CA file")
			}
			ca := string(pem)
			remote.CACert = &ca
		}
	}
	remote.TLSValidation = &tlsValidation

	if m.cfg.Remotes.SockConnectTimeout > 0 {
		v := m.cfg.Remotes.SockConnectTimeout.Seconds()
		remote.SockConnectTimeout = &v
	}
	if m.cfg.Remotes.SockReadTimeout > 0 {
		v := m.cfg.Remotes.SockReadTimeout.Seconds()
		remote.SockReadTimeout = &v
	}
	return remote, nil
}

func (m *Manager) upsertRemote(ctx context.Context, client *pulp.Client, p UpsertParams) (*pulp.Remote, error) {
	body, err := m.buildRemote(p)
	if err != nil {
		return nil, err
	}

	existing, err := client.ListRemotes(ctx, p.Kind, map[string]string{"name": p.Name})
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		m.log.Info("creating remote", logfields.Repository(p.Name))
		return client.CreateRemote(ctx, p.Kind, body)
	}

	current := &existing[0]
	fields := remoteDiff(current, body)
	if len(fields) == 0 {
		return current, nil
	}
	m.log.Info("updating remote", logfields.Repository(p.Name), slog.Int("fields", len(fields)))
	taskHref, err := client.UpdateRemote(ctx, current.PulpHref, fields)
	if err != nil {
		return nil, err
	}
	if _, err := client.Monitor(ctx, taskHref); err != nil {
		return nil, err
	}
	current.URL = body.URL
	return current, nil
}

// remoteDiff collects the writable remote fields that differ. Credentials are
// write-only on the server and always resent when configured.
func remoteDiff(current, desired *pulp.Remote) map[string]any {
	fields := map[string]any{}
	if current.URL != desired.URL {
		fields["url"] = desired.URL
	}
	if !strPtrEqual(current.ProxyURL, desired.ProxyURL) {
		fields["proxy_url"] = anyValue(desired.ProxyURL)
	}
	if !boolPtrEqual(current.TLSValidation, desired.TLSValidation) && desired.TLSValidation != nil {
		fields["tls_validation"] = *desired.TLSValidation
	}
	if desired.CACert != nil && !strPtrEqual(current.CACert, desired.CACert) {
		fields["ca_cert"] = *desired.CACert
	}
	if !strPtrEqual(current.Distributions, desired.Distributions) {
		fields["distributions"] = anyValue(desired.Distributions)
	}
	if !strPtrEqual(current.Components, desired.Components) {
		fields["components"] = anyValue(desired.Components)
	}
	if !strPtrEqual(current.Architectures, desired.Architectures) {
		fields["architectures"] = anyValue(desired.Architectures)
	}
	if desired.IgnoreMissingPackageIndices != nil && !boolPtrEqual(current.IgnoreMissingPackageIndices, desired.IgnoreMissingPackageIndices) {
		fields["ignore_missing_package_indices"] = *desired.IgnoreMissingPackageIndices
	}
	if desired.Username != nil {
		fields["username"] = *desired.Username
	}
	if desired.Password != nil {
		fields["password"] = *desired.Password
	}
	return fields
}

func (m *Manager) upsertRepository(ctx context.Context, client *pulp.Client, p UpsertParams, remoteHref *string) (*pulp.Repository, error) {
	body := &pulp.Repository{
		Name:        p.Name,
		Description: &p.Description,
		Remote:      remoteHref,
	}
	if p.Kind == pulp.KindDeb && m.cfg.Pulp.DebSigningService != "" {
		svc, err := client.GetSigningService(ctx, m.cfg.Pulp.DebSigningService)
		if err != nil {
			return nil, err
		}
		body.SigningService = &svc.PulpHref
	}

	existing, err := client.ListRepositories(ctx, p.Kind, map[string]string{"name": p.Name})
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		m.log.Info("creating repository", logfields.Repository(p.Name), logfields.RepoType(string(p.Kind)))
		return client.CreateRepository(ctx, p.Kind, body)
	}

	current := &existing[0]
	fields := map[string]any{}
	if !strPtrEqual(current.Description, body.Description) {
		fields["description"] = p.Description
	}
	if !strPtrEqual(current.Remote, body.Remote) {
		fields["remote"] = anyValue(body.Remote)
	}
	if body.SigningService != nil && !strPtrEqual(current.SigningService, body.SigningService) {
		fields["signing_service"] = *body.SigningService
	}
	if len(fields) == 0 {
		return current, nil
	}
	taskHref, err := client.UpdateRepository(ctx, current.PulpHref, fields)
	if err != nil {
		return nil, err
	}
	if _, err := client.Monitor(ctx, taskHref); err != nil {
		return nil, err
	}
	return current, nil
}

func (m *Manager) upsertDistribution(ctx context.Context, client *pulp.Client, p UpsertParams, repoHref, basePath string) (*pulp.Distribution, error) {
	existing, err := client.ListDistributions(ctx, p.Kind, map[string]string{"name": p.Name})
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		m.log.Info("creating distribution", logfields.Repository(p.Name))
		taskHref, err := client.CreateDistribution(ctx, p.Kind, &pulp.Distribution{
			Name:       p.Name,
			BasePath:   basePath,
			Repository: &repoHref,
		})
		if err != nil {
			return nil, err
		}
		task, err := client.Monitor(ctx, taskHref)
		if err != nil {
			return nil, err
		}
		for _, created := range task.CreatedResources {
			if strings.Contains(created, "/distributions/") {
				return client.GetDistribution(ctx, created)
			}
		}
		return nil, errors.UpstreamFailure("distribution create reported no created resource", nil).
			WithContext("name", p.Name)
	}

	current := &existing[0]
	fields := map[string]any{}
	if current.BasePath != basePath {
		fields["base_path"] = basePath
	}
	if !strPtrEqual(current.Repository, &repoHref) {
		fields["repository"] = repoHref
	}
	if len(fields) == 0 {
		return current, nil
	}
	taskHref, err := client.UpdateDistribution(ctx, current.PulpHref, fields)
	if err != nil {
		return nil, err
	}
	if _, err := client.Monitor(ctx, taskHref); err != nil {
		return nil, err
	}
	return current, nil
}

// upsertBinding writes the Repo row and the ServerRepo binding, touching only
// the fields that changed, inside one transaction.
func (m *Manager) upsertBinding(ctx context.Context, server *store.PulpServer, p UpsertParams, repoHref string, remoteHref, remoteFeed *string, distHref string) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return errors.StorageError("begin upsert transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	repos := store.NewRepoStore(tx)
	repo, err := repos.GetByName(ctx, p.Name)
	if errors.IsCategory(err, errors.CategoryNotFound) {
		repo = &store.Repo{Name: p.Name, RepoType: string(p.Kind)}
		err = repos.Add(ctx, repo)
	}
	if err != nil {
		return err
	}

	serverRepos := store.NewPulpServerRepoStore(tx)
	bindings, err := serverRepos.ListByServer(ctx, server.ID)
	if err != nil {
		return err
	}
	var existing *store.PulpServerRepo
	for _, sr := range bindings {
		if sr.RepoID == repo.ID {
			existing = sr
			break
		}
	}

	if existing == nil {
		err = serverRepos.Add(ctx, &store.PulpServerRepo{
			PulpServerID:     server.ID,
			RepoID:           repo.ID,
			RepoHref:         &repoHref,
			RemoteHref:       remoteHref,
			RemoteFeed:       remoteFeed,
			DistributionHref: &distHref,
		})
	} else {
		fields := map[string]any{}
		if !strPtrEqual(existing.RepoHref, &repoHref) {
			fields["repo_href"] = repoHref
		}
		if !strPtrEqual(existing.RemoteHref, remoteHref) {
			fields["remote_href"] = anyValue(remoteHref)
		}
		if !strPtrEqual(existing.RemoteFeed, remoteFeed) {
			fields["remote_feed"] = anyValue(remoteFeed)
		}
		if !strPtrEqual(existing.DistributionHref, &distHref) {
			fields["distribution_href"] = distHref
		}
		if len(fields) > 0 {
			err = serverRepos.UpdateFields(ctx, existing.ID, fields)
		}
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("commit upsert transaction", err)
	}
	committed = true
	return nil
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return (a == nil && b == nil) || (a != nil && *a == "") || (b != nil && *b == "")
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func anyValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
