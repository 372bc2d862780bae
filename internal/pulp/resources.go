package pulp

import (
	"context"

	"github.com/pulp/pulp-manager/internal/errors"
)

func kindPath(resource string, kind Kind) (string, error) {
	plugin, ok := kindPlugins[kind]
	if !ok {
		return "", errors.InvalidArgument("unsupported content kind").WithContext("kind", string(kind))
	}
	return apiRoot + "/" + resource + "/" + plugin + "/", nil
}

// ListRepositories returns all repositories of a kind matching the params.
func (c *Client) ListRepositories(ctx context.Context, kind Kind, params map[string]string) ([]Repository, error) {
	endpoint, err := kindPath("repositories", kind)
	if err != nil {
		return nil, err
	}
	return listAll[Repository](ctx, c, endpoint, params)
}

// GetRepository fetches one repository by href.
func (c *Client) GetRepository(ctx context.Context, href string) (*Repository, error) {
	var repo Repository
	if err := c.get(ctx, href, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// CreateRepository creates a repository; repository creation is synchronous.
func (c *Client) CreateRepository(ctx context.Context, kind Kind, repo *Repository) (*Repository, error) {
	endpoint, err := kindPath("repositories", kind)
	if err != nil {
		return nil, err
	}
	var created Repository
	if err := c.post(ctx, endpoint, repo, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRepository patches a repository; returns the server task href.
func (c *Client) UpdateRepository(ctx context.Context, href string, fields map[string]any) (string, error) {
	var resp asyncResponse
	if err := c.patch(ctx, href, fields, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// DeleteRepository deletes a repository; returns the server task href.
func (c *Client) DeleteRepository(ctx context.Context, href string) (string, error) {
	var resp asyncResponse
	if err := c.delete(ctx, href, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// SyncRepository starts a sync from the repository's remote; returns the
// server task href. mirror makes the new version an exact upstream copy.
func (c *Client) SyncRepository(ctx context.Context, repoHref, remoteHref string, mirror bool) (string, error) {
	body := map[string]any{"mirror": mirror}
	if remoteHref != "" {
		body["remote"] = remoteHref
	}
	var resp asyncResponse
	if err := c.post(ctx, repoHref+"sync/", body, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// ModifyRepository adds and removes content units, producing a new version;
// returns the server task href.
func (c *Client) ModifyRepository(ctx context.Context, repoHref string, add, remove []string) (string, error) {
	body := map[string]any{}
	if len(add) > 0 {
		body["add_content_units"] = add
	}
	if len(remove) > 0 {
		body["remove_content_units"] = remove
	}
	var resp asyncResponse
	if err := c.post(ctx, repoHref+"modify/", body, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// ListRemotes returns all remotes of a kind matching the params.
func (c *Client) ListRemotes(ctx context.Context, kind Kind, params map[string]string) ([]Remote, error) {
	endpoint, err := kindPath("remotes", kind)
	if err != nil {
		return nil, err
	}
	return listAll[Remote](ctx, c, endpoint, params)
}

// GetRemote fetches one remote by href.
func (c *Client) GetRemote(ctx context.Context, href string) (*Remote, error) {
	var remote Remote
	if err := c.get(ctx, href, &remote); err != nil {
		return nil, err
	}
	return &remote, nil
}

// CreateRemote creates a remote; remote creation is synchronous.
func (c *Client) CreateRemote(ctx context.Context, kind Kind, remote *Remote) (*Remote, error) {
	endpoint, err := kindPath("remotes", kind)
	if err != nil {
		return nil, err
	}
	var created Remote
	if err := c.post(ctx, endpoint, remote, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRemote patches a remote; returns the server task href.
func (c *Client) UpdateRemote(ctx context.Context, href string, fields map[string]any) (string, error) {
	var resp asyncResponse
	if err := c.patch(ctx, href, fields, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// DeleteRemote deletes a remote; returns the server task href.
func (c *Client) DeleteRemote(ctx context.Context, href string) (string, error) {
	var resp asyncResponse
	if err := c.delete(ctx, href, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// ListDistributions returns all distributions of a kind matching the params.
func (c *Client) ListDistributions(ctx context.Context, kind Kind, params map[string]string) ([]Distribution, error) {
	endpoint, err := kindPath("distributions", kind)
	if err != nil {
		return nil, err
	}
	return listAll[Distribution](ctx, c, endpoint, params)
}

// GetDistribution fetches one distribution by href.
func (c *Client) GetDistribution(ctx context.Context, href string) (*Distribution, error) {
	var dist Distribution
	if err := c.get(ctx, href, &dist); err != nil {
		return nil, err
	}
	return &dist, nil
}

// CreateDistribution creates a distribution; returns the server task href.
func (c *Client) CreateDistribution(ctx context.Context, kind Kind, dist *Distribution) (string, error) {
	endpoint, err := kindPath("distributions", kind)
	if err != nil {
		return "", err
	}
	var resp asyncResponse
	if err := c.post(ctx, endpoint, dist, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// UpdateDistribution patches a distribution; returns the server task href.
func (c *Client) UpdateDistribution(ctx context.Context, href string, fields map[string]any) (string, error) {
	var resp asyncResponse
	if err := c.patch(ctx, href, fields, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// DeleteDistribution deletes a distribution; returns the server task href.
func (c *Client) DeleteDistribution(ctx context.Context, href string) (string, error) {
	var resp asyncResponse
	if err := c.delete(ctx, href, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// ListPublications returns publications of a kind matching the params
// (repository_version narrows to one version).
func (c *Client) ListPublications(ctx context.Context, kind Kind, params map[string]string) ([]Publication, error) {
	endpoint, err := kindPath("publications", kind)
	if err != nil {
		return nil, err
	}
	return listAll[Publication](ctx, c, endpoint, params)
}

// CreatePublication materializes metadata for a repository version; returns
// the server task href.
func (c *Client) CreatePublication(ctx context.Context, kind Kind, pub *Publication) (string, error) {
	endpoint, err := kindPath("publications", kind)
	if err != nil {
		return "", err
	}
	var resp asyncResponse
	if err := c.post(ctx, endpoint, pub, &resp); err != nil {
		return "", err
	}
	return resp.Task, nil
}

// GetRepositoryVersion fetches one repository version by href.
func (c *Client) GetRepositoryVersion(ctx context.Context, href string) (*RepositoryVersion, error) {
	var version RepositoryVersion
	if err := c.get(ctx, href, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// ListPackages returns content units of a kind matching the params. Use
// repository_version to list the packages of one version.
func (c *Client) ListPackages(ctx context.Context, kind Kind, params map[string]string) ([]Package, error) {
	var endpoint string
	switch kind {
	case KindRPM:
		endpoint = apiRoot + "/content/rpm/packages/"
	case KindDeb:
		endpoint = apiRoot + "/content/deb/packages/"
	case KindPython:
		endpoint = apiRoot + "/content/python/packages/"
	case KindFile:
		endpoint = apiRoot + "/content/file/files/"
	default:
		return nil, errors.InvalidArgument("kind has no package content endpoint").WithContext("kind", string(kind))
	}
	return listAll[Package](ctx, c, endpoint, params)
}

// GetSigningService looks up a signing service by name.
func (c *Client) GetSigningService(ctx context.Context, name string) (*SigningService, error) {
	services, err := listAll[SigningService](ctx, c, apiRoot+"/signing-services/", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, errors.SigningServiceMissing(name)
	}
	return &services[0], nil
}

// GetServerTask fetches a server task handle.
func (c *Client) GetServerTask(ctx context.Context, href string) (*ServerTask, error) {
	var task ServerTask
	if err := c.get(ctx, href, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelServerTask asks the server to cancel a running task.
func (c *Client) CancelServerTask(ctx context.Context, href string) error {
	return c.patch(ctx, href, map[string]any{"state": "canceled"}, nil)
}
