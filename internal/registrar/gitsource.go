package registrar

import (
	"context"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
)

// registerFromGit clones the configured definition repository into a temp
// directory, registers from it, and removes the directory on every exit
// path.
func (r *Registrar) registerFromGit(ctx context.Context, serverName, regexInclude, regexExclude string) (*Result, error) {
	if r.cfg.Pulp.GitRepoConfig == "" {
		return nil, errors.ConfigRequired("pulp.git_repo_config")
	}

	tmp, err := os.MkdirTemp("", "pulp-manager-repo-config-*")
	if err != nil {
		return nil, errors.InternalError("create temp clone dir", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			r.log.Warn("remove temp clone dir", logfields.Error(err))
		}
	}()

	r.log.Info("cloning repo config", logfields.Server(serverName))
	_, err = git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{
		URL:   r.cfg.Pulp.GitRepoConfig,
		Depth: 1,
	})
	if err != nil {
		return nil, errors.GitCloneError(r.cfg.Pulp.GitRepoConfig, err)
	}

	dir := tmp
	if r.cfg.Pulp.GitRepoConfigDir != "" {
		dir = filepath.Join(tmp, r.cfg.Pulp.GitRepoConfigDir)
	}
	return r.registerFromDir(ctx, serverName, regexInclude, regexExclude, dir)
}
