package registrar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/manager"
	"github.com/pulp/pulp-manager/internal/pulp"
)

type recordingUpserter struct {
	calls []manager.UpsertParams
}

func (u *recordingUpserter) CreateOrUpdateRepository(ctx context.Context, serverName string, p manager.UpsertParams) error {
	u.calls = append(u.calls, p)
	return nil
}

type fakeSecrets struct {
	data map[string]map[string]string
}

func (f fakeSecrets) Read(ctx context.Context, path string) (map[string]string, error) {
	secret, ok := f.data[path]
	if !ok {
		return nil, errors.NotFound("vault secret", path)
	}
	return secret, nil
}

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Pulp.ExternalRepoPrefix = "ext-"
	cfg.Pulp.InternalRepoPrefix = "int-"
	cfg.Pulp.InternalDomains = "corp.example.com"
	return cfg
}

func TestRegisterRepos(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "remote", "global.json"), `{
		"proxy": "http://proxy.corp.example.com:3128",
		"pulp": {"package_prefix": "rpm/external"}
	}`)
	writeJSON(t, filepath.Join(dir, "remote", "epel.json"), `{
		"name": "epel-9",
		"description": "EPEL 9",
		"content_repo_type": "rpm",
		"url": "https://mirror.example.org/epel/9/"
	}`)
	writeJSON(t, filepath.Join(dir, "remote", "debian.json"), `{
		"name": "debian-bookworm",
		"description": "Debian",
		"content_repo_type": "deb",
		"base_url": "deb/external",
		"url": "https://deb.debian.org/debian",
		"components": "main contrib"
	}`)
	writeJSON(t, filepath.Join(dir, "internal", "tools.json"), `{
		"name": "tools",
		"description": "Internal tools",
		"content_repo_type": "iso",
		"base_url": "file/internal",
		"url": "https://files.corp.example.com/tools/",
		"proxy": "http://proxy.corp.example.com:3128"
	}`)

	upserter := &recordingUpserter{}
	r := New(testConfig(), upserter, nil, nil)

	result, err := r.RegisterRepos(context.Background(), "pulp01", "", "", dir)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Registered)

	byName := map[string]manager.UpsertParams{}
	for _, p := range upserter.calls {
		byName[p.Name] = p
	}

	epel, ok := byName["ext-epel-9"]
	require.True(t, ok, "external prefix applied")
	assert.Equal(t, pulp.KindRPM, epel.Kind)
	// base_url falls back to the global pulp.package_prefix.
	assert.Contains(t, epel.Description, "base_url:rpm/external")
	// global proxy survives the merge for an external feed.
	require.NotNil(t, epel.Proxy)

	debian := byName["ext-debian-bookworm"]
	require.NotNil(t, debian.Distributions)
	assert.Equal(t, "stable", *debian.Distributions, "releases defaults to stable")
	require.NotNil(t, debian.Components)
	assert.Equal(t, "main contrib", *debian.Components)

	tools, ok := byName["int-tools"]
	require.True(t, ok, "internal prefix applied")
	assert.Equal(t, pulp.KindFile, tools.Kind, "iso aliases to file")
	assert.Nil(t, tools.Proxy, "proxy stripped for internal feeds")
}

func TestRegisterReposPerFileKeysWin(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "remote", "global.json"), `{
		"proxy": "http://global-proxy.example.com:3128"
	}`)
	writeJSON(t, filepath.Join(dir, "remote", "special.json"), `{
		"name": "special",
		"description": "d",
		"content_repo_type": "rpm",
		"base_url": "rpm/external",
		"url": "https://mirror.example.org/special/",
		"proxy": "http://other-proxy.example.com:8080"
	}`)

	upserter := &recordingUpserter{}
	r := New(testConfig(), upserter, nil, nil)

	_, err := r.RegisterRepos(context.Background(), "pulp01", "", "", dir)
	require.NoError(t, err)
	require.Len(t, upserter.calls, 1)
	require.NotNil(t, upserter.calls[0].Proxy)
	assert.Equal(t, "http://other-proxy.example.com:8080", *upserter.calls[0].Proxy)
}

func TestRegisterReposFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		writeJSON(t, filepath.Join(dir, "remote", name+".json"), `{
			"name": "`+name+`",
			"description": "d",
			"content_repo_type": "rpm",
			"base_url": "rpm/external",
			"url": "https://mirror.example.org/`+name+`/"
		}`)
	}

	upserter := &recordingUpserter{}
	r := New(testConfig(), upserter, nil, nil)

	// Exclude wins over include.
	result, err := r.RegisterRepos(context.Background(), "pulp01", "ext-(alpha|beta)", "ext-beta", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Registered)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, "ext-alpha", upserter.calls[0].Name)
}

func TestRegisterReposVaultSecrets(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "remote", "licensed.json"), `{
		"name": "licensed",
		"description": "d",
		"content_repo_type": "rpm",
		"base_url": "rpm/external",
		"url": "https://licensed.example.org/repo/",
		"vault_load_secrets": [
			{"kv": "secret", "path": "repos/licensed", "secret_name": "user", "remote_property": "username"},
			{"kv": "secret", "path": "repos/licensed", "secret_name": "pass", "remote_property": "password"}
		]
	}`)

	secrets := fakeSecrets{data: map[string]map[string]string{
		"secret/repos/licensed": {"user": "svc-licensed", "pass": "hunter2"},
	}}
	upserter := &recordingUpserter{}
	r := New(testConfig(), upserter, secrets, nil)

	_, err := r.RegisterRepos(context.Background(), "pulp01", "", "", dir)
	require.NoError(t, err)
	require.Len(t, upserter.calls, 1)
	require.NotNil(t, upserter.calls[0].Username)
	assert.Equal(t, "svc-licensed", *upserter.calls[0].Username)
	require.NotNil(t, upserter.calls[0].Password)
	assert.Equal(t, "hunter2", *upserter.calls[0].Password)
}

func TestPrefixedNameAlreadyPrefixed(t *testing.T) {
	r := New(testConfig(), nil, nil, nil)
	assert.Equal(t, "ext-epel", r.prefixedName("remote", "ext-epel"))
	assert.Equal(t, "int-tools", r.prefixedName("internal", "tools"))

	cfg := testConfig()
	cfg.Pulp.ExternalRepoPrefix = ""
	r = New(cfg, nil, nil, nil)
	assert.Equal(t, "epel", r.prefixedName("remote", "epel"))
}
