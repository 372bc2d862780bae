package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
pulp:
  internal_domains: "internal.example.com,mirror.corp"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 100, cfg.Paging.MaxPageSize)
	assert.Equal(t, 20, cfg.Paging.DefaultPageSize)
	assert.Equal(t, "ext-", cfg.Pulp.ExternalRepoPrefix)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, RetryBackoffLinear, cfg.Retry.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
}

func TestInternalDomainList(t *testing.T) {
	tests := []struct {
		name    string
		domains string
		want    []string
	}{
		{"empty", "", nil},
		{"single", "internal.example.com", []string{"internal.example.com"}},
		{"multiple with spaces", "a.corp, b.corp ,c.corp", []string{"a.corp", "b.corp", "c.corp"}},
		{"trailing comma", "a.corp,", []string{"a.corp"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := PulpConfig{InternalDomains: tc.domains}
			assert.Equal(t, tc.want, p.InternalDomainList())
		})
	}
}

func TestIsInternalURL(t *testing.T) {
	p := PulpConfig{InternalDomains: "internal.example.com,artifactory.corp"}

	assert.True(t, p.IsInternalURL("https://repos.internal.example.com/rpm/"))
	assert.True(t, p.IsInternalURL("http://artifactory.corp/deb/pool"))
	assert.False(t, p.IsInternalURL("https://download.docker.com/linux/centos"))
	assert.False(t, PulpConfig{}.IsInternalURL("https://anything"))
}

func TestCAFileEnvOverride(t *testing.T) {
	path := writeConfig(t, `
ca:
  root_ca_file_path: /etc/pki/from-file.pem
`)

	t.Setenv("PULP_MANAGER_CA_FILE", "/etc/pki/from-env.pem")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/pki/from-env.pem", cfg.CA.RootCAFilePath)
}

func TestValidateRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
}

func TestValidateReplacementRuleRequired(t *testing.T) {
	path := writeConfig(t, `
pulp:
  package_name_replacement_pattern: "^el[0-9]+-(?P<name>.*)$"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package_name_replacement_rule")
}

func TestValidateBadBannedRegex(t *testing.T) {
	path := writeConfig(t, `
pulp:
  banned_package_regex: "("
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidatePageSizeOrdering(t *testing.T) {
	path := writeConfig(t, `
paging:
  max_page_size: 10
  default_page_size: 50
`)

	_, err := Load(path)
	require.Error(t, err)
}
