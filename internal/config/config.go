// Package config loads and validates the pulp-manager configuration.
//
// Configuration is an immutable value: it is loaded once (YAML file plus
// environment overrides) and passed through constructors. Nothing in the
// codebase reads a process-global config.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulp/pulp-manager/internal/errors"
)

// Config is the root configuration for pulp-manager.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Paging   PagingConfig   `yaml:"paging"`
	Pulp     PulpConfig     `yaml:"pulp"`
	Remotes  RemotesConfig  `yaml:"remotes"`
	CA       CAConfig       `yaml:"ca"`
	Vault    VaultConfig    `yaml:"vault"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Retry    RetryConfig    `yaml:"retry"`
	Sync     SyncConfig     `yaml:"sync"`
}

// DatabaseConfig selects and configures the durable store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `yaml:"driver"`
	// DSN is the driver-specific data source name. For sqlite this is a file
	// path (or ":memory:"); for mysql a go-sql-driver DSN.
	DSN string `yaml:"dsn"`
}

// RedisConfig locates the work queue backend.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// Addr returns the host:port address for the queue backend.
func (r RedisConfig) Addr() string {
	return joinHostPort(r.Host, r.Port)
}

// PagingConfig bounds paged queries against the store.
type PagingConfig struct {
	MaxPageSize     int `yaml:"max_page_size"`
	DefaultPageSize int `yaml:"default_page_size"`
}

// PulpConfig carries fleet-wide content-server policy.
type PulpConfig struct {
	DebSigningService             string `yaml:"deb_signing_service"`
	InternalDomains               string `yaml:"internal_domains"`
	RemoteTLSValidation           bool   `yaml:"remote_tls_validation"`
	UseHTTPSForSync               bool   `yaml:"use_https_for_sync"`
	PackageNameReplacementPattern string `yaml:"package_name_replacement_pattern"`
	PackageNameReplacementRule    string `yaml:"package_name_replacement_rule"`
	BannedPackageRegex            string `yaml:"banned_package_regex"`
	ExternalRepoPrefix            string `yaml:"external_repo_prefix"`
	InternalRepoPrefix            string `yaml:"internal_repo_prefix"`
	GitRepoConfig                 string `yaml:"git_repo_config"`
	GitRepoConfigDir              string `yaml:"git_repo_config_dir"`
	LocalRepoConfigDir            string `yaml:"local_repo_config_dir"`
	SnapshotPrefix                string `yaml:"snapshot_prefix"`
}

// InternalDomainList splits the comma-separated internal_domains option.
func (p PulpConfig) InternalDomainList() []string {
	if strings.TrimSpace(p.InternalDomains) == "" {
		return nil
	}
	parts := strings.Split(p.InternalDomains, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if d := strings.TrimSpace(part); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// IsInternalURL reports whether url contains any configured internal domain.
func (p PulpConfig) IsInternalURL(url string) bool {
	for _, domain := range p.InternalDomainList() {
		if strings.Contains(url, domain) {
			return true
		}
	}
	return false
}

// RemotesConfig carries socket timeouts applied to content-server remotes.
type RemotesConfig struct {
	SockConnectTimeout time.Duration `yaml:"sock_connect_timeout"`
	SockReadTimeout    time.Duration `yaml:"sock_read_timeout"`
}

// CAConfig locates the root CA attached to internal-domain remotes.
type CAConfig struct {
	RootCAFilePath string `yaml:"root_ca_file_path"`
}

// VaultConfig locates the secret store.
type VaultConfig struct {
	VaultAddr           string `yaml:"vault_addr"`
	RepoSecretNamespace string `yaml:"repo_secret_namespace"`
}

// AuthConfig carries the admin-group hint consumed by the HTTP boundary.
type AuthConfig struct {
	AdminGroup string `yaml:"admin_group"`
}

// EventsConfig enables task lifecycle event publishing when NATSURL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig configures the Prometheus endpoint served by the daemon.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// RetryBackoffMode selects the backoff curve for transient-failure retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig tunes retries of transient content-server failures.
type RetryConfig struct {
	Mode       RetryBackoffMode `yaml:"mode"`
	Initial    time.Duration    `yaml:"initial"`
	Max        time.Duration    `yaml:"max"`
	MaxRetries int              `yaml:"max_retries"`
}

// SyncConfig tunes the sync driver and the client's monitor primitive.
type SyncConfig struct {
	// PollInterval is the sleep between fan-out loop iterations.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MonitorInterval is the poll interval of the client monitor primitive.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// MonitorMaxWait bounds how long monitor waits for a server task.
	MonitorMaxWait time.Duration `yaml:"monitor_max_wait"`
	// ResultTTL is how long the queue retains finished worker job results.
	ResultTTL time.Duration `yaml:"result_ttl"`
	// JobTimeout is the hard runtime cap enforced by the queue per worker job.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// Load reads the configuration file at path, applies .env files, environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to read configuration")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to parse configuration")
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables that take precedence over
// file values. PULP_MANAGER_CA_FILE wins over ca.root_ca_file_path.
func (c *Config) applyEnvOverrides() {
	if caFile := os.Getenv("PULP_MANAGER_CA_FILE"); caFile != "" {
		c.CA.RootCAFilePath = caFile
	}
}
