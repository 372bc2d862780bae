package config

import (
	"fmt"
	"time"
)

// applyDefaults fills zero values with operational defaults.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "pulp-manager.db"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Paging.MaxPageSize == 0 {
		c.Paging.MaxPageSize = 100
	}
	if c.Paging.DefaultPageSize == 0 {
		c.Paging.DefaultPageSize = 20
	}
	if c.Remotes.SockConnectTimeout == 0 {
		c.Remotes.SockConnectTimeout = 10 * time.Second
	}
	if c.Remotes.SockReadTimeout == 0 {
		c.Remotes.SockReadTimeout = 30 * time.Second
	}
	if c.Pulp.ExternalRepoPrefix == "" {
		c.Pulp.ExternalRepoPrefix = "ext-"
	}
	if c.Pulp.GitRepoConfigDir == "" {
		c.Pulp.GitRepoConfigDir = "repo_config"
	}
	if c.Pulp.SnapshotPrefix == "" {
		c.Pulp.SnapshotPrefix = "snapshot"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "pulpmanager.tasks"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9114"
	}
	if c.Retry.Mode == "" {
		c.Retry.Mode = RetryBackoffLinear
	}
	if c.Retry.Initial == 0 {
		c.Retry.Initial = time.Second
	}
	if c.Retry.Max == 0 {
		c.Retry.Max = 30 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 10 * time.Second
	}
	if c.Sync.MonitorInterval == 0 {
		c.Sync.MonitorInterval = 5 * time.Second
	}
	if c.Sync.MonitorMaxWait == 0 {
		c.Sync.MonitorMaxWait = 30 * time.Minute
	}
	if c.Sync.ResultTTL == 0 {
		c.Sync.ResultTTL = 48 * time.Hour
	}
	if c.Sync.JobTimeout == 0 {
		c.Sync.JobTimeout = 12 * time.Hour
	}
}

func joinHostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
