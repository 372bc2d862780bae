// Package vault reads secrets from a Vault KV v2 engine. Only reads are
// needed: service-account credentials for content servers and the secret
// references repo definitions declare via vault_load_secrets.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
)

// Client is a minimal KV v2 read client.
type Client struct {
	addr       string
	token      string
	namespace  string
	httpClient *http.Client
}

// NewClient builds a client for the configured Vault. The token comes from
// the VAULT_TOKEN environment variable.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if cfg.VaultAddr == "" {
		return nil, errors.ConfigRequired("vault.vault_addr")
	}
	return &Client{
		addr:       strings.TrimRight(cfg.VaultAddr, "/"),
		token:      os.Getenv("VAULT_TOKEN"),
		namespace:  cfg.RepoSecretNamespace,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type kv2Response struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// Read returns the secret data at a KV v2 path. The path is
// "<mount>/<secret>"; the "data/" segment KV v2 requires is inserted here.
func (c *Client) Read(ctx context.Context, path string) (map[string]string, error) {
	mount, secret, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok {
		return nil, errors.InvalidArgument("vault path must be <mount>/<secret>").WithContext("path", path)
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s", c.addr, mount, secret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.VaultError(path, err)
	}
	req.Header.Set("X-Vault-Token", c.token)
	if c.namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.namespace)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.VaultError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NotFound("vault secret", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.VaultError(path, fmt.Errorf("vault returned %s", resp.Status))
	}

	var body kv2Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.VaultError(path, err)
	}
	return body.Data.Data, nil
}

// ServiceAccount reads the username/password pair stored at a server's
// service-account mount.
func (c *Client) ServiceAccount(ctx context.Context, mount string) (username, password string, err error) {
	data, err := c.Read(ctx, mount)
	if err != nil {
		return "", "", err
	}
	username, password = data["username"], data["password"]
	if username == "" || password == "" {
		return "", "", errors.VaultError(mount, fmt.Errorf("secret missing username or password"))
	}
	return username, password, nil
}
