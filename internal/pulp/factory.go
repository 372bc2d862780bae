package pulp

import (
	"context"
	"log/slog"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/retry"
	"github.com/pulp/pulp-manager/internal/store"
)

// SecretReader is the slice of the secret store the factory needs.
type SecretReader interface {
	ServiceAccount(ctx context.Context, mount string) (username, password string, err error)
}

// Factory builds per-server clients, resolving service-account credentials
// from the secret store when the server declares a mount.
type Factory struct {
	cfg    config.Config
	vault  SecretReader
	log    *slog.Logger
	scheme string
}

// NewFactory builds a Factory. vault may be nil when no server uses
// vault-managed credentials.
func NewFactory(cfg config.Config, secrets SecretReader, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{cfg: cfg, vault: secrets, log: log, scheme: "https"}
}

// WithScheme overrides the URL scheme, for tests against plain-HTTP servers.
func (f *Factory) WithScheme(scheme string) *Factory {
	f.scheme = scheme
	return f
}

// ForServer builds a client for one registered server.
func (f *Factory) ForServer(ctx context.Context, server *store.PulpServer) (*Client, error) {
	username := server.Username
	password := ""
	if server.VaultServiceAccountMount != "" && f.vault != nil {
		var err error
		username, password, err = f.vault.ServiceAccount(ctx, server.VaultServiceAccountMount)
		if err != nil {
			return nil, err
		}
	}

	return NewClient(ClientConfig{
		BaseURL:            f.scheme + "://" + server.Name,
		Username:           username,
		Password:           password,
		TLSValidation:      true,
		RootCAFilePath:     f.cfg.CA.RootCAFilePath,
		SockConnectTimeout: f.cfg.Remotes.SockConnectTimeout,
		SockReadTimeout:    f.cfg.Remotes.SockReadTimeout,
		Retry:              retry.FromConfig(f.cfg.Retry),
		MonitorInterval:    f.cfg.Sync.MonitorInterval,
		MonitorMaxWait:     f.cfg.Sync.MonitorMaxWait,
		Logger:             f.log,
	})
}
