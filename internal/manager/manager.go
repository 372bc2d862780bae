// Package manager owns the repository lifecycle operations against a content
// server: the idempotent upsert used by registration, content lookup and
// pruning, snapshots, and mirroring repositories from an upstream server.
package manager

import (
	"context"
	"log/slog"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// ClientProvider builds a content-server client for a registered server.
type ClientProvider interface {
	ForServer(ctx context.Context, server *store.PulpServer) (*pulp.Client, error)
}

// Manager performs repository lifecycle operations.
type Manager struct {
	db       *store.DB
	cfg      config.Config
	clients  ClientProvider
	recorder metrics.Recorder
	log      *slog.Logger
}

// New builds a Manager. recorder may be nil (no metrics).
func New(db *store.DB, cfg config.Config, clients ClientProvider, recorder metrics.Recorder, log *slog.Logger) *Manager {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{db: db, cfg: cfg, clients: clients, recorder: recorder, log: log}
}

// serverAndClient resolves a server row and a client for it.
func (m *Manager) serverAndClient(ctx context.Context, serverName string) (*store.PulpServer, *pulp.Client, error) {
	server, err := store.NewPulpServerStore(m.db).GetByName(ctx, serverName)
	if err != nil {
		return nil, nil, err
	}
	client, err := m.clients.ForServer(ctx, server)
	if err != nil {
		return nil, nil, err
	}
	return server, client, nil
}
