// Package syncher drives repository syncs per server: reconcile, child Task
// fan-out bounded by a concurrency cap, a per-repo state machine over the
// content server's own asynchronous tasks, and the green/amber/red health
// rollup derived from recent outcomes.
package syncher

import (
	"context"
	"log/slog"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/events"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/reconciler"
	"github.com/pulp/pulp-manager/internal/store"
)

// ClientProvider builds a content-server client for a registered server.
type ClientProvider interface {
	ForServer(ctx context.Context, server *store.PulpServer) (*pulp.Client, error)
}

// Reconciler aligns the local bindings with the server before a sync run.
type Reconciler interface {
	Reconcile(ctx context.Context, serverName string) (*reconciler.Result, error)
}

// UpstreamRegistrar mirrors repository definitions down from an upstream
// server before syncing.
type UpstreamRegistrar interface {
	AddReposFromUpstream(ctx context.Context, downstreamName, upstreamName, regexInclude, regexExclude string) error
}

// Syncher owns the per-server sync loop.
type Syncher struct {
	db       *store.DB
	cfg      config.Config
	clients  ClientProvider
	recon    Reconciler
	upstream UpstreamRegistrar
	recorder metrics.Recorder
	events   events.Publisher
	log      *slog.Logger
}

// New builds a Syncher. upstream, recorder and events may be nil.
func New(db *store.DB, cfg config.Config, clients ClientProvider, recon Reconciler, upstream UpstreamRegistrar, recorder metrics.Recorder, publisher events.Publisher, log *slog.Logger) *Syncher {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Syncher{
		db:       db,
		cfg:      cfg,
		clients:  clients,
		recon:    recon,
		upstream: upstream,
		recorder: recorder,
		events:   publisher,
		log:      log,
	}
}

func (s *Syncher) tasks() *store.TaskStore {
	return store.NewTaskStore(s.db, s.cfg.Paging)
}
