package main

import (
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/jobs"
	"github.com/pulp/pulp-manager/internal/manager"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/reconciler"
	"github.com/pulp/pulp-manager/internal/registrar"
	"github.com/pulp/pulp-manager/internal/store"
	"github.com/pulp/pulp-manager/internal/syncher"
	"github.com/pulp/pulp-manager/internal/vault"
)

// core holds the components the one-shot commands need. The daemon command
// wires its own richer set (queue server, metrics endpoint, watcher).
type core struct {
	db        *store.DB
	recon     *reconciler.Reconciler
	manager   *manager.Manager
	registrar *registrar.Registrar
	sync      *syncher.Syncher
	jobs      *jobs.JobManager
	client    *asynq.Client
	scheduler gocron.Scheduler
}

func buildCore(log *slog.Logger) (*core, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, errors.StorageError("open database", err)
	}

	var accountReader pulp.SecretReader
	var secretReader registrar.SecretReader
	if cfg.Vault.VaultAddr != "" {
		secrets, err := vault.NewClient(cfg.Vault)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		accountReader = secrets
		secretReader = secrets
	}

	factory := pulp.NewFactory(*cfg, accountReader, log)
	recon := reconciler.New(db, factory, log)
	mgr := manager.New(db, *cfg, factory, metrics.NoopRecorder{}, log)
	reg := registrar.New(*cfg, mgr, secretReader, log)
	sync := syncher.New(db, *cfg, factory, recon, mgr, nil, nil, log)

	redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), DB: cfg.Redis.DB}
	client := asynq.NewClient(redis)
	inspector := asynq.NewInspector(redis)
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		_ = db.Close()
		return nil, errors.InternalError("create scheduler", err)
	}
	jm := jobs.New(db, *cfg, scheduler, client, inspector, nil, nil, log)

	return &core{
		db:        db,
		recon:     recon,
		manager:   mgr,
		registrar: reg,
		sync:      sync,
		jobs:      jm,
		client:    client,
		scheduler: scheduler,
	}, nil
}

func (c *core) Close() {
	_ = c.client.Close()
	_ = c.scheduler.Shutdown()
	_ = c.db.Close()
}
