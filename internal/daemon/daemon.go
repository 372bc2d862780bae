// Package daemon wires the fleet manager together and runs it: schedule
// installation and firing, queue workers, the metrics endpoint and the
// configuration watcher.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/events"
	"github.com/pulp/pulp-manager/internal/jobs"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/manager"
	"github.com/pulp/pulp-manager/internal/metrics"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/reconciler"
	"github.com/pulp/pulp-manager/internal/registrar"
	"github.com/pulp/pulp-manager/internal/store"
	"github.com/pulp/pulp-manager/internal/syncher"
	"github.com/pulp/pulp-manager/internal/vault"
)

// Mode selects which halves of the daemon run in this process.
type Mode string

const (
	// ModeScheduler installs and fires cron entries.
	ModeScheduler Mode = "scheduler"
	// ModeWorker consumes the work queue.
	ModeWorker Mode = "worker"
	// ModeAll runs both in one process.
	ModeAll Mode = "all"
)

// Daemon owns the long-running process.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string
	mode       Mode

	db        *store.DB
	recorder  metrics.Recorder
	registry  *prom.Registry
	events    events.Publisher
	jobs      *jobs.JobManager
	worker    *jobs.Worker
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	workers   WorkerGroup
	log       *slog.Logger
}

// New loads the configuration and wires every component.
func New(configPath string, mode Mode, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, errors.StorageError("open database", err)
	}

	var secrets *vault.Client
	if cfg.Vault.VaultAddr != "" {
		secrets, err = vault.NewClient(cfg.Vault)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	recorder := metrics.Recorder(metrics.NoopRecorder{})
	var registry *prom.Registry
	if cfg.Metrics.Enabled {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if cfg.Events.NATSURL != "" {
		publisher, err = events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	var accountReader pulp.SecretReader
	var secretReader registrar.SecretReader
	if secrets != nil {
		accountReader = secrets
		secretReader = secrets
	}
	factory := pulp.NewFactory(*cfg, accountReader, log)
	recon := reconciler.New(db, factory, log)
	mgr := manager.New(db, *cfg, factory, recorder, log)
	reg := registrar.New(*cfg, mgr, secretReader, log)
	sync := syncher.New(db, *cfg, factory, recon, mgr, recorder, publisher, log)

	redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), DB: cfg.Redis.DB}
	client := asynq.NewClient(redis)
	inspector := asynq.NewInspector(redis)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		_ = db.Close()
		return nil, errors.InternalError("create scheduler", err)
	}
	jm := jobs.New(db, *cfg, scheduler, client, inspector, recorder, publisher, log)
	worker := jobs.NewWorker(db, *cfg, sync, reg, mgr, recorder, publisher, log)

	server := asynq.NewServer(redis, asynq.Config{
		// One worker job at a time per process; fan-out happens inside the
		// sync driver, not across goroutines.
		Concurrency:  1,
		Queues:       map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(jm.HandleWorkerFailure),
	})

	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		mode:       mode,
		db:         db,
		recorder:   recorder,
		registry:   registry,
		events:     publisher,
		jobs:       jm,
		worker:     worker,
		client:     client,
		inspector:  inspector,
		server:     server,
		log:        log,
	}, nil
}

// Run blocks until ctx is canceled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.GetConfig()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && d.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		d.workers.Go(func() {
			d.log.Info("metrics endpoint listening", slog.String("addr", cfg.Metrics.Listen))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Error("metrics server failed", logfields.Error(err))
			}
		})
	}

	watcher, err := NewConfigWatcher(d.configPath, d.ReloadConfig, d.log)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	if d.mode == ModeScheduler || d.mode == ModeAll {
		if err := d.jobs.InstallSchedules(ctx); err != nil {
			return err
		}
		d.jobs.StartScheduler()
		d.log.Info("scheduler started")
	}

	if d.mode == ModeWorker || d.mode == ModeAll {
		if err := d.server.Start(d.worker.Mux()); err != nil {
			return errors.QueueError("start queue server", err)
		}
		d.log.Info("queue worker started")
	}

	<-ctx.Done()
	d.log.Info("shutting down")

	watcher.Stop()
	if d.mode == ModeScheduler || d.mode == ModeAll {
		if err := d.jobs.StopScheduler(); err != nil {
			d.log.Warn("scheduler shutdown", logfields.Error(err))
		}
	}
	if d.mode == ModeWorker || d.mode == ModeAll {
		d.server.Shutdown()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	_ = d.client.Close()
	d.events.Close()
	_ = d.db.Close()

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.workers.StopAndWait(waitCtx)
}

// GetConfig returns the currently active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ReloadConfig applies a newly loaded configuration. Schedule definitions,
// job timeouts and the registration config dir take effect immediately;
// connection-level settings (database, redis, broker) need a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.jobs.UpdateConfig(*cfg)
	if d.mode == ModeScheduler || d.mode == ModeAll {
		return d.jobs.InstallSchedules(ctx)
	}
	return nil
}
