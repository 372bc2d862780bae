package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
)

// ConfigWatcher monitors the configuration file and triggers debounced
// reloads. It watches the containing directory, not the file itself, so
// editors that replace the file atomically are still observed.
type ConfigWatcher struct {
	configPath   string
	reload       func(ctx context.Context, cfg *config.Config) error
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	log          *slog.Logger
}

// NewConfigWatcher builds a watcher that calls reload with each successfully
// re-loaded configuration.
func NewConfigWatcher(configPath string, reload func(ctx context.Context, cfg *config.Config) error, log *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InternalError("create file watcher", err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, errors.InternalError("resolve config path", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &ConfigWatcher{
		configPath:   absPath,
		reload:       reload,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
		log:          log,
	}, nil
}

// Start begins monitoring.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return errors.InternalError("watch config directory", err)
	}
	cw.log.Info("watching configuration", slog.String("path", cw.configPath))
	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (cw *ConfigWatcher) Stop() {
	close(cw.stopChan)
	if err := cw.watcher.Close(); err != nil {
		cw.log.Warn("close file watcher", logfields.Error(err))
	}
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				cw.triggerReload()
			case event.Op&fsnotify.Remove != 0:
				cw.log.Warn("configuration file removed", slog.String("path", event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Error("config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cw.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cw.reloadChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					cw.log.Error("configuration reload failed", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
		// Reload already pending.
	}
}

func (cw *ConfigWatcher) performReload(ctx context.Context) error {
	cfg, err := config.Load(cw.configPath)
	if err != nil {
		return err
	}
	if err := cw.reload(ctx, cfg); err != nil {
		return err
	}
	cw.log.Info("configuration reloaded", slog.String("path", cw.configPath))
	return nil
}
