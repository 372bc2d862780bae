package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/pulp/pulp-manager/internal/daemon"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/syncher"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"pulp-manager.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Daemon struct {
		Mode string `help:"Which halves to run: scheduler, worker or all" enum:"scheduler,worker,all" default:"all"`
	} `cmd:"" help:"Run the long-lived scheduler/worker process"`

	Sync struct {
		Server        string `arg:"" help:"Content server name (FQDN)"`
		Include       string `help:"Only sync repos matching this regex"`
		Exclude       string `help:"Skip repos matching this regex (wins over include)"`
		Upstream      string `help:"Mirror repo definitions from this server first"`
		MaxConcurrent int    `help:"Fan-out cap" default:"5"`
	} `cmd:"" help:"Sync every syncable repo on a server, in the foreground"`

	Register struct {
		Server    string `arg:"" help:"Content server name (FQDN)"`
		Include   string `help:"Only register definitions matching this regex"`
		Exclude   string `help:"Skip definitions matching this regex (wins over include)"`
		ConfigDir string `help:"Local definition directory (default: clone from Git)"`
	} `cmd:"" help:"Register repository definitions onto a server"`

	Reconcile struct {
		Server string `arg:"" help:"Content server name (FQDN)"`
	} `cmd:"" help:"Align stored bindings with what the server actually has"`

	Cancel struct {
		TaskID int64 `arg:"" help:"Task id to cancel"`
	} `cmd:"" help:"Cancel a task and its queued worker job"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch kctx.Command() {
	case "daemon":
		err = runDaemon(ctx, log)
	case "sync <server>":
		err = runSync(ctx, log)
	case "register <server>":
		err = runRegister(ctx, log)
	case "reconcile <server>":
		err = runReconcile(ctx, log)
	case "cancel <task-id>":
		err = runCancel(ctx, log)
	default:
		err = fmt.Errorf("unknown command %q", kctx.Command())
	}
	errors.NewCLIErrorAdapter(CLI.Verbose, log).HandleError(err)
}

func runDaemon(ctx context.Context, log *slog.Logger) error {
	d, err := daemon.New(CLI.Config, daemon.Mode(CLI.Daemon.Mode), log)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

func runSync(ctx context.Context, log *slog.Logger) error {
	core, err := buildCore(log)
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.sync.SyncRepos(ctx, syncher.SyncParams{
		ServerName:         CLI.Sync.Server,
		UpstreamName:       CLI.Sync.Upstream,
		RegexInclude:       CLI.Sync.Include,
		RegexExclude:       CLI.Sync.Exclude,
		MaxConcurrentSyncs: CLI.Sync.MaxConcurrent,
	})
	if err != nil {
		return err
	}
	log.Info("sync finished",
		slog.Int("selected", result.Selected),
		slog.Int("completed", result.Completed),
		slog.Int("failed", result.Failed),
		slog.Int("canceled", result.Canceled))
	return nil
}

func runRegister(ctx context.Context, log *slog.Logger) error {
	core, err := buildCore(log)
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.registrar.RegisterRepos(ctx,
		CLI.Register.Server, CLI.Register.Include, CLI.Register.Exclude, CLI.Register.ConfigDir)
	if err != nil {
		return err
	}
	log.Info("registration finished",
		slog.Int("registered", result.Registered), slog.Int("skipped", result.Skipped))
	return nil
}

func runReconcile(ctx context.Context, log *slog.Logger) error {
	core, err := buildCore(log)
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.recon.Reconcile(ctx, CLI.Reconcile.Server)
	if err != nil {
		return err
	}
	log.Info("reconcile finished",
		slog.Int("added", result.Added), slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted))
	return nil
}

func runCancel(ctx context.Context, log *slog.Logger) error {
	core, err := buildCore(log)
	if err != nil {
		return err
	}
	defer core.Close()

	task, err := core.jobs.ChangeTaskState(ctx, CLI.Cancel.TaskID, "canceled")
	if err != nil {
		return err
	}
	log.Info("task canceled", slog.Int64("task_id", task.ID),
		slog.String("state", task.State.String()))
	return nil
}
