package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmguard/schedulerd/internal/config"
	"github.com/swarmguard/schedulerd/internal/control"
	"github.com/swarmguard/schedulerd/internal/event"
	"github.com/swarmguard/schedulerd/internal/instanceregistry"
	"github.com/swarmguard/schedulerd/internal/ledger"
	"github.com/swarmguard/schedulerd/internal/registry"
	"github.com/swarmguard/schedulerd/internal/taskmanager"
	"github.com/swarmguard/schedulerd/internal/telemetry"
)

var (
	startSchedulerName string
	startConfigFile    string
	startLogLevel      string
	startMode          string
	startResume        bool
	startWipe          bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "launch the scheduler daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	startCmd.Flags().StringVar(&startSchedulerName, "scheduler_name", "", "scheduler name")
	startCmd.Flags().StringVar(&startConfigFile, "config_file", "", "path of the config file")
	startCmd.Flags().StringVar(&startLogLevel, "log_level", "INFO", "log level")
	startCmd.Flags().StringVar(&startMode, "mode", "prod", "run mode (test / prod)")
	startCmd.Flags().BoolVar(&startResume, "resume", false, "resume running from last shutdown")
	startCmd.Flags().BoolVar(&startWipe, "wipe", false, "wipe database before starting")
	_ = startCmd.MarkFlagRequired("scheduler_name")
}

// runStart loads configuration and registry, records this instance in the
// instance registry, and launches the task manager. It mirrors
// scheduler.py's start_func: the instance marker is created once the
// config is loaded and logging is set up, before the ledger, registry
// and control channel are opened, and removed in every exit path after
// that (try/finally there, defer here) so a failed launch never leaves a
// ghost instance (spec.md §7 propagation policy).
func runStart() error {
	configFile := startConfigFile
	if configFile == "" {
		return fmt.Errorf("--config_file is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.InitFileLogging(cfg.LogDirectory(), startSchedulerName, startResume)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger.Info("<< Starting Program >>")

	ir, err := instanceregistry.Open(instanceDir())
	if err != nil {
		return fmt.Errorf("open instance registry: %w", err)
	}
	if err := ir.Create(startSchedulerName, cfg.Path()); err != nil {
		return fmt.Errorf("register instance %s: %w", startSchedulerName, err)
	}
	defer func() {
		if err := ir.Remove(startSchedulerName); err != nil {
			logger.Warn("failed to remove instance marker", "error", err)
		}
	}()

	led, err := ledger.Open(cfg.DatabasePath(), startWipe)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	reg, err := registry.Load(cfg.RegistryPath())
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := event.NewQueue(256)

	listener, err := control.Listen(queue)
	if err != nil {
		return fmt.Errorf("bind control channel: %w", err)
	}
	defer listener.Close()

	if err := cfg.SetPort(listener.Port()); err != nil {
		return fmt.Errorf("persist control channel port: %w", err)
	}
	go listener.Serve(ctx)

	providers := telemetry.Init("schedulerd/taskmanager")
	defer providers.Shutdown()

	logger.Info("<< Initial Setup Complete >>")

	referenceTime, resume, err := resolveReferenceTime(cfg, startResume)
	if err != nil {
		return fmt.Errorf("resolve reference time: %w", err)
	}

	logger.Info("<< Launching Task Manager >>")
	tm := taskmanager.New(reg, queue, led, cfg.LogDirectory(), cfg, providers)
	return tm.Launch(ctx, referenceTime, resume)
}

// resolveReferenceTime implements spec.md §4.6.2's launch/resume rule: if
// --resume was given and the config recorded a last_shutdown, that instant
// becomes the scheduling reference and resume is honored; otherwise the
// reference is now and last_shutdown is cleared, so a later --resume
// attempt against this same launch can't pick up a stale instant.
func resolveReferenceTime(cfg *config.Config, wantResume bool) (time.Time, bool, error) {
	if !wantResume {
		if err := cfg.ClearShutdown(); err != nil {
			return time.Time{}, false, err
		}
		return time.Now(), false, nil
	}
	lastShutdown, ok, err := cfg.LastShutdown()
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		if err := cfg.ClearShutdown(); err != nil {
			return time.Time{}, false, err
		}
		return time.Now(), false, nil
	}
	return lastShutdown, true, nil
}
