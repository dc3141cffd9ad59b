package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/appshell/cli"
	"github.com/grovetools/appshell/config"
	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/coordinator"
	"github.com/grovetools/appshell/internal/pidfile"
	"github.com/grovetools/appshell/internal/uiserver"
	"github.com/grovetools/appshell/internal/update"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/paths"
	"github.com/grovetools/appshell/pkg/profiling"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/grovetools/appshell/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// NewStartCmd returns the coordinator command.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator",
		Long: `Start the appshell coordinator in the foreground.

The coordinator spawns the database process, serves renderers on the
boundary socket and runs periodic update checks.

Examples:
  appshell start
  appshell start --listen 127.0.0.1:7420`,
		Args: cobra.NoArgs,
		RunE: runStart,
	}
	cmd.Flags().String("listen", "", "Renderer boundary: unix or host:port (overrides ui.listen)")
	return cmd
}

// boundary resolves the renderer boundary network and address.
func boundary(cfg *config.Config) (network, address string) {
	if cfg.UI.Listen == "" || cfg.UI.Listen == "unix" {
		return "unix", paths.SocketPath()
	}
	return "tcp", cfg.UI.Listen
}

func runStart(cmd *cobra.Command, args []string) error {
	span := profiling.Start("load config")
	cfg, err := cli.LoadConfig(cmd)
	span.Stop()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.UI.Listen = listen
	}
	logger := logging.NewLogger("appshell")

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create appshell directories: %w", err)
	}

	pidPath := paths.PidFilePath()
	if err := pidfile.Acquire(pidPath); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	span = profiling.Start("load settings")
	settings := state.NewStore(paths.SettingsPath(), nil)
	if err := settings.Load(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load settings")
	}
	span.Stop()

	bus := alert.NewBus(nil)
	fatal := make(chan *errors.AppError, 1)

	opts := cli.GetOptions(cmd)
	supervisor := coordinator.NewSupervisor(coordinator.SupervisorOptions{
		Command:  coordinator.DataCommand(opts.ConfigFile, cfg.Data.Debug || opts.Verbose, profiling.Enabled()),
		Settings: settings,
		Bus:      bus,
		OnFatal: func(err *errors.AppError) {
			fatal <- err
		},
	})

	updates := update.New(update.Options{
		Config:   cfg.Update,
		Version:  version.Version,
		Settings: settings,
		Bus:      bus,
	})

	router := coordinator.NewRouter(supervisor, updates, settings)
	hub := uiserver.New(router)
	alert.Forward(bus, hub)

	network, address := boundary(cfg)
	listener, err := hub.Listen(network, address)
	if err != nil {
		return err
	}

	span = profiling.Start("initialize database process")
	initialized := supervisor.Initialize(ctx)
	span.Stop()
	if !initialized {
		_ = listener.Close()
		return errors.New(errors.ErrCodeUninitialized, "Failed to start the database process.")
	}
	if err := updates.Start(ctx); err != nil {
		logger.WithError(err).Warn("Update checks disabled")
	}

	served := make(chan error, 1)
	go func() { served <- hub.Serve(listener) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	logger.WithFields(map[string]interface{}{"pid": os.Getpid(), "address": address}).Info("Coordinator started")

	var exitErr error
	select {
	case <-stop:
		logger.Info("Received stop signal")
	case err := <-served:
		if err != nil {
			exitErr = fmt.Errorf("renderer boundary error: %w", err)
		}
	case fatalErr := <-fatal:
		// Renderers see the failure before the shell goes away.
		_ = bus.Publish(protocol.AlertDBError, fatalErr, true, false)
		exitErr = fatalErr
	}

	updates.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Renderer boundary shutdown error")
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Database process shutdown error")
	}
	return exitErr
}
