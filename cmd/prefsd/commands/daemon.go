package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/prefsd/internal/config"
	"git.home.luguber.info/inful/prefsd/internal/daemon"
	"git.home.luguber.info/inful/prefsd/internal/version"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Listen string `short:"l" help:"Override service.listen"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if d.Listen != "" {
		cfg.Service.Listen = d.Listen
	}
	SetupLogging(cfg.Logging, root.Verbose, os.Stderr)
	return RunDaemon(cfg)
}

func RunDaemon(cfg *config.Config) error {
	slog.Info("Starting prefsd", slog.String("version", version.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	slog.Info("Daemon started, waiting for shutdown signal...", slog.String("addr", d.Addr()))
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}
