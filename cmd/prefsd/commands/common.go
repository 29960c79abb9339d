// Package commands implements the prefsd command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/prefsd/internal/config"
)

// Global carries state shared by all subcommands.
type Global struct {
	Out io.Writer
}

func NewGlobal() *Global {
	return &Global{Out: os.Stdout}
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"prefsd.yaml" env:"PREFSD_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`
	Server  string           `help:"Base URL of a running daemon" default:"http://127.0.0.1:8088" env:"PREFSD_SERVER"`

	Daemon  DaemonCmd  `cmd:"" help:"Run the preference daemon"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
	Check   CheckCmd   `cmd:"" help:"Validate the configuration and default specification"`
	Get     GetCmd     `cmd:"" help:"Read preference values from a running daemon"`
	Set     SetCmd     `cmd:"" help:"Change a preference on a running daemon"`
	Restore RestoreCmd `cmd:"" help:"Restore a preference to its default"`
	Sweep   SweepCmd   `cmd:"" help:"Run a consistency sweep over all recoverable preferences"`
	Status  StatusCmd  `cmd:"" help:"Show the storage mode of a running daemon"`
	Erase   EraseCmd   `cmd:"" help:"Request a partition erase on next boot"`
	History HistoryCmd `cmd:"" help:"Show journaled preference changes"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// SetupLogging replaces the default logger with one honoring the configured level and
// format. --verbose always wins over the configured level.
func SetupLogging(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.SlogLevel()}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
