package commands

import (
	"fmt"
	"os"
	"strings"

	"git.home.luguber.info/inful/prefsd/internal/config"
	"git.home.luguber.info/inful/prefsd/internal/daemon"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/restore"
	"git.home.luguber.info/inful/prefsd/internal/store"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct{}

func (c *CheckCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if _, err := store.BuildBackendFromDSN(cfg.Storage.DSN); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid storage dsn").Build()
	}
	defaults, err := cfg.DefaultValues()
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "configuration ok: %d configured defaults\n", len(defaults))

	if cfg.Restore.DefaultsFile == "" {
		fmt.Fprintln(g.Out, "no default specification configured")
		return nil
	}
	doc, err := os.ReadFile(cfg.Restore.DefaultsFile)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "read default specification").
			WithContext("path", cfg.Restore.DefaultsFile).Build()
	}
	missing, err := restore.CheckDocument(string(doc), daemon.RecoverableTargets())
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid default specification").
			WithContext("path", cfg.Restore.DefaultsFile).Build()
	}
	if len(missing) > 0 {
		fmt.Fprintf(g.Out, "default specification ok, no entry for: %s\n", strings.Join(missing, ", "))
		return nil
	}
	fmt.Fprintln(g.Out, "default specification ok")
	return nil
}
