package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/prefsd/cmd/prefsd/commands"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("prefsd"),
		kong.Description("Device preference daemon"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	global := commands.NewGlobal()
	if err := ctx.Run(global, &cli); err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
	}
}
