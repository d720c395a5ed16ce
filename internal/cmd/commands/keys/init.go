package keys

import (
	"flag"
	"fmt"

	"github.com/spf13/afero"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
)

type InitCommand struct {
	*base.Command

	flagConfig string
}

func (c *InitCommand) Synopsis() string {
	return "Create the master key file"
}

func (c *InitCommand) Help() string {
	return `Usage: gruenerator keys init [options]

  Generate a fresh master key and write it to the configured key path
  with 0600 permissions. Fails if the file already exists.` + c.Flags().Help()
}

func (c *InitCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("init", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)

	return f
}

func (c *InitCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	store := encryption.NewKeyStore(afero.NewOsFs(), cfg.Encryption.KeyPath)
	if _, err := store.Generate(); err != nil {
		ui.Error(fmt.Sprintf("error generating key: %v", err))
		return 1
	}

	ui.Info(fmt.Sprintf("Master key written to %s", store.Path()))
	ui.Warn("Back it up now with `gruenerator keys backup`; losing the key loses every saved text.")
	return 0
}
