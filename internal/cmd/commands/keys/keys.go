// Package keys manages the field-encryption master key: creation,
// passphrase-protected backups, and rotation.
package keys

import (
	"github.com/mitchellh/cli"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Manage the field-encryption master key"
}

func (c *Command) Help() string {
	return `Usage: gruenerator keys <subcommand> [options]

  This command groups subcommands for the saved-text encryption key.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}
