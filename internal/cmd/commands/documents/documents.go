package documents

import (
	"github.com/mitchellh/cli"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Manage ingested documents"
}

func (c *Command) Help() string {
	return `Usage: gruenerator documents <subcommand> [options] [args]

  This command groups subcommands for working with ingested documents.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}
