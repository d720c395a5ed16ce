package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/documents"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/ingest"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/keys"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/migrate"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/research"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/search"
	versioncmd "github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/version"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/commands/worker"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"research": func() (cli.Command, error) {
			return &research.Command{Command: baseCommand}, nil
		},
		"ingest": func() (cli.Command, error) {
			return &ingest.Command{Command: baseCommand}, nil
		},
		"search": func() (cli.Command, error) {
			return &search.Command{Command: baseCommand}, nil
		},
		"documents": func() (cli.Command, error) {
			return &documents.Command{Command: baseCommand}, nil
		},
		"documents list": func() (cli.Command, error) {
			return &documents.ListCommand{Command: baseCommand}, nil
		},
		"documents get-text": func() (cli.Command, error) {
			return &documents.GetTextCommand{Command: baseCommand}, nil
		},
		"documents delete": func() (cli.Command, error) {
			return &documents.DeleteCommand{Command: baseCommand}, nil
		},
		"worker": func() (cli.Command, error) {
			return &worker.Command{Command: baseCommand}, nil
		},
		"keys": func() (cli.Command, error) {
			return &keys.Command{Command: baseCommand}, nil
		},
		"keys init": func() (cli.Command, error) {
			return &keys.InitCommand{Command: baseCommand}, nil
		},
		"keys backup": func() (cli.Command, error) {
			return &keys.BackupCommand{Command: baseCommand}, nil
		},
		"keys restore": func() (cli.Command, error) {
			return &keys.RestoreCommand{Command: baseCommand}, nil
		},
		"keys rotate": func() (cli.Command, error) {
			return &keys.RotateCommand{Command: baseCommand}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &migrate.Command{Command: baseCommand}, nil
		},
		"migrate up": func() (cli.Command, error) {
			return &migrate.UpCommand{Command: baseCommand}, nil
		},
		"migrate down": func() (cli.Command, error) {
			return &migrate.DownCommand{Command: baseCommand}, nil
		},
		"migrate status": func() (cli.Command, error) {
			return &migrate.StatusCommand{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &versioncmd.Command{Command: baseCommand}, nil
		},
	}
}
