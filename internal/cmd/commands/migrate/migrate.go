// Package migrate exposes schema migrations as CLI subcommands.
package migrate

import (
	"flag"
	"fmt"

	"github.com/mitchellh/cli"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/config"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/migrate"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/database"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Manage the database schema"
}

func (c *Command) Help() string {
	return `Usage: gruenerator migrate <subcommand> [options]

  This command groups the schema migration subcommands.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}

// connect loads the config and opens the database for one migration
// subcommand.
func connect(b *base.Command, configPath string) (*gorm.DB, *config.Config, error) {
	cfg, err := b.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Connect(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		Path:     cfg.Database.Path,
	}, b.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return db, cfg, nil
}

type UpCommand struct {
	*base.Command

	flagConfig string
}

func (c *UpCommand) Synopsis() string {
	return "Apply all pending migrations"
}

func (c *UpCommand) Help() string {
	return `Usage: gruenerator migrate up [options]

  Apply all pending schema migrations.` + c.Flags().Help()
}

func (c *UpCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("up", flag.ExitOnError))
	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	return f
}

func (c *UpCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	db, cfg, err := connect(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	sqlDB, err := db.DB()
	if err != nil {
		ui.Error(fmt.Sprintf("error getting database handle: %v", err))
		return 1
	}

	if err := migrate.RunMigrations(sqlDB, cfg.Database.Driver); err != nil {
		ui.Error(fmt.Sprintf("error running migrations: %v", err))
		return 1
	}
	ui.Info("Migrations applied.")
	return 0
}

type DownCommand struct {
	*base.Command

	flagConfig string
}

func (c *DownCommand) Synopsis() string {
	return "Roll back the most recent migration"
}

func (c *DownCommand) Help() string {
	return `Usage: gruenerator migrate down [options]

  Roll back the most recently applied migration.` + c.Flags().Help()
}

func (c *DownCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("down", flag.ExitOnError))
	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	return f
}

func (c *DownCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	db, cfg, err := connect(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	sqlDB, err := db.DB()
	if err != nil {
		ui.Error(fmt.Sprintf("error getting database handle: %v", err))
		return 1
	}

	if err := migrate.RollbackLast(sqlDB, cfg.Database.Driver); err != nil {
		ui.Error(fmt.Sprintf("error rolling back migration: %v", err))
		return 1
	}
	ui.Info("Rolled back one migration.")
	return 0
}

type StatusCommand struct {
	*base.Command

	flagConfig string
}

func (c *StatusCommand) Synopsis() string {
	return "Show the current schema version"
}

func (c *StatusCommand) Help() string {
	return `Usage: gruenerator migrate status [options]

  Print the current schema version and whether it is dirty.` + c.Flags().Help()
}

func (c *StatusCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("status", flag.ExitOnError))
	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	return f
}

func (c *StatusCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	db, cfg, err := connect(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	sqlDB, err := db.DB()
	if err != nil {
		ui.Error(fmt.Sprintf("error getting database handle: %v", err))
		return 1
	}

	version, dirty, err := migrate.Version(sqlDB, cfg.Database.Driver)
	if err != nil {
		ui.Error(fmt.Sprintf("error reading schema version: %v", err))
		return 1
	}
	if version == 0 {
		ui.Info("No migrations applied.")
		return 0
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	ui.Info(fmt.Sprintf("Schema version %d (%s)", version, state))
	return 0
}
