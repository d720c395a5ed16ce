// Package base carries the pieces every CLI command shares: the UI,
// the logger, and config loading.
package base

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/config"
)

// Command is embedded by all CLI commands.
type Command struct {
	// UI is the command-line UI for input and output.
	UI cli.Ui

	// Log is the process logger. Commands derive named sub-loggers
	// from it.
	Log hclog.Logger
}

// NewCommand returns a new base command.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		UI:  ui,
		Log: log,
	}
}

// LoadConfig reads the config file at path, or returns the zero-config
// development defaults when path is empty. The process log level
// follows the config.
func (c *Command) LoadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.DevDefault()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}
	if level := hclog.LevelFromString(cfg.LogLevel); level != hclog.NoLevel {
		c.Log.SetLevel(level)
	}
	return cfg, nil
}
