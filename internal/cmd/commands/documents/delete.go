package documents

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
)

type DeleteCommand struct {
	*base.Command

	flagConfig string
	flagOwner  string
}

func (c *DeleteCommand) Synopsis() string {
	return "Delete documents and their chunks"
}

func (c *DeleteCommand) Help() string {
	return `Usage: gruenerator documents delete [options] <document-id> ...

  Delete the given documents. Chunks are removed from the vector index
  first, then the database rows; a deletion event is recorded for
  downstream consumers.` + c.Flags().Help()
}

func (c *DeleteCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("delete", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Owner id.",
	)

	return f
}

func (c *DeleteCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagOwner == "" {
		ui.Error("owner flag is required")
		return 1
	}
	ids := f.Args()
	if len(ids) == 0 {
		ui.Error("at least one document id is required")
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	inst, err := instance.New(ctx, cfg, c.Log, instance.Options{})
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing services: %v", err))
		return 1
	}
	defer inst.Close()

	if len(ids) == 1 {
		if err := inst.Documents.Delete(ctx, c.flagOwner, ids[0]); err != nil {
			ui.Error(fmt.Sprintf("error deleting document: %v", err))
			return 1
		}
		ui.Info(fmt.Sprintf("Deleted %s", ids[0]))
		return 0
	}

	result, err := inst.Documents.BulkDelete(ctx, c.flagOwner, ids)
	if err != nil {
		ui.Error(fmt.Sprintf("error deleting documents: %v", err))
		return 1
	}
	ui.Info(fmt.Sprintf("Deleted %d of %d documents", len(result.Deleted), len(ids)))
	for _, fail := range result.Errors {
		ui.Error(fmt.Sprintf("  %s: %s", fail.DocumentID, fail.Message))
	}
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}
