package documents

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
)

type ListCommand struct {
	*base.Command

	flagConfig string
	flagOwner  string
	flagLimit  int
	flagOffset int
	flagJSON   bool
}

func (c *ListCommand) Synopsis() string {
	return "List an owner's documents"
}

func (c *ListCommand) Help() string {
	return `Usage: gruenerator documents list [options]

  List the owner's documents, newest first.` + c.Flags().Help()
}

func (c *ListCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("list", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Owner id.",
	)
	f.IntVar(
		&c.flagLimit, "limit", 50, "Maximum number of documents.",
	)
	f.IntVar(
		&c.flagOffset, "offset", 0, "Number of documents to skip.",
	)
	f.BoolVar(
		&c.flagJSON, "json", false, "Print the documents as JSON.",
	)

	return f
}

func (c *ListCommand) Run(args []string) int {
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

	docs, err := inst.Documents.List(ctx, c.flagOwner, c.flagLimit, c.flagOffset)
	if err != nil {
		ui.Error(fmt.Sprintf("error listing documents: %v", err))
		return 1
	}

	if c.flagJSON {
		out, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			ui.Error(fmt.Sprintf("error encoding documents: %v", err))
			return 1
		}
		ui.Output(string(out))
		return 0
	}

	if len(docs) == 0 {
		ui.Info("No documents.")
		return 0
	}
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Filename
		}
		ui.Output(fmt.Sprintf("%s  %-10s %-12s %s",
			d.ID, d.Status, d.SourceType, title))
	}
	return 0
}
