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

type GetTextCommand struct {
	*base.Command

	flagConfig string
	flagOwner  string
	flagJSON   bool
}

func (c *GetTextCommand) Synopsis() string {
	return "Print a document's full text"
}

func (c *GetTextCommand) Help() string {
	return `Usage: gruenerator documents get-text [options] <document-id>

  Reassemble a document's full text from its indexed chunks and print
  it to stdout.` + c.Flags().Help()
}

func (c *GetTextCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("get-text", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Owner id.",
	)
	f.BoolVar(
		&c.flagJSON, "json", false, "Print the full record as JSON.",
	)

	return f
}

func (c *GetTextCommand) Run(args []string) int {
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
	if len(f.Args()) != 1 {
		ui.Error("exactly one document id is required")
		return 1
	}
	id := f.Args()[0]

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

	text, err := inst.Documents.GetFullText(ctx, c.flagOwner, id)
	if err != nil {
		ui.Error(fmt.Sprintf("error fetching document text: %v", err))
		return 1
	}

	if c.flagJSON {
		out, err := json.MarshalIndent(text, "", "  ")
		if err != nil {
			ui.Error(fmt.Sprintf("error encoding record: %v", err))
			return 1
		}
		ui.Output(string(out))
		return 0
	}

	ui.Output(text.FullText)
	return 0
}
