package search

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
	searchsvc "github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

type Command struct {
	*base.Command

	flagConfig     string
	flagOwner      string
	flagMode       string
	flagLimit      int
	flagCollection string
	flagSourceType string
	flagJSON       bool
}

func (c *Command) Synopsis() string {
	return "Search the ingested documents"
}

func (c *Command) Help() string {
	return `Usage: gruenerator search [options] <query>

  Search the owner's documents. Hybrid mode fuses semantic and keyword
  results; vector and text mode run a single branch.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("search", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Owner id to search for.",
	)
	f.StringVar(
		&c.flagMode, "mode", "", "Search mode: hybrid, vector, or text.",
	)
	f.IntVar(
		&c.flagLimit, "limit", 0, "Maximum number of results.",
	)
	f.StringVar(
		&c.flagCollection, "collection", "",
		"Override the default chunk collection.",
	)
	f.StringVar(
		&c.flagSourceType, "source-type", "",
		"Restrict to documents of one source type.",
	)
	f.BoolVar(
		&c.flagJSON, "json", false, "Print the full response as JSON.",
	)

	return f
}

func (c *Command) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	query := strings.TrimSpace(strings.Join(f.Args(), " "))
	if query == "" {
		ui.Error("a query is required")
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

	resp, err := inst.Retriever.Search(ctx, searchsvc.Query{
		Text:       query,
		Owner:      c.flagOwner,
		Collection: c.flagCollection,
		Mode:       searchsvc.Mode(c.flagMode),
		Limit:      c.flagLimit,
		SourceType: c.flagSourceType,
	})
	if err != nil {
		ui.Error(fmt.Sprintf("search failed: %v", err))
		return 1
	}

	if c.flagJSON {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			ui.Error(fmt.Sprintf("error encoding response: %v", err))
			return 1
		}
		ui.Output(string(out))
		return 0
	}

	if len(resp.Results) == 0 {
		ui.Info("No results.")
		return 0
	}
	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = r.Filename
		}
		ui.Output(fmt.Sprintf("%d. [%.3f] %s (%s, chunk %d)",
			i+1, r.Score, title, r.DocumentID, r.ChunkIndex))
		ui.Output(indent(snippet(r.ChunkText, 240), "   "))
	}
	ui.Output(fmt.Sprintf("\n%d results (%s, %s)",
		resp.Stats.Returned, resp.SearchType, resp.Stats.Took))
	return 0
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

func indent(text, prefix string) string {
	return prefix + strings.ReplaceAll(text, "\n", "\n"+prefix)
}
