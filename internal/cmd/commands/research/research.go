package research

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
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/research"
)

type Command struct {
	*base.Command

	flagConfig     string
	flagMode       string
	flagJSON       bool
	flagOpen       bool
	flagOwner      string
	flagLanguage   string
	flagMaxResults int
}

func (c *Command) Synopsis() string {
	return "Run a web research query"
}

func (c *Command) Help() string {
	return `Usage: gruenerator research [options] <query>

  Run a research query against the configured meta-search instance.
  Normal mode answers with a short cited summary; deep mode drafts a
  sectioned dossier from several sub-questions plus the official
  documents collection.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("research", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagMode, "mode", "normal", "Research mode: normal or deep.",
	)
	f.BoolVar(
		&c.flagJSON, "json", false, "Print the full result as JSON.",
	)
	f.BoolVar(
		&c.flagOpen, "open", false,
		"Open the top cited source in the default browser.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "Owner id recorded on the run.",
	)
	f.StringVar(
		&c.flagLanguage, "language", "", "Search language, e.g. de.",
	)
	f.IntVar(
		&c.flagMaxResults, "max-results", 0,
		"Results per sub-query. Zero uses the meta-search default.",
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
		ui.Output(c.Help())
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

	if inst.Research == nil {
		ui.Error("research needs a metasearch base URL and an LLM model in the config")
		return 1
	}

	result, err := inst.Research.Run(ctx, research.Request{
		Query: query,
		Mode:  research.Mode(c.flagMode),
		Owner: c.flagOwner,
		Options: research.Options{
			Language:   c.flagLanguage,
			MaxResults: c.flagMaxResults,
		},
	})
	if err != nil {
		ui.Error(fmt.Sprintf("research failed: %v", err))
		return 1
	}

	if c.flagJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			ui.Error(fmt.Sprintf("error encoding result: %v", err))
			return 1
		}
		ui.Output(string(out))
	} else {
		c.printText(result)
	}

	if c.flagOpen {
		if url := topSourceURL(result); url != "" {
			if err := openBrowser(url); err != nil {
				ui.Warn(fmt.Sprintf("could not open browser: %v", err))
			}
		} else {
			ui.Warn("no cited source to open")
		}
	}

	return 0
}

func (c *Command) printText(result *research.RunResult) {
	ui := c.UI

	switch {
	case result.Normal != nil:
		res := result.Normal
		if res.Summary != nil && res.Summary.Text != "" {
			ui.Output(res.Summary.Text)
			ui.Output("")
		}
		if len(res.CitationSources) > 0 {
			ui.Output("Sources:")
			for _, ref := range res.CitationSources {
				ui.Output(fmt.Sprintf("  [%d] %s - %s", ref.ID, ref.Title, ref.URL))
			}
		} else {
			for i, src := range res.Results {
				ui.Output(fmt.Sprintf("  %d. %s - %s", i+1, src.Title, src.URL))
			}
		}
	case result.Deep != nil:
		res := result.Deep
		if res.Dossier != "" {
			ui.Output(res.Dossier)
			ui.Output("")
		}
		if len(res.CitationSources) > 0 {
			ui.Output("Sources:")
			for _, ref := range res.CitationSources {
				ui.Output(fmt.Sprintf("  [%d] %s - %s", ref.ID, ref.Title, ref.URL))
			}
		}
	}
}

// topSourceURL picks the first cited source, falling back to the first
// raw result.
func topSourceURL(result *research.RunResult) string {
	switch {
	case result.Normal != nil:
		for _, ref := range result.Normal.CitationSources {
			if ref.URL != "" {
				return ref.URL
			}
		}
		for _, src := range result.Normal.Results {
			if src.URL != "" {
				return src.URL
			}
		}
	case result.Deep != nil:
		for _, ref := range result.Deep.CitationSources {
			if ref.URL != "" {
				return ref.URL
			}
		}
		for _, src := range result.Deep.Sources {
			if src.URL != "" {
				return src.URL
			}
		}
	}
	return ""
}
