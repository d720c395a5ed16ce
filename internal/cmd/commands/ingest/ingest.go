package ingest

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
	ingestsvc "github.com/netzbegruenung/Gruenerator-sub005/pkg/ingest"
)

type Command struct {
	*base.Command

	flagConfig     string
	flagOwner      string
	flagFile       string
	flagURL        string
	flagText       bool
	flagTitle      string
	flagSourceType string
	flagDocumentID string
	flagJSON       bool
}

func (c *Command) Synopsis() string {
	return "Ingest a document into the knowledge base"
}

func (c *Command) Help() string {
	return `Usage: gruenerator ingest [options]

  Ingest one document: a file upload (-file), a web page (-url), or
  raw text read from stdin (-text). The document is extracted,
  chunked, embedded, and indexed for the given owner.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("ingest", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Owner id of the document.",
	)
	f.StringVar(
		&c.flagFile, "file", "", "Path of a file to ingest.",
	)
	f.StringVar(
		&c.flagURL, "url", "", "Web page to crawl and ingest.",
	)
	f.BoolVar(
		&c.flagText, "text", false, "Read raw text from stdin.",
	)
	f.StringVar(
		&c.flagTitle, "title", "", "Display title of the document.",
	)
	f.StringVar(
		&c.flagSourceType, "source-type", "",
		"Override the inferred source type, e.g. grundsatz.",
	)
	f.StringVar(
		&c.flagDocumentID, "document-id", "",
		"Re-ingest an existing document in place.",
	)
	f.BoolVar(
		&c.flagJSON, "json", false, "Print the receipt as JSON.",
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

	if c.flagOwner == "" {
		ui.Error("owner flag is required")
		return 1
	}
	sources := 0
	for _, set := range []bool{c.flagFile != "", c.flagURL != "", c.flagText} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		ui.Error("exactly one of -file, -url, or -text is required")
		return 1
	}

	req := ingestsvc.Request{
		Owner:      c.flagOwner,
		Title:      c.flagTitle,
		SourceType: c.flagSourceType,
		DocumentID: c.flagDocumentID,
	}
	switch {
	case c.flagFile != "":
		data, err := os.ReadFile(c.flagFile)
		if err != nil {
			ui.Error(fmt.Sprintf("error reading file: %v", err))
			return 1
		}
		req.Source.Bytes = data
		req.Filename = filepath.Base(c.flagFile)
	case c.flagURL != "":
		req.Source.CrawlURL = c.flagURL
	case c.flagText:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			ui.Error(fmt.Sprintf("error reading stdin: %v", err))
			return 1
		}
		req.Source.RawText = string(data)
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

	receipt, err := inst.Ingest.Ingest(ctx, req)
	if err != nil {
		ui.Error(fmt.Sprintf("ingestion failed: %v", err))
		return 1
	}

	if c.flagJSON {
		out, err := json.MarshalIndent(receipt, "", "  ")
		if err != nil {
			ui.Error(fmt.Sprintf("error encoding receipt: %v", err))
			return 1
		}
		ui.Output(string(out))
		return 0
	}

	ui.Info(fmt.Sprintf("Ingested %q as %s", receipt.Title, receipt.DocumentID))
	ui.Info(fmt.Sprintf("  source type: %s", receipt.SourceType))
	ui.Info(fmt.Sprintf("  chunks: %d, vectors: %d", receipt.ChunkCount, receipt.VectorCount))
	return 0
}
