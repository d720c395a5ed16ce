// Package enrich assembles grounding context for a single user request.
// A request may link web pages, select owned documents and saved texts,
// and opt into a web search; four branches resolve those sources in
// parallel and merge into one State the prompt assembly consumes.
//
// Branches degrade independently: a failure is recorded per branch (or
// per item inside a branch) and never discards the other branches' work.
// Only cancellation and an invalid request abort.
package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/chunk"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

const (
	// maxDetectedURLs caps how many linked pages one request may pull in.
	maxDetectedURLs = 3

	// urlCrawlTimeout is generous because linked pages are explicit user
	// intent, unlike the research graph's speculative crawls.
	urlCrawlTimeout = 15 * time.Second

	crawlMaxBytes = 2 << 20

	// excerptLimit bounds the scoped hybrid search over large documents.
	excerptLimit = 5

	// webSourceLimit is how many search hits surface in the UI.
	webSourceLimit = 10

	// webSummaryMaxTokens bounds the search digest the model writes.
	webSummaryMaxTokens = 1000

	// Token budgets for formatted context blocks.
	defaultDocumentTokens = 6000
	defaultCrawlTokens    = 2000

	// webQueryMaxRunes keeps the meta-search query short; full messages
	// make poor search terms.
	webQueryMaxRunes = 200

	// wordsPerPage drives the page estimate in document headers.
	wordsPerPage = 300
)

// Request names the context sources of one user message.
type Request struct {
	// Owner scopes document and saved-text access. Required.
	Owner string `json:"owner"`

	// Message is the user's text. URLs are detected in it, and it is
	// the query for excerpt retrieval and web search.
	Message string `json:"message"`

	// DocumentIDs are the owner's selected documents.
	DocumentIDs []string `json:"document_ids,omitempty"`

	// SavedTextIDs are the owner's selected saved texts.
	SavedTextIDs []uint `json:"saved_text_ids,omitempty"`

	// WebSearch enables the web-search branch.
	WebSearch bool `json:"web_search,omitempty"`
}

// State is the merged grounding context of one request.
type State struct {
	// Documents holds formatted document contexts: selected documents
	// first (full text or excerpts), then crawled pages.
	Documents []ContextDocument `json:"documents"`

	// Knowledge holds the owner's decrypted saved texts.
	Knowledge []Knowledge `json:"knowledge"`

	// WebSummary is the model's digest of the web search, empty when
	// the branch was disabled or failed.
	WebSummary string `json:"web_summary,omitempty"`

	// WebSources lists the top search hits for display.
	WebSources []WebSource `json:"web_sources"`

	// ToolInstructions are prompt-assembly hints derived from which
	// context kinds are present.
	ToolInstructions []string `json:"tool_instructions"`

	// Errors lists the degraded branches and items.
	Errors []BranchError `json:"errors,omitempty"`
}

// Config wires an enrichment Service.
type Config struct {
	// DB serves document rows and saved texts. Required.
	DB *gorm.DB

	// Retriever reconstructs small documents and searches large ones.
	// Required.
	Retriever *search.Retriever

	// Crawler fetches linked pages. Required.
	Crawler *crawler.Crawler

	// Search runs the web-search branch. Nil disables it.
	Search *metasearch.Client

	// LLM writes the web-search summary. Nil keeps the sources without
	// a digest.
	LLM llm.Client

	// Encryption decrypts saved texts. Nil disables the knowledge
	// branch.
	Encryption *encryption.Service

	// Tokens budgets formatted context blocks. Nil takes the heuristic
	// counter.
	Tokens chunk.TokenCounter

	// DocumentTokens and CrawlTokens cap one formatted block. Zero
	// takes the defaults.
	DocumentTokens int
	CrawlTokens    int

	// Model overrides the LLM provider's default model.
	Model string

	Logger hclog.Logger
}

// Service enriches requests with grounding context.
type Service struct {
	db        *gorm.DB
	retriever *search.Retriever
	crawler   *crawler.Crawler
	search    *metasearch.Client
	llm       llm.Client
	crypt     *encryption.Service
	tokens    chunk.TokenCounter

	documentTokens int
	crawlTokens    int
	model          string

	logger hclog.Logger
}

// New wires a Service.
func New(cfg Config) (*Service, error) {
	const op = "enrich.New"

	if cfg.DB == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "database is required")
	}
	if cfg.Retriever == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "retriever is required")
	}
	if cfg.Crawler == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "crawler is required")
	}
	if cfg.Tokens == nil {
		cfg.Tokens = chunk.HeuristicCounter{}
	}
	if cfg.DocumentTokens <= 0 {
		cfg.DocumentTokens = defaultDocumentTokens
	}
	if cfg.CrawlTokens <= 0 {
		cfg.CrawlTokens = defaultCrawlTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Service{
		db:             cfg.DB,
		retriever:      cfg.Retriever,
		crawler:        cfg.Crawler,
		search:         cfg.Search,
		llm:            cfg.LLM,
		crypt:          cfg.Encryption,
		tokens:         cfg.Tokens,
		documentTokens: cfg.DocumentTokens,
		crawlTokens:    cfg.CrawlTokens,
		model:          cfg.Model,
		logger:         cfg.Logger.Named("enrich"),
	}, nil
}

// Enrich resolves the request's context sources in parallel and merges
// them. A cancelled context aborts; everything else degrades into
// State.Errors.
func (s *Service) Enrich(ctx context.Context, req Request) (*State, error) {
	const op = "enrich.Enrich"
	started := time.Now()

	req.Owner = strings.TrimSpace(req.Owner)
	if req.Owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}
	req.Message = strings.TrimSpace(req.Message)

	// Selected rows are fetched once up front: the documents branch
	// formats them and the URL branch dedupes against their source
	// URLs.
	rows, rowErrs := s.selectedDocuments(ctx, req.Owner, req.DocumentIDs)

	var (
		crawled   []ContextDocument
		crawlErrs []BranchError
		docs      []ContextDocument
		docErrs   []BranchError
		knowledge []Knowledge
		knowErrs  []BranchError
		webSum    string
		webSrc    []WebSource
		webErrs   []BranchError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		crawled, crawlErrs, err = s.crawlLinkedPages(gctx, req.Message, rows)
		return err
	})
	g.Go(func() error {
		var err error
		docs, docErrs, err = s.documentContexts(gctx, req.Owner, req.Message, rows)
		return err
	})
	g.Go(func() error {
		var err error
		knowledge, knowErrs, err = s.savedTexts(gctx, req.Owner, req.SavedTextIDs)
		return err
	})
	g.Go(func() error {
		if !req.WebSearch {
			return nil
		}
		var err error
		webSum, webSrc, webErrs, err = s.webSearch(gctx, req.Message)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(op, apperr.Cancelled, err)
	}

	st := &State{
		Documents:  append(docs, crawled...),
		Knowledge:  knowledge,
		WebSummary: webSum,
		WebSources: webSrc,
	}
	if st.Documents == nil {
		st.Documents = []ContextDocument{}
	}
	if st.Knowledge == nil {
		st.Knowledge = []Knowledge{}
	}
	if st.WebSources == nil {
		st.WebSources = []WebSource{}
	}
	st.Errors = append(st.Errors, crawlErrs...)
	st.Errors = append(st.Errors, rowErrs...)
	st.Errors = append(st.Errors, docErrs...)
	st.Errors = append(st.Errors, knowErrs...)
	st.Errors = append(st.Errors, webErrs...)
	st.ToolInstructions = instructions(st)

	s.logger.Info("request enriched",
		"owner", req.Owner,
		"documents", len(st.Documents),
		"knowledge", len(st.Knowledge),
		"web_sources", len(st.WebSources),
		"errors", len(st.Errors),
		"took", time.Since(started),
	)
	return st, nil
}

// selectedDocuments fetches the requested document rows in request
// order. Missing and foreign ids degrade per id.
func (s *Service) selectedDocuments(ctx context.Context, owner string, ids []string) ([]models.Document, []BranchError) {
	var (
		rows []models.Document
		errs []BranchError
	)
	for _, id := range ids {
		doc, err := models.GetDocumentForOwner(s.db.WithContext(ctx), owner, id)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				msg = "not found"
			}
			errs = append(errs, BranchError{
				Branch:  branchDocuments,
				Message: "document " + id + ": " + msg,
			})
			continue
		}
		rows = append(rows, *doc)
	}
	return rows, errs
}
