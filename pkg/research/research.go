// Package research runs staged web research for a political query.
// A run is a small graph of named nodes over a shared State: plan the
// sub-queries, fan out meta-search, pick pages worth crawling, enrich
// them with full content, and draft a cited answer. Normal mode yields
// a short summary, deep mode a sectioned dossier that additionally
// consults the shared official-documents collection.
//
// Node failures degrade the run instead of aborting it: each node
// records its errors in the state and the run still returns a result
// while any artefact was produced. Only invalid input and cancellation
// abort.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/searchpolicy"
)

// Mode selects the depth of a run.
type Mode string

const (
	// ModeNormal answers with a short cited summary.
	ModeNormal Mode = "normal"
	// ModeDeep answers with a sectioned dossier built from several
	// sub-questions plus the official-documents collection.
	ModeDeep Mode = "deep"
)

// Per-mode crawl budgets and timeouts. Deep runs afford more pages and
// give each fetch a little longer.
const (
	normalMaxCrawls    = 2
	deepMaxCrawls      = 5
	normalCrawlTimeout = 3 * time.Second
	deepCrawlTimeout   = 5 * time.Second

	// crawlMaxBytes caps one enrichment fetch.
	crawlMaxBytes = 2 << 20

	// maxSearchWorkers bounds in-flight meta-search calls.
	maxSearchWorkers = 8

	// grundsatzLimit caps hits from the official-documents collection.
	grundsatzLimit = 3
)

// Defaults for the shared official-documents collection. Deployments
// override them via Config.
const (
	DefaultGrundsatzCollection = "grundsatz_chunks"
	DefaultGrundsatzOwner      = "grundsatz"
)

// Options tunes a single run.
type Options struct {
	// Language is the search language, default "de".
	Language string `json:"language,omitempty"`

	// MaxResults caps results per sub-query. Zero takes the
	// meta-search default.
	MaxResults int `json:"max_results,omitempty"`
}

// Request describes one research task.
type Request struct {
	// Query is the user's research question. Required.
	Query string `json:"query"`

	// Mode defaults to ModeNormal.
	Mode Mode `json:"mode,omitempty"`

	// Owner identifies the requesting user. Carried for attribution
	// and logging; web research itself is not tenant-scoped.
	Owner string `json:"owner,omitempty"`

	Options Options `json:"options,omitempty"`
}

// Metadata reports how a run went. Errors lists the degraded branches;
// a run with errors still counts as success while any artefact was
// produced.
type Metadata struct {
	Mode          Mode     `json:"mode"`
	SubQueryCount int      `json:"sub_query_count"`
	ResultCount   int      `json:"result_count"`
	CrawledPages  int      `json:"crawled_pages"`
	GrundsatzHits int      `json:"grundsatz_hits,omitempty"`
	TookMS        int64    `json:"took_ms"`
	Errors        []string `json:"errors,omitempty"`
}

// NormalResult is the outcome of a normal-mode run.
type NormalResult struct {
	Status          string                `json:"status"`
	Query           string                `json:"query"`
	Results         []SourceResult        `json:"results"`
	Summary         *Summary              `json:"summary,omitempty"`
	Citations       []citations.Citation  `json:"citations,omitempty"`
	CitationSources []citations.Reference `json:"citation_sources,omitempty"`
	Metadata        Metadata              `json:"metadata"`
}

// DeepResult is the outcome of a deep-mode run.
type DeepResult struct {
	Status             string                        `json:"status"`
	Dossier            string                        `json:"dossier,omitempty"`
	ResearchQuestions  []string                      `json:"research_questions"`
	SearchResults      []SubQuerySearch              `json:"search_results"`
	Sources            []AggregatedSource            `json:"sources"`
	CategorizedSources map[string][]AggregatedSource `json:"categorized_sources"`
	GrundsatzResults   []search.Result               `json:"grundsatz_results,omitempty"`
	Citations          []citations.Citation          `json:"citations,omitempty"`
	CitationSources    []citations.Reference         `json:"citation_sources,omitempty"`
	Metadata           Metadata                      `json:"metadata"`
}

// RunResult carries the mode-shaped outcome of Run. Exactly one field
// is set.
type RunResult struct {
	Normal *NormalResult `json:"normal,omitempty"`
	Deep   *DeepResult   `json:"deep,omitempty"`
}

// Statuses reported on results. StatusSuccess means at least one
// primary artefact (summary, dossier, or a source) was produced.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config wires a research Service.
type Config struct {
	// Search is the meta-search client. Required.
	Search *metasearch.Client

	// Crawler fetches full page content for enrichment. Required.
	Crawler *crawler.Crawler

	// LLM drafts plans, crawl decisions, summaries, and dossiers.
	// Required.
	LLM llm.Client

	// Retriever serves the official-documents collection in deep
	// mode. Nil disables grundsatz search.
	Retriever *search.Retriever

	// Policy supplies query expansion, paywall, and news-routing
	// tables. Nil takes searchpolicy.Default().
	Policy *searchpolicy.Policy

	// Model overrides the LLM provider's default model.
	Model string

	// GrundsatzCollection and GrundsatzOwner locate the shared
	// official-documents collection.
	GrundsatzCollection string
	GrundsatzOwner      string

	Logger hclog.Logger
}

// Service executes research runs.
type Service struct {
	search    *metasearch.Client
	crawler   *crawler.Crawler
	llm       llm.Client
	retriever *search.Retriever
	policy    *searchpolicy.Policy

	model               string
	grundsatzCollection string
	grundsatzOwner      string

	logger hclog.Logger
}

// New wires a Service.
func New(cfg Config) (*Service, error) {
	const op = "research.New"

	if cfg.Search == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "meta-search client is required")
	}
	if cfg.Crawler == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "crawler is required")
	}
	if cfg.LLM == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "llm client is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = searchpolicy.Default()
	}
	if cfg.GrundsatzCollection == "" {
		cfg.GrundsatzCollection = DefaultGrundsatzCollection
	}
	if cfg.GrundsatzOwner == "" {
		cfg.GrundsatzOwner = DefaultGrundsatzOwner
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Service{
		search:              cfg.Search,
		crawler:             cfg.Crawler,
		llm:                 cfg.LLM,
		retriever:           cfg.Retriever,
		policy:              cfg.Policy,
		model:               cfg.Model,
		grundsatzCollection: cfg.GrundsatzCollection,
		grundsatzOwner:      cfg.GrundsatzOwner,
		logger:              cfg.Logger.Named("research"),
	}, nil
}

// Run executes one research task in the mode the request names.
func (s *Service) Run(ctx context.Context, req Request) (*RunResult, error) {
	const op = "research.Run"

	switch req.Mode {
	case ModeNormal, "":
		res, err := s.RunNormal(ctx, req)
		if err != nil {
			return nil, err
		}
		return &RunResult{Normal: res}, nil
	case ModeDeep:
		res, err := s.RunDeep(ctx, req)
		if err != nil {
			return nil, err
		}
		return &RunResult{Deep: res}, nil
	default:
		return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unknown mode %q", req.Mode))
	}
}

// RunNormal answers a query with a short cited summary over web
// sources.
func (s *Service) RunNormal(ctx context.Context, req Request) (*NormalResult, error) {
	const op = "research.RunNormal"

	req.Mode = ModeNormal
	st, err := s.execute(ctx, op, req)
	if err != nil {
		return nil, err
	}

	res := &NormalResult{
		Query:           req.Query,
		Results:         st.EnrichedResults,
		Summary:         st.Summary,
		Citations:       st.Citations,
		CitationSources: st.CitationSources,
		Metadata:        st.metadata(),
	}
	if res.Results == nil {
		res.Results = []SourceResult{}
	}
	res.Status = StatusError
	if res.Summary != nil || len(res.Results) > 0 {
		res.Status = StatusSuccess
	}
	s.logRun(req, res.Status, len(res.Results), st)
	return res, nil
}

// RunDeep answers a query with a sectioned dossier built from several
// sub-questions, crawled sources, and the official-documents
// collection.
func (s *Service) RunDeep(ctx context.Context, req Request) (*DeepResult, error) {
	const op = "research.RunDeep"

	req.Mode = ModeDeep
	st, err := s.execute(ctx, op, req)
	if err != nil {
		return nil, err
	}

	res := &DeepResult{
		ResearchQuestions:  st.SubQueries,
		SearchResults:      st.WebResults,
		Sources:            st.AggregatedResults,
		CategorizedSources: st.CategorizedSources,
		GrundsatzResults:   st.GrundsatzResults,
		Citations:          st.Citations,
		CitationSources:    st.CitationSources,
		Metadata:           st.metadata(),
	}
	if st.Dossier != nil {
		res.Dossier = st.Dossier.Text
	}
	if res.Sources == nil {
		res.Sources = []AggregatedSource{}
	}
	if res.CategorizedSources == nil {
		res.CategorizedSources = map[string][]AggregatedSource{}
	}
	res.Status = StatusError
	if res.Dossier != "" || len(res.Sources) > 0 || len(res.GrundsatzResults) > 0 {
		res.Status = StatusSuccess
	}
	s.logRun(req, res.Status, len(res.Sources), st)
	return res, nil
}

// execute validates the request, builds the mode's graph, and runs it.
func (s *Service) execute(ctx context.Context, op string, req Request) (State, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return State{}, apperr.New(op, apperr.InvalidInput, "query is required")
	}
	if req.Options.Language == "" {
		req.Options.Language = "de"
	}

	g, err := newGraph(s.logger, s.nodesFor(req.Mode))
	if err != nil {
		return State{}, err
	}

	initial := State{
		Query:      req.Query,
		Mode:       req.Mode,
		Owner:      req.Owner,
		Language:   req.Options.Language,
		MaxResults: req.Options.MaxResults,
		startedAt:  time.Now(),
	}
	return g.execute(ctx, initial)
}

// nodesFor wires the graph edges of one mode. In deep mode web search
// and grundsatz search share a stage and run concurrently.
func (s *Service) nodesFor(mode Mode) []node {
	switch mode {
	case ModeDeep:
		return []node{
			{name: nodePlanner, run: s.plan},
			{name: nodeWebSearch, after: []string{nodePlanner}, run: s.webSearch},
			{name: nodeGrundsatz, after: []string{nodePlanner}, run: s.grundsatzSearch},
			{name: nodeCrawlDecision, after: []string{nodeWebSearch}, run: s.decideCrawls},
			{name: nodeEnricher, after: []string{nodeCrawlDecision}, run: s.enrichSources},
			{name: nodeAggregator, after: []string{nodeEnricher, nodeGrundsatz}, run: s.aggregate},
			{name: nodeDossier, after: []string{nodeAggregator}, run: s.writeDossier},
		}
	default:
		return []node{
			{name: nodePlanner, run: s.plan},
			{name: nodeWebSearch, after: []string{nodePlanner}, run: s.webSearch},
			{name: nodeCrawlDecision, after: []string{nodeWebSearch}, run: s.decideCrawls},
			{name: nodeEnricher, after: []string{nodeCrawlDecision}, run: s.enrichSources},
			{name: nodeSummariser, after: []string{nodeEnricher}, run: s.summarise},
		}
	}
}

func (s *Service) logRun(req Request, status string, sources int, st State) {
	s.logger.Info("research run finished",
		"mode", req.Mode,
		"owner", req.Owner,
		"status", status,
		"sub_queries", len(st.SubQueries),
		"sources", sources,
		"crawled", st.crawledPages(),
		"errors", len(st.Errors),
		"took", time.Since(st.startedAt),
	)
}
