package research

import (
	"fmt"
	"time"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

// SubQuerySearch holds one sub-query's web results. A failed search
// records its error here and leaves the other sub-queries untouched.
type SubQuerySearch struct {
	SubQuery string              `json:"sub_query"`
	Results  []metasearch.Result `json:"results"`
	Error    string              `json:"error,omitempty"`
}

// CrawlDecision is one URL picked for full-content retrieval.
type CrawlDecision struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Rank   int    `json:"rank"`
}

// SourceResult is a web hit, optionally upgraded with crawled full
// content. The embedded result keeps its original rank either way.
type SourceResult struct {
	metasearch.Result

	FullContent bool   `json:"full_content"`
	CrawlError  string `json:"crawl_error,omitempty"`
}

// AggregatedSource is one deduplicated source together with the
// sub-queries and categories that produced it. Rank is the rank of the
// first producer; later duplicates only extend the lists.
type AggregatedSource struct {
	Title         string               `json:"title"`
	URL           string               `json:"url,omitempty"`
	Domain        string               `json:"domain,omitempty"`
	Snippet       string               `json:"snippet,omitempty"`
	Content       string               `json:"content,omitempty"`
	FullContent   bool                 `json:"full_content,omitempty"`
	Rank          int                  `json:"rank"`
	Score         float64              `json:"score,omitempty"`
	PublishedDate *time.Time           `json:"published_date,omitempty"`
	Kind          citations.SourceKind `json:"kind"`
	DocumentID    string               `json:"document_id,omitempty"`
	Categories    []string             `json:"categories"`
	SubQueries    []string             `json:"sub_queries,omitempty"`
}

// Summary is the short answer of a normal run. Generated is false when
// the text was assembled from snippets because the LLM was
// unavailable.
type Summary struct {
	Text      string `json:"text"`
	Generated bool   `json:"generated"`
}

// Dossier is the long-form answer of a deep run. Text ends with the
// methodology section.
type Dossier struct {
	Text        string `json:"text"`
	Methodology string `json:"methodology"`
}

// NodeError records a node failure that degraded the run instead of
// aborting it.
type NodeError struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

// State accumulates a run's artefacts as the nodes execute. Nodes
// treat their input as read-only and return changes as a delta; merge
// folds deltas in with a fixed policy: scalars replace when set, maps
// merge shallowly, lists replace wholesale, and Errors append.
type State struct {
	Query      string `json:"query"`
	Mode       Mode   `json:"mode"`
	Owner      string `json:"owner,omitempty"`
	Language   string `json:"language,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`

	SubQueries         []string                      `json:"sub_queries,omitempty"`
	WebResults         []SubQuerySearch              `json:"web_results,omitempty"`
	CrawlDecisions     []CrawlDecision               `json:"crawl_decisions,omitempty"`
	EnrichedResults    []SourceResult                `json:"enriched_results,omitempty"`
	GrundsatzResults   []search.Result               `json:"grundsatz_results,omitempty"`
	AggregatedResults  []AggregatedSource            `json:"aggregated_results,omitempty"`
	CategorizedSources map[string][]AggregatedSource `json:"categorized_sources,omitempty"`
	ReferenceMap       citations.ReferenceMap        `json:"reference_map,omitempty"`
	Citations          []citations.Citation          `json:"citations,omitempty"`
	CitationSources    []citations.Reference         `json:"citation_sources,omitempty"`
	Summary            *Summary                      `json:"summary,omitempty"`
	Dossier            *Dossier                      `json:"dossier,omitempty"`
	Errors             []NodeError                   `json:"errors,omitempty"`

	startedAt time.Time
}

// merge folds a node's delta into the run state.
func (s *State) merge(d *State) {
	if d == nil {
		return
	}
	if d.Query != "" {
		s.Query = d.Query
	}
	if d.Mode != "" {
		s.Mode = d.Mode
	}
	if d.Owner != "" {
		s.Owner = d.Owner
	}
	if d.Language != "" {
		s.Language = d.Language
	}
	if d.MaxResults != 0 {
		s.MaxResults = d.MaxResults
	}
	if d.SubQueries != nil {
		s.SubQueries = d.SubQueries
	}
	if d.WebResults != nil {
		s.WebResults = d.WebResults
	}
	if d.CrawlDecisions != nil {
		s.CrawlDecisions = d.CrawlDecisions
	}
	if d.EnrichedResults != nil {
		s.EnrichedResults = d.EnrichedResults
	}
	if d.GrundsatzResults != nil {
		s.GrundsatzResults = d.GrundsatzResults
	}
	if d.AggregatedResults != nil {
		s.AggregatedResults = d.AggregatedResults
	}
	if d.CategorizedSources != nil {
		if s.CategorizedSources == nil {
			s.CategorizedSources = make(map[string][]AggregatedSource, len(d.CategorizedSources))
		}
		for k, v := range d.CategorizedSources {
			s.CategorizedSources[k] = v
		}
	}
	if d.ReferenceMap != nil {
		if s.ReferenceMap == nil {
			s.ReferenceMap = make(citations.ReferenceMap, len(d.ReferenceMap))
		}
		for k, v := range d.ReferenceMap {
			s.ReferenceMap[k] = v
		}
	}
	if d.Citations != nil {
		s.Citations = d.Citations
	}
	if d.CitationSources != nil {
		s.CitationSources = d.CitationSources
	}
	if d.Summary != nil {
		s.Summary = d.Summary
	}
	if d.Dossier != nil {
		s.Dossier = d.Dossier
	}
	s.Errors = append(s.Errors, d.Errors...)
}

// answeredIndex returns the first sub-query that produced results.
// That sub-query drives crawl decisions and enrichment.
func (s State) answeredIndex() int {
	for i, wr := range s.WebResults {
		if len(wr.Results) > 0 {
			return i
		}
	}
	return -1
}

// crawledPages counts sources that ended up with full content.
func (s State) crawledPages() int {
	n := 0
	for _, r := range s.EnrichedResults {
		if r.FullContent {
			n++
		}
	}
	return n
}

// webResultCount counts hits across all sub-queries.
func (s State) webResultCount() int {
	n := 0
	for _, wr := range s.WebResults {
		n += len(wr.Results)
	}
	return n
}

// metadata condenses the run for the result envelope.
func (s State) metadata() Metadata {
	m := Metadata{
		Mode:          s.Mode,
		SubQueryCount: len(s.SubQueries),
		ResultCount:   s.webResultCount(),
		CrawledPages:  s.crawledPages(),
		GrundsatzHits: len(s.GrundsatzResults),
		TookMS:        time.Since(s.startedAt).Milliseconds(),
	}
	for _, e := range s.Errors {
		m.Errors = append(m.Errors, fmt.Sprintf("%s: %s", e.Node, e.Message))
	}
	return m
}
