package research

import (
	"context"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

// CategoryGrundsatz groups official-document hits in the categorized
// source map. Web sources keep their aggregator categories.
const CategoryGrundsatz = "grundsatz"

// grundsatzSnippetChars bounds the excerpt shown per official chunk.
const grundsatzSnippetChars = 400

// aggregate deduplicates sources across sub-queries by canonical URL.
// The first producer fixes rank, title, and snippet; later duplicates
// only extend the category and sub-query lists, or upgrade the entry
// with full content when they carry one. Official documents go into
// their own category.
func (s *Service) aggregate(_ context.Context, st State) (*State, error) {
	first := st.answeredIndex()

	byKey := make(map[string]int)
	var sources []AggregatedSource

	add := func(sr SourceResult, subQuery string) {
		key := citations.CanonicalURL(sr.URL)
		if key == "" {
			key = sr.URL
		}
		category := sr.Category
		if category == "" {
			category = metasearch.CategoryGeneral
		}
		if i, ok := byKey[key]; ok {
			existing := &sources[i]
			existing.SubQueries = appendUnique(existing.SubQueries, subQuery)
			existing.Categories = appendUnique(existing.Categories, category)
			if sr.FullContent && !existing.FullContent {
				existing.Content = sr.Content
				existing.FullContent = true
			}
			return
		}
		byKey[key] = len(sources)
		sources = append(sources, AggregatedSource{
			Title:         sr.Title,
			URL:           sr.URL,
			Domain:        sr.Domain,
			Snippet:       sr.Snippet,
			Content:       sr.Content,
			FullContent:   sr.FullContent,
			Rank:          sr.Rank,
			Score:         sr.Score,
			PublishedDate: sr.PublishedDate,
			Kind:          citations.SourceWeb,
			Categories:    []string{category},
			SubQueries:    []string{subQuery},
		})
	}

	// The enriched list stands in for its sub-query's raw results.
	if first >= 0 {
		for _, sr := range st.EnrichedResults {
			add(sr, st.WebResults[first].SubQuery)
		}
	}
	for i, wr := range st.WebResults {
		if i == first {
			continue
		}
		for _, r := range wr.Results {
			add(SourceResult{Result: r}, wr.SubQuery)
		}
	}

	categorized := make(map[string][]AggregatedSource)
	for _, src := range sources {
		for _, cat := range src.Categories {
			categorized[cat] = append(categorized[cat], src)
		}
	}
	for i, gr := range st.GrundsatzResults {
		categorized[CategoryGrundsatz] = append(categorized[CategoryGrundsatz], grundsatzSource(gr, i+1))
	}

	return &State{AggregatedResults: sources, CategorizedSources: categorized}, nil
}

// grundsatzSource converts an official-document chunk into the
// aggregated shape.
func grundsatzSource(r search.Result, rank int) AggregatedSource {
	title := r.Title
	if title == "" {
		title = r.Filename
	}
	return AggregatedSource{
		Title:      title,
		Snippet:    capRunes(r.ChunkText, grundsatzSnippetChars),
		Rank:       rank,
		Score:      r.Score,
		Kind:       citations.SourceGrundsatz,
		DocumentID: r.DocumentID,
		Categories: []string{CategoryGrundsatz},
	}
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
