package research

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
)

const (
	// Source budget for the summary prompt.
	summaryFullSources    = 3
	summarySnippetSources = 5

	// summaryMaxChars caps the answer length. Overshooting replies are
	// truncated at the last sentence end within the cap.
	summaryMaxChars = 800

	// Paragraph selection from crawled pages.
	paragraphMaxChars   = 400
	paragraphsPerSource = 2
	minParagraphChars   = 60
)

// summarise drafts the short cited answer of a normal run from the
// top full-content sources plus a few snippets. When the LLM is
// unavailable the node falls back to a plain snippet digest so a
// degraded run still answers.
func (s *Service) summarise(ctx context.Context, st State) (*State, error) {
	full, snips := partitionSources(st.EnrichedResults)
	if len(full)+len(snips) == 0 {
		return &State{}, nil
	}

	candidates := make([]citations.Candidate, 0, len(full)+len(snips))
	for _, src := range full {
		candidates = append(candidates, citations.Candidate{
			Title:    src.Title,
			URL:      src.URL,
			Kind:     citations.SourceWeb,
			Primary:  true,
			Snippets: relevantParagraphs(src.Content, st.Query),
			Score:    src.Score,
		})
	}
	for _, src := range snips {
		candidates = append(candidates, citations.Candidate{
			Title:    src.Title,
			URL:      src.URL,
			Kind:     citations.SourceWeb,
			Snippets: []string{src.Snippet},
			Score:    src.Score,
		})
	}
	refs := citations.BuildReferenceMap(candidates, citations.Limits{})

	res, err := s.llm.Complete(ctx, s.summaryPrompt(st.Query, refs), llm.Options{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   350,
	})
	if err != nil {
		if apperr.Aborts(err) {
			return nil, err
		}
		return &State{
			ReferenceMap: refs,
			Summary:      fallbackSummary(st.EnrichedResults),
			Errors: []NodeError{{
				Node:    nodeSummariser,
				Message: fmt.Sprintf("snippet digest instead of generated summary: %v", err),
			}},
		}, nil
	}

	draft := truncateAtSentence(strings.TrimSpace(res.Content), summaryMaxChars)
	v := citations.ValidateAndInject(draft, refs)

	delta := &State{
		ReferenceMap:    refs,
		Summary:         &Summary{Text: v.CleanDraft, Generated: true},
		Citations:       v.Citations,
		CitationSources: v.Sources,
	}
	for _, msg := range v.Errors {
		delta.Errors = append(delta.Errors, NodeError{Node: nodeSummariser, Message: msg})
	}
	return delta, nil
}

func (s *Service) summaryPrompt(query string, refs citations.ReferenceMap) []llm.Message {
	system := "Du bist ein Rechercheassistent für Kommunalpolitik. Antworte sachlich und auf Deutsch."
	user := fmt.Sprintf(`Beantworte die Frage in höchstens %d Zeichen auf Basis der nummerierten Quellen.

Frage: %s

%s

Regeln:
- Belege jede Kernaussage mit einem Quellenverweis [n] direkt hinter der Aussage.
- Verwende nur die nummerierten Quellen; erfinde keine Verweise.
- Keine Einleitung, keine Überschrift.`, summaryMaxChars, query, citations.FormatForPrompt(refs))
	return llm.SystemAndUser(system, user)
}

// partitionSources splits the enriched hit list into the full-content
// sources to quote from and the snippet-only fillers, both in rank
// order and capped by the prompt budget.
func partitionSources(results []SourceResult) (full, snips []SourceResult) {
	for _, r := range results {
		if r.FullContent && len(full) < summaryFullSources {
			full = append(full, r)
			continue
		}
		if r.Snippet != "" && len(snips) < summarySnippetSources {
			snips = append(snips, r)
		}
	}
	return full, snips
}

// relevantParagraphs picks the paragraphs of a crawled page that
// overlap the query's terms the most, each clipped for the prompt.
// Pages without any term overlap contribute their first substantial
// paragraph.
func relevantParagraphs(content, query string) []string {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil
	}

	terms := queryTerms(query)
	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, 0, len(paragraphs))
	for i, p := range paragraphs {
		lower := strings.ToLower(p)
		score := 0
		for _, t := range terms {
			score += strings.Count(lower, t)
		}
		ranked = append(ranked, scored{index: i, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for _, r := range ranked {
		if r.score == 0 {
			break
		}
		out = append(out, clip(paragraphs[r.index], paragraphMaxChars))
		if len(out) == paragraphsPerSource {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, clip(paragraphs[0], paragraphMaxChars))
	}
	return out
}

// splitParagraphs breaks page text on blank lines, dropping headings
// and fragments too short to quote.
func splitParagraphs(content string) []string {
	var out []string
	for _, block := range strings.Split(content, "\n\n") {
		p := strings.TrimSpace(block)
		if len([]rune(p)) < minParagraphChars {
			continue
		}
		out = append(out, p)
	}
	return out
}

// queryTerms tokenizes the query for overlap scoring. Short function
// words carry no signal and are dropped.
func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,;:!?()\"'")
		if len([]rune(f)) < 4 {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// fallbackSummary assembles a plain digest from the top snippets.
func fallbackSummary(results []SourceResult) *Summary {
	var lines []string
	for _, r := range results {
		text := r.Snippet
		if text == "" && r.Content != "" {
			if ps := splitParagraphs(r.Content); len(ps) > 0 {
				text = ps[0]
			}
		}
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", r.Title, clip(text, paragraphMaxChars)))
		if len(lines) == summaryFullSources {
			break
		}
	}
	return &Summary{Text: strings.Join(lines, "\n\n"), Generated: false}
}

// truncateAtSentence cuts an overlong draft at the last sentence end
// within the limit, falling back to a word cut.
func truncateAtSentence(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := runes[:max]
	for i := len(cut) - 1; i > 0; i-- {
		switch cut[i] {
		case '.', '!', '?':
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}
	return clip(s, max)
}

// clip cuts at a word boundary and marks the cut.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
