package searchpolicy

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength caps expanded queries so aggregators and prompt
// budgets never see runaway strings.
const MaxQueryLength = 400

// yearPattern treats a recent year in the query as a date cue.
var yearPattern = regexp.MustCompile(`\b20[2-9]\d\b`)

// ExpandQuery appends the language's synonym expansions for every
// query word that has an entry, skipping terms already present and
// stopping before the length cap. The original query always survives,
// truncated at a word boundary if it alone exceeds the cap.
func (p *Policy) ExpandQuery(language, query string) string {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) > MaxQueryLength {
		query = truncateAtWord(query, MaxQueryLength)
	}
	if query == "" {
		return query
	}

	table := p.synonymTable(language)
	if table == nil {
		return query
	}

	present := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(query)) {
		present[field] = true
	}

	expanded := query
	for _, field := range strings.Fields(strings.ToLower(query)) {
		for _, synonym := range table[field] {
			lower := strings.ToLower(synonym)
			if present[lower] {
				continue
			}
			if utf8.RuneCountInString(expanded)+1+utf8.RuneCountInString(synonym) > MaxQueryLength {
				return expanded
			}
			expanded += " " + synonym
			present[lower] = true
		}
	}
	return expanded
}

func (p *Policy) synonymTable(language string) map[string][]string {
	language = strings.ToLower(language)
	for _, set := range p.Synonyms {
		if set.Language != language {
			continue
		}
		table := make(map[string][]string, len(set.Terms))
		for _, term := range set.Terms {
			table[term.Word] = term.Expand
		}
		return table
	}
	return nil
}

// IsPaywalled reports whether the URL's host is on the paywall list.
// Subdomains of listed domains count.
func (p *Policy) IsPaywalled(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Bare domains arrive without a scheme.
		host = strings.ToLower(strings.TrimSpace(rawURL))
	}
	host = strings.TrimPrefix(host, "www.")

	for _, domain := range p.PaywallDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// WantsNews reports whether the query carries a recency cue: a
// configured cue term or a recent year.
func (p *Policy) WantsNews(query string) bool {
	lower := strings.ToLower(query)
	if yearPattern.MatchString(lower) {
		return true
	}
	if p.News == nil {
		return false
	}
	for _, cue := range p.News.Cues {
		if containsTerm(lower, cue) {
			return true
		}
	}
	return false
}

// NewsTimeRange is the aggregator time range to use for news-routed
// queries.
func (p *Policy) NewsTimeRange() string {
	if p.News == nil || p.News.TimeRange == "" {
		return "month"
	}
	return p.News.TimeRange
}

// CategoryFor returns the first hinted category whose terms appear in
// the query, or "" when none match.
func (p *Policy) CategoryFor(query string) string {
	lower := strings.ToLower(query)
	for _, hint := range p.CategoryHints {
		for _, term := range hint.Terms {
			if containsTerm(lower, term) {
				return hint.Category
			}
		}
	}
	return ""
}

// containsTerm matches multi-word cues as substrings and single words
// as whole fields, so "neu" never fires inside "neubauten".
func containsTerm(lowerQuery, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(lowerQuery, term)
	}
	for _, field := range strings.Fields(lowerQuery) {
		if strings.Trim(field, ".,;:!?()\"'") == term {
			return true
		}
	}
	return false
}

func truncateAtWord(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
