package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
)

// webSearch runs one general search for the message and asks the model
// for a short digest. A failed search drops the branch; a failed digest
// keeps the sources.
func (s *Service) webSearch(ctx context.Context, message string) (string, []WebSource, []BranchError, error) {
	if s.search == nil {
		return "", nil, []BranchError{{
			Branch:  branchWebSearch,
			Message: "web search not configured",
		}}, nil
	}
	query := searchQuery(message)
	if query == "" {
		return "", nil, []BranchError{{
			Branch:  branchWebSearch,
			Message: "no message text to search with",
		}}, nil
	}

	hits, err := s.search.Search(ctx, metasearch.Query{
		Query:      query,
		Categories: []string{metasearch.CategoryGeneral},
		MaxResults: webSourceLimit,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.Cancelled) {
			return "", nil, nil, err
		}
		return "", nil, []BranchError{{
			Branch:  branchWebSearch,
			Message: err.Error(),
		}}, nil
	}
	if len(hits) == 0 {
		return "", nil, nil, nil
	}

	sources := make([]WebSource, 0, webSourceLimit)
	for _, h := range hits {
		sources = append(sources, WebSource{
			Rank:    h.Rank,
			Title:   h.Title,
			URL:     h.URL,
			Domain:  h.Domain,
			Snippet: h.Snippet,
		})
		if len(sources) == webSourceLimit {
			break
		}
	}

	if s.llm == nil {
		return "", sources, nil, nil
	}
	result, err := s.llm.Complete(ctx, s.digestPrompt(query, sources), llm.Options{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   webSummaryMaxTokens,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.Cancelled) {
			return "", nil, nil, err
		}
		return "", sources, []BranchError{{
			Branch:  branchWebSearch,
			Message: "digest not generated: " + err.Error(),
		}}, nil
	}
	return strings.TrimSpace(result.Content), sources, nil, nil
}

func (s *Service) digestPrompt(query string, sources []WebSource) []llm.Message {
	var list strings.Builder
	for _, src := range sources {
		fmt.Fprintf(&list, "%d. %s (%s): %s\n", src.Rank, src.Title, src.Domain, src.Snippet)
	}

	system := "Du bist ein Rechercheassistent für Kommunalpolitik. Antworte sachlich und auf Deutsch."
	user := fmt.Sprintf(`Fasse die wichtigsten Erkenntnisse aus den folgenden Suchtreffern zusammen.

Suchanfrage: %s

%s
Regeln:
- Nenne hinter jeder Aussage die Domain der Quelle in Klammern.
- Erfinde keine Inhalte, die nicht in den Treffern stehen.
- Keine Einleitung, keine Überschrift.`, query, list.String())
	return llm.SystemAndUser(system, user)
}

// searchQuery shortens the message into a usable search query, cutting
// at a word boundary.
func searchQuery(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	runes := []rune(message)
	if len(runes) <= webQueryMaxRunes {
		return message
	}
	cut := runes[:webQueryMaxRunes]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			return string(cut[:i])
		}
	}
	return string(cut)
}
