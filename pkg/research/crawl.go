package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
)

// contentCharCap bounds the full content kept per enriched source.
// Paragraph selection for drafting never needs more.
const contentCharCap = 8000

// decideCrawls picks which hits of the first answered sub-query are
// worth a full fetch. The LLM chooses up to the mode's budget by rank;
// on an unusable reply the top-ranked hits are taken instead. Known
// paywalled domains never reach the prompt.
func (s *Service) decideCrawls(ctx context.Context, st State) (*State, error) {
	first := st.answeredIndex()
	if first < 0 {
		return &State{}, nil
	}

	var eligible []metasearch.Result
	for _, r := range st.WebResults[first].Results {
		if s.policy.IsPaywalled(r.URL) {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return &State{}, nil
	}

	limit := normalMaxCrawls
	if st.Mode == ModeDeep {
		limit = deepMaxCrawls
	}

	decisions, err := s.crawlChoices(ctx, st.Query, eligible, limit)
	if err != nil {
		if apperr.Aborts(err) {
			return nil, err
		}
		return &State{
			CrawlDecisions: topByRank(eligible, limit),
			Errors: []NodeError{{
				Node:    nodeCrawlDecision,
				Message: fmt.Sprintf("using rank order: %v", err),
			}},
		}, nil
	}
	return &State{CrawlDecisions: decisions}, nil
}

// crawlChoices prompts the LLM with the result snippets. The model
// answers by rank, which keeps URL handling on our side.
func (s *Service) crawlChoices(ctx context.Context, query string, hits []metasearch.Result, limit int) ([]CrawlDecision, error) {
	const op = "research.crawlChoices"

	var list strings.Builder
	for _, r := range hits {
		fmt.Fprintf(&list, "%d. %s | %s | %s\n", r.Rank, r.Title, r.Domain, r.Snippet)
	}

	system := "Du wählst Webquellen für eine politische Recherche aus. Antworte ausschließlich mit JSON."
	user := fmt.Sprintf(`Recherchefrage: %s

Suchergebnisse:
%s
Wähle bis zu %d Treffer, deren vollständiger Inhalt die Frage am besten beantwortet. Bevorzuge Primärquellen und aktuelle Seiten.
Antworte als JSON: {"crawl": [{"rank": 1, "reason": "..."}]}`, query, list.String(), limit)

	res, err := s.llm.Complete(ctx, llm.SystemAndUser(system, user), llm.Options{
		Model:       s.model,
		Temperature: 0.2,
		MaxTokens:   300,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	picks, err := decodeCrawlPicks(res.Content)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	byRank := make(map[int]metasearch.Result, len(hits))
	for _, r := range hits {
		byRank[r.Rank] = r
	}

	seen := make(map[int]bool, len(picks))
	var decisions []CrawlDecision
	for _, p := range picks {
		hit, ok := byRank[p.Rank]
		if !ok || seen[p.Rank] {
			continue
		}
		seen[p.Rank] = true
		decisions = append(decisions, CrawlDecision{URL: hit.URL, Reason: p.Reason, Rank: hit.Rank})
		if len(decisions) == limit {
			break
		}
	}
	if len(decisions) == 0 {
		return nil, apperr.New(op, apperr.Permanent, "model picked no known result")
	}
	return decisions, nil
}

type crawlPick struct {
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
}

// decodeCrawlPicks parses the decision reply. It accepts
// {"crawl": [...]} or a bare array, of either pick objects or plain
// rank numbers.
func decodeCrawlPicks(reply string) ([]crawlPick, error) {
	payload := stripCodeFence(reply)

	var envelope struct {
		Crawl []crawlPick `json:"crawl"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && len(envelope.Crawl) > 0 {
		return envelope.Crawl, nil
	}
	var picks []crawlPick
	if err := json.Unmarshal([]byte(payload), &picks); err == nil && len(picks) > 0 {
		return picks, nil
	}
	var ranks []int
	if err := json.Unmarshal([]byte(payload), &ranks); err == nil && len(ranks) > 0 {
		picks = make([]crawlPick, len(ranks))
		for i, r := range ranks {
			picks[i] = crawlPick{Rank: r}
		}
		return picks, nil
	}
	return nil, fmt.Errorf("decision reply is not a pick list")
}

// topByRank is the fallback decision: the best-ranked hits, in order.
func topByRank(hits []metasearch.Result, limit int) []CrawlDecision {
	decisions := make([]CrawlDecision, 0, limit)
	for _, r := range hits {
		decisions = append(decisions, CrawlDecision{URL: r.URL, Reason: "Top-Treffer nach Ranking", Rank: r.Rank})
		if len(decisions) == limit {
			break
		}
	}
	return decisions
}

// enrichSources fetches the decided pages concurrently and merges the
// full content back into the first answered sub-query's hit list,
// keeping the original ranking. A failed crawl leaves the snippet in
// place and records the reason on that source.
func (s *Service) enrichSources(ctx context.Context, st State) (*State, error) {
	first := st.answeredIndex()
	if first < 0 {
		return &State{}, nil
	}
	base := st.WebResults[first].Results

	timeout := normalCrawlTimeout
	if st.Mode == ModeDeep {
		timeout = deepCrawlTimeout
	}

	type outcome struct {
		res *crawler.Result
		err error
	}
	outcomes := make([]outcome, len(st.CrawlDecisions))

	grp, gctx := errgroup.WithContext(ctx)
	for i, d := range st.CrawlDecisions {
		grp.Go(func() error {
			res, err := s.crawler.Crawl(gctx, d.URL, crawler.Options{
				Timeout:  timeout,
				MaxBytes: crawlMaxBytes,
			})
			if err != nil {
				if apperr.Aborts(err) {
					return err
				}
				outcomes[i] = outcome{err: err}
				return nil
			}
			outcomes[i] = outcome{res: res}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	byURL := make(map[string]outcome, len(st.CrawlDecisions))
	for i, d := range st.CrawlDecisions {
		byURL[d.URL] = outcomes[i]
	}

	delta := &State{EnrichedResults: make([]SourceResult, len(base))}
	for i, r := range base {
		sr := SourceResult{Result: r}
		if out, ok := byURL[r.URL]; ok {
			switch {
			case out.err != nil:
				sr.CrawlError = out.err.Error()
			case !out.res.Success:
				sr.CrawlError = out.res.Error
			default:
				sr.Content = capRunes(pageText(out.res), contentCharCap)
				sr.FullContent = true
			}
			if sr.CrawlError != "" {
				delta.Errors = append(delta.Errors, NodeError{
					Node:    nodeEnricher,
					Message: fmt.Sprintf("%s: %s", r.URL, sr.CrawlError),
				})
			}
		}
		delta.EnrichedResults[i] = sr
	}
	return delta, nil
}

// pageText prefers the markdown rendering of a crawled page.
func pageText(res *crawler.Result) string {
	if res.Markdown != "" {
		return res.Markdown
	}
	return res.Content
}

func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
