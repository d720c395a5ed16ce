package search

import (
	"context"
	"sort"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// textCandidateCap bounds how many matching points a text search pulls
// before scoring them client-side.
const textCandidateCap = 512

// PayloadTextIndex serves keyword search from the vector collection's
// own full-text payload index. No separate engine, no mirroring:
// whatever ingestion upserted is searchable.
//
// The server only filters (all query tokens must appear); ranking
// happens here, by the fraction of a chunk's tokens that match the
// query. When the strict all-token match comes back empty for a
// multi-token query, the search relaxes to any-token matching so
// partial queries still surface something.
type PayloadTextIndex struct {
	index vectorindex.Index
}

var _ TextIndex = (*PayloadTextIndex)(nil)

// NewPayloadTextIndex creates a text index over the given vector index.
func NewPayloadTextIndex(index vectorindex.Index) *PayloadTextIndex {
	return &PayloadTextIndex{index: index}
}

// SearchText returns up to limit chunks ordered by descending match
// ratio. Queries without a single indexable token are InvalidInput.
func (p *PayloadTextIndex) SearchText(ctx context.Context, collection, query string, filter vectorindex.Filter, limit int) ([]TextResult, error) {
	const op = "search.PayloadTextIndex.SearchText"
	tokens := vectorindex.Tokenize(query)
	if len(tokens) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "query has no searchable tokens")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	strict := filter
	strict.Text = query
	hits, err := p.scrollCapped(ctx, collection, strict)
	if err != nil {
		return nil, err
	}

	if len(hits) == 0 && len(tokens) > 1 {
		relaxed := filter
		relaxed.TextAny = tokens
		hits, err = p.scrollCapped(ctx, collection, relaxed)
		if err != nil {
			return nil, err
		}
	}

	results := make([]TextResult, 0, len(hits))
	for _, h := range hits {
		score := matchRatio(h.Text, tokens)
		if score == 0 {
			continue
		}
		results = append(results, TextResult{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Title:      h.Title,
			Filename:   h.Filename,
			Score:      score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scrollCapped pages through matches until either the scan is done or
// the candidate cap is reached.
func (p *PayloadTextIndex) scrollCapped(ctx context.Context, collection string, filter vectorindex.Filter) ([]vectorindex.Hit, error) {
	var (
		hits   []vectorindex.Hit
		offset *uint64
	)
	for len(hits) < textCandidateCap {
		page, err := p.index.Scroll(ctx, collection, filter, textCandidateCap-len(hits), offset)
		if err != nil {
			return nil, err
		}
		hits = append(hits, page.Points...)
		if page.NextOffset == nil {
			break
		}
		offset = page.NextOffset
	}
	return hits, nil
}

// matchRatio scores a chunk by how much of it the query covers: the
// number of chunk tokens that are query tokens, over the chunk's token
// count. Short chunks that are mostly about the query outrank long
// chunks that mention it once.
func matchRatio(text string, queryTokens []string) float64 {
	textTokens := vectorindex.Tokenize(text)
	if len(textTokens) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		want[t] = struct{}{}
	}
	matched := 0
	for _, t := range textTokens {
		if _, ok := want[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(textTokens))
}
