package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/embedding"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

const (
	// DefaultVectorWeight and DefaultTextWeight balance the two
	// branches in hybrid fusion.
	DefaultVectorWeight = 0.7
	DefaultTextWeight   = 0.3

	// DefaultSmallDocChunks is the chunk count up to which FullText
	// reconstructs a document instead of searching over it.
	DefaultSmallDocChunks = 13

	defaultLimit = 10

	// rrfK damps the influence of absolute rank positions in
	// reciprocal-rank fusion.
	rrfK = 60

	// Dynamic vector threshold: keep hits scoring at least
	// top*(1-thresholdGap), never below thresholdFloor. Applied only
	// when the branch returned enough hits to say something about the
	// distribution.
	defaultThresholdFloor = 0.25
	defaultThresholdGap   = 0.35
	thresholdMinHits      = 3

	// Each branch fetches more than the requested limit so fusion has
	// overlap to work with.
	candidateFactor = 2
)

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	Index    vectorindex.Index
	Embedder embedding.Provider

	// Text serves the keyword branch. Nil selects the payload-backed
	// index over the same collection.
	Text TextIndex

	// Collection is the default chunk collection. Queries may
	// override it.
	Collection string

	// SmallDocChunks is the FullText reconstruction threshold.
	// Defaults to DefaultSmallDocChunks.
	SmallDocChunks int

	// ThresholdFloor and ThresholdGap shape the dynamic vector
	// cutoff. Zero values take the defaults.
	ThresholdFloor float64
	ThresholdGap   float64

	Logger hclog.Logger
}

// Retriever answers chunk-level search queries against one default
// collection.
type Retriever struct {
	index    vectorindex.Index
	embedder embedding.Provider
	text     TextIndex
	cfg      RetrieverConfig
	log      hclog.Logger
}

// NewRetriever wires a Retriever. Index and Embedder are required.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	const op = "search.NewRetriever"
	if cfg.Index == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "vector index is required")
	}
	if cfg.Embedder == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "embedding provider is required")
	}
	if cfg.Collection == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "collection is required")
	}
	if cfg.Text == nil {
		cfg.Text = NewPayloadTextIndex(cfg.Index)
	}
	if cfg.SmallDocChunks <= 0 {
		cfg.SmallDocChunks = DefaultSmallDocChunks
	}
	if cfg.ThresholdFloor <= 0 {
		cfg.ThresholdFloor = defaultThresholdFloor
	}
	if cfg.ThresholdGap <= 0 {
		cfg.ThresholdGap = defaultThresholdGap
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Retriever{
		index:    cfg.Index,
		embedder: cfg.Embedder,
		text:     cfg.Text,
		cfg:      cfg,
		log:      cfg.Logger.Named("retriever"),
	}, nil
}

// Search runs a query in the requested mode. In hybrid mode the two
// branches run in parallel; a failed vector branch degrades to the
// text results tagged TypeTextFallback, a failed text branch degrades
// to the vector results, and only both failing is an error.
func (r *Retriever) Search(ctx context.Context, q Query) (*Response, error) {
	const op = "search.Retriever.Search"
	started := time.Now()

	if strings.TrimSpace(q.Text) == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "query text is empty")
	}
	if q.Owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if q.VectorWeight <= 0 {
		q.VectorWeight = DefaultVectorWeight
	}
	if q.TextWeight <= 0 {
		q.TextWeight = DefaultTextWeight
	}
	collection := q.Collection
	if collection == "" {
		collection = r.cfg.Collection
	}
	filter := vectorindex.Filter{
		Owner:       q.Owner,
		DocumentIDs: q.DocumentIDs,
		SourceType:  q.SourceType,
	}

	resp := &Response{}
	switch q.Mode {
	case ModeVector:
		hits, err := r.vectorBranch(ctx, collection, q, filter)
		if err != nil {
			return nil, err
		}
		resp.SearchType = TypeVector
		resp.Stats.VectorHits = len(hits)
		resp.Results = resultsFromHits(hits)

	case ModeText:
		hits, err := r.text.SearchText(ctx, collection, q.Text, filter, q.Limit*candidateFactor)
		if err != nil {
			return nil, err
		}
		resp.SearchType = TypeText
		resp.Stats.TextHits = len(hits)
		resp.Results = resultsFromText(hits)

	case ModeHybrid:
		var (
			vecHits  []vectorindex.Hit
			textHits []TextResult
			vecErr   error
			textErr  error
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			vecHits, vecErr = r.vectorBranch(gctx, collection, q, filter)
			return nil
		})
		g.Go(func() error {
			textHits, textErr = r.text.SearchText(gctx, collection, q.Text, filter, q.Limit*candidateFactor)
			return nil
		})
		_ = g.Wait()

		resp.Stats.VectorHits = len(vecHits)
		resp.Stats.TextHits = len(textHits)

		switch {
		case vecErr != nil && textErr != nil:
			return nil, apperr.Wrapf(op, apperr.Transient, vecErr,
				"both search branches failed (text: %v)", textErr)
		case vecErr != nil:
			r.log.Warn("vector branch failed, serving text results",
				"collection", collection, "error", vecErr)
			resp.SearchType = TypeTextFallback
			resp.Results = resultsFromText(textHits)
		case textErr != nil:
			r.log.Warn("text branch failed, serving vector results",
				"collection", collection, "error", textErr)
			resp.SearchType = TypeVector
			resp.Results = resultsFromHits(vecHits)
		default:
			resp.SearchType = TypeHybrid
			resp.Results = fuse(vecHits, textHits, q.VectorWeight, q.TextWeight)
		}

	default:
		return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unknown search mode %q", q.Mode))
	}

	if q.MaxPerDocument > 0 {
		resp.Results = capPerDocument(resp.Results, q.MaxPerDocument)
	}
	if len(resp.Results) > q.Limit {
		resp.Results = resp.Results[:q.Limit]
	}
	resp.Stats.Returned = len(resp.Results)
	resp.Stats.Took = time.Since(started)

	r.log.Debug("search completed",
		"mode", q.Mode,
		"search_type", resp.SearchType,
		"vector_hits", resp.Stats.VectorHits,
		"text_hits", resp.Stats.TextHits,
		"returned", resp.Stats.Returned,
		"took", resp.Stats.Took,
	)
	return resp, nil
}

// vectorBranch embeds the query and searches the collection. With no
// explicit threshold the cutoff adapts to the score distribution so a
// strong top hit suppresses weak tail matches.
func (r *Retriever) vectorBranch(ctx context.Context, collection string, q Query, filter vectorindex.Filter) ([]vectorindex.Hit, error) {
	vector, err := embedding.EmbedQuery(ctx, r.embedder, q.Text)
	if err != nil {
		return nil, err
	}

	threshold := float32(q.ScoreThreshold)
	hits, err := r.index.Search(ctx, collection, vector, filter, q.Limit*candidateFactor, threshold)
	if err != nil {
		return nil, err
	}

	if q.ScoreThreshold <= 0 && len(hits) >= thresholdMinHits {
		top := float64(hits[0].Score)
		cutoff := top * (1 - r.cfg.ThresholdGap)
		if cutoff < r.cfg.ThresholdFloor {
			cutoff = r.cfg.ThresholdFloor
		}
		kept := hits[:0]
		for _, h := range hits {
			if float64(h.Score) >= cutoff {
				kept = append(kept, h)
			}
		}
		if len(kept) < len(hits) {
			r.log.Debug("dynamic threshold trimmed vector hits",
				"top", top, "cutoff", cutoff,
				"before", len(hits), "after", len(kept))
		}
		hits = kept
	}
	return hits, nil
}

// FullText reconstructs a document's text when it is small enough,
// returning ok=false for documents above the chunk threshold so the
// caller can fall back to scoped search. Unknown documents are
// NotFound.
func (r *Retriever) FullText(ctx context.Context, owner, documentID string) (string, bool, error) {
	const op = "search.Retriever.FullText"
	if owner == "" || documentID == "" {
		return "", false, apperr.New(op, apperr.InvalidInput, "owner and document id are required")
	}
	filter := vectorindex.Filter{Owner: owner, DocumentIDs: []string{documentID}}

	n, err := r.index.Count(ctx, r.cfg.Collection, filter)
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, apperr.New(op, apperr.NotFound, "document has no indexed chunks")
	}
	if n > uint64(r.cfg.SmallDocChunks) {
		return "", false, nil
	}

	hits, err := r.index.ScrollAll(ctx, r.cfg.Collection, filter)
	if err != nil {
		return "", false, err
	}
	return JoinChunks(hits), true, nil
}

// ChunkCount returns how many chunks a document has in the default
// collection.
func (r *Retriever) ChunkCount(ctx context.Context, owner, documentID string) (int, error) {
	n, err := r.index.Count(ctx, r.cfg.Collection, vectorindex.Filter{
		Owner:       owner,
		DocumentIDs: []string{documentID},
	})
	return int(n), err
}

// JoinChunks orders hits by chunk index and joins their text. Adjacent
// chunks overlap by design, so the joined text repeats the overlap;
// callers wanting the exact original keep the source file instead.
func JoinChunks(hits []vectorindex.Hit) string {
	sorted := make([]vectorindex.Hit, len(hits))
	copy(sorted, hits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	parts := make([]string, 0, len(sorted))
	for _, h := range sorted {
		if h.Text == "" {
			continue
		}
		parts = append(parts, h.Text)
	}
	return strings.Join(parts, "\n\n")
}

// fuse merges the two rankings with weighted reciprocal-rank fusion.
// A chunk present in both lists accumulates both contributions; ties
// break by vector score, then document id, then chunk index.
func fuse(vecHits []vectorindex.Hit, textHits []TextResult, vectorWeight, textWeight float64) []Result {
	type fused struct {
		result   Result
		score    float64
		vecScore float64
	}
	byPoint := make(map[uint64]*fused, len(vecHits)+len(textHits))

	for rank, h := range vecHits {
		id := docid.ChunkPointID(h.DocumentID, h.ChunkIndex)
		byPoint[id] = &fused{
			result: Result{
				DocumentID: h.DocumentID,
				ChunkText:  h.Text,
				ChunkIndex: h.ChunkIndex,
				Title:      h.Title,
				Filename:   h.Filename,
				Relevance:  RelevanceVector,
			},
			score:    vectorWeight / float64(rrfK+rank+1),
			vecScore: float64(h.Score),
		}
	}

	for rank, h := range textHits {
		id := docid.ChunkPointID(h.DocumentID, h.ChunkIndex)
		contribution := textWeight / float64(rrfK+rank+1)
		if f, ok := byPoint[id]; ok {
			f.score += contribution
			f.result.Relevance = RelevanceBoth
			continue
		}
		byPoint[id] = &fused{
			result: Result{
				DocumentID: h.DocumentID,
				ChunkText:  h.Text,
				ChunkIndex: h.ChunkIndex,
				Title:      h.Title,
				Filename:   h.Filename,
				Relevance:  RelevanceText,
			},
			score: contribution,
		}
	}

	all := make([]*fused, 0, len(byPoint))
	for _, f := range byPoint {
		f.result.Score = f.score
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].vecScore != all[j].vecScore {
			return all[i].vecScore > all[j].vecScore
		}
		if all[i].result.DocumentID != all[j].result.DocumentID {
			return all[i].result.DocumentID < all[j].result.DocumentID
		}
		return all[i].result.ChunkIndex < all[j].result.ChunkIndex
	})

	results := make([]Result, len(all))
	for i, f := range all {
		results[i] = f.result
	}
	return results
}

// capPerDocument keeps at most max results per document, preserving
// order.
func capPerDocument(results []Result, max int) []Result {
	seen := make(map[string]int, len(results))
	kept := results[:0]
	for _, res := range results {
		if seen[res.DocumentID] >= max {
			continue
		}
		seen[res.DocumentID]++
		kept = append(kept, res)
	}
	return kept
}

func resultsFromHits(hits []vectorindex.Hit) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			DocumentID: h.DocumentID,
			ChunkText:  h.Text,
			ChunkIndex: h.ChunkIndex,
			Score:      float64(h.Score),
			Title:      h.Title,
			Filename:   h.Filename,
			Relevance:  RelevanceVector,
		}
	}
	return results
}

func resultsFromText(hits []TextResult) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			DocumentID: h.DocumentID,
			ChunkText:  h.Text,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Title:      h.Title,
			Filename:   h.Filename,
			Relevance:  RelevanceText,
		}
	}
	return results
}
