package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
)

// MemoryIndex is an in-memory Index for tests. It mirrors the Qdrant
// client's semantics: deterministic numeric point ids, replace-on-upsert,
// cosine scoring over unit vectors, and the same filter behaviour
// including full-text token matching.
//
// Error fields inject failures per operation; configure them before
// use. The zero value is not usable, call NewMemoryIndex.
type MemoryIndex struct {
	mu          sync.Mutex
	collections map[string]*memCollection

	EnsureErr error
	UpsertErr error
	SearchErr error
	ScrollErr error
	DeleteErr error
	CountErr  error
	HealthErr error

	UpsertCalls int
	SearchCalls int
	DeleteCalls int
}

type memCollection struct {
	dimension int
	points    map[uint64]ChunkRecord
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memCollection)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, collection string, dimension int) error {
	const op = "vectorindex.EnsureCollection"
	if m.EnsureErr != nil {
		return m.EnsureErr
	}
	if dimension <= 0 {
		return apperr.New(op, apperr.InvalidInput, "vector dimension must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = &memCollection{
			dimension: dimension,
			points:    make(map[uint64]ChunkRecord),
		}
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection string, records []ChunkRecord) error {
	const op = "vectorindex.Upsert"
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	col, err := m.col(op, collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.DocumentID == "" {
			return apperr.New(op, apperr.InvalidInput, "chunk record without document id")
		}
		if len(r.Vector) != col.dimension {
			return apperr.New(op, apperr.InvalidInput, "vector dimension mismatch")
		}
		col.points[docid.ChunkPointID(r.DocumentID, r.ChunkIndex)] = r
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, collection string, vector []float32, filter Filter, limit int, scoreThreshold float32) ([]Hit, error) {
	const op = "vectorindex.Search"
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if len(vector) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "query vector is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	col, err := m.col(op, collection)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for id, r := range col.points {
		if !matchesFilter(r, filter) {
			continue
		}
		score := dot(vector, r.Vector)
		if scoreThreshold > 0 && score < scoreThreshold {
			continue
		}
		hits = append(hits, recordHit(id, r, score))
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PointID < hits[j].PointID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Scroll(_ context.Context, collection string, filter Filter, limit int, offset *uint64) (*ScrollPage, error) {
	const op = "vectorindex.Scroll"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScrollErr != nil {
		return nil, m.ScrollErr
	}
	if limit <= 0 {
		limit = scrollPageSize
	}
	col, err := m.col(op, collection)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(col.points))
	for id, r := range col.points {
		if !matchesFilter(r, filter) {
			continue
		}
		if offset != nil && id < *offset {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page := &ScrollPage{}
	for i, id := range ids {
		if i == limit {
			next := id
			page.NextOffset = &next
			break
		}
		page.Points = append(page.Points, recordHit(id, col.points[id], 0))
	}
	return page, nil
}

func (m *MemoryIndex) ScrollAll(ctx context.Context, collection string, filter Filter) ([]Hit, error) {
	var (
		hits   []Hit
		offset *uint64
	)
	for {
		page, err := m.Scroll(ctx, collection, filter, scrollPageSize, offset)
		if err != nil {
			return nil, err
		}
		hits = append(hits, page.Points...)
		if page.NextOffset == nil {
			return hits, nil
		}
		offset = page.NextOffset
	}
}

func (m *MemoryIndex) Delete(_ context.Context, collection string, filter Filter) error {
	const op = "vectorindex.Delete"
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if filter.IsZero() {
		return apperr.New(op, apperr.InvalidInput, "refusing to delete with an empty filter")
	}
	col, err := m.col(op, collection)
	if err != nil {
		return err
	}
	for id, r := range col.points {
		if matchesFilter(r, filter) {
			delete(col.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, collection string, filter Filter) (uint64, error) {
	const op = "vectorindex.Count"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	col, err := m.col(op, collection)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, r := range col.points {
		if matchesFilter(r, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryIndex) HealthCheck(context.Context) error {
	return m.HealthErr
}

// Records returns all points of a collection ordered by document id and
// chunk index, for assertions.
func (m *MemoryIndex) Records(collection string) []ChunkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	records := make([]ChunkRecord, 0, len(col.points))
	for _, r := range col.points {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].DocumentID != records[j].DocumentID {
			return records[i].DocumentID < records[j].DocumentID
		}
		return records[i].ChunkIndex < records[j].ChunkIndex
	})
	return records
}

func (m *MemoryIndex) col(op, collection string) (*memCollection, error) {
	col, ok := m.collections[collection]
	if !ok {
		return nil, apperr.New(op, apperr.NotFound, "collection does not exist")
	}
	return col, nil
}

func matchesFilter(r ChunkRecord, f Filter) bool {
	if f.Owner != "" && r.OwnerID != f.Owner {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if r.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SourceType != "" && r.SourceType != f.SourceType {
		return false
	}
	if f.Text != "" && !textMatches(r.Text, f.Text) {
		return false
	}
	if len(f.TextAny) > 0 {
		any := false
		for _, t := range f.TextAny {
			if textMatches(r.Text, t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// textMatches implements the full-text match contract: every token of
// the query must appear as a token of the text.
func textMatches(text, query string) bool {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return false
	}
	have := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		have[t] = struct{}{}
	}
	for _, t := range queryTokens {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

func recordHit(id uint64, r ChunkRecord, score float32) Hit {
	return Hit{
		PointID:    id,
		DocumentID: r.DocumentID,
		OwnerID:    r.OwnerID,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Title:      r.Title,
		Filename:   r.Filename,
		SourceType: r.SourceType,
		Score:      score,
	}
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
