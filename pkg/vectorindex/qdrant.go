package vectorindex

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
)

// Payload keys of chunk points. The full-text index lives on
// payloadKeyText.
const (
	payloadKeyDocumentID = "document_id"
	payloadKeyOwnerID    = "owner_id"
	payloadKeyChunkIndex = "chunk_index"
	payloadKeyText       = "chunk_text"
	payloadKeyTitle      = "title"
	payloadKeyFilename   = "filename"
	payloadKeySourceType = "source_type"
)

const (
	upsertBatchSize = 100
	scrollPageSize  = 256
	// Hard stop for ScrollAll so a misbehaving server cannot spin the
	// client forever.
	maxScrollPages = 512
)

// Config configures the Qdrant client.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// HealthInterval is the probe cadence of WatchHealth.
	HealthInterval time.Duration
	// HealthTimeout bounds a single probe.
	HealthTimeout time.Duration

	Logger hclog.Logger
}

// Client talks to a Qdrant instance over gRPC. It implements Index.
//
// The underlying connection is created lazily and rebuilt whenever an
// operation or health probe fails with a connection-level error, so a
// restarted or briefly unreachable server does not require restarting
// the process.
type Client struct {
	cfg Config
	log hclog.Logger

	mu      sync.Mutex
	qc      *qdrant.Client
	healthy bool
}

var _ Index = (*Client)(nil)

// New creates a Client. The connection is not dialed until the first
// operation.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.Named("vectorindex"),
		healthy: true,
	}, nil
}

// conn returns the live connection, dialing if necessary.
func (c *Client) conn() (*qdrant.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qc != nil {
		return c.qc, nil
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.cfg.Host,
		Port:   c.cfg.Port,
		APIKey: c.cfg.APIKey,
		UseTLS: c.cfg.UseTLS,
	})
	if err != nil {
		return nil, apperr.Wrap("vectorindex.connect", apperr.Transient, err)
	}
	c.log.Debug("connected to vector index", "host", c.cfg.Host, "port", c.cfg.Port)
	c.qc = qc
	return qc, nil
}

// dropConn discards the current connection so the next operation
// redials.
func (c *Client) dropConn(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qc == nil {
		return
	}
	c.log.Warn("dropping vector index connection", "error", reason)
	_ = c.qc.Close()
	c.qc = nil
}

// fail classifies an operation error and tears the connection down when
// it points at the transport rather than the request.
func (c *Client) fail(op string, err error) error {
	if isConnErr(err) {
		c.dropConn(err)
	}
	return apperr.FromGRPC(op, err)
}

// isConnErr reports whether err indicates the connection itself is
// broken. TLS failures show up as Unavailable or as handshake errors in
// the message, depending on where the handshake died.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "handshake")
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qc == nil {
		return nil
	}
	err := c.qc.Close()
	c.qc = nil
	return err
}

// HealthCheck probes the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	const op = "vectorindex.HealthCheck"
	qc, err := c.conn()
	if err != nil {
		return err
	}
	if _, err := qc.HealthCheck(ctx); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// WatchHealth probes the index every HealthInterval until ctx is done.
// A failed probe drops the connection so the next operation redials;
// state transitions are logged once, not on every tick.
func (c *Client) WatchHealth(ctx context.Context) {
	c.log.Info("starting vector index health probe", "interval", c.cfg.HealthInterval)

	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("stopping vector index health probe")
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Client) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	err := c.HealthCheck(probeCtx)

	c.mu.Lock()
	wasHealthy := c.healthy
	c.healthy = err == nil
	c.mu.Unlock()

	switch {
	case err != nil && wasHealthy:
		c.log.Warn("vector index unhealthy", "error", err)
	case err == nil && !wasHealthy:
		c.log.Info("vector index healthy again")
	}
}

// Healthy reports the outcome of the most recent probe.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// EnsureCollection creates the collection with cosine distance and the
// payload index set if it does not exist. Safe to call on every start.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	const op = "vectorindex.EnsureCollection"
	if dimension <= 0 {
		return apperr.New(op, apperr.InvalidInput, "vector dimension must be positive")
	}
	qc, err := c.conn()
	if err != nil {
		return err
	}

	exists, err := qc.CollectionExists(ctx, collection)
	if err != nil {
		return c.fail(op, err)
	}
	if !exists {
		err := qc.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// A concurrent starter may have won the race.
		if err != nil && !isAlreadyExists(err) {
			return c.fail(op, err)
		}
		c.log.Info("created vector collection", "collection", collection, "dimension", dimension)
	}

	for _, idx := range payloadIndexes() {
		idx.CollectionName = collection
		if _, err := qc.CreateFieldIndex(ctx, idx); err != nil && !isAlreadyExists(err) {
			return c.fail(op, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if s, ok := status.FromError(err); ok && s.Code() == codes.AlreadyExists {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// payloadIndexes returns the index definitions every chunk collection
// carries. owner_id is the tenant key; chunk_text holds the full-text
// index the text search path matches against.
func payloadIndexes() []*qdrant.CreateFieldIndexCollection {
	return []*qdrant.CreateFieldIndexCollection{
		{
			FieldName: payloadKeyOwnerID,
			FieldType: qdrant.FieldType_FieldTypeKeyword.Enum(),
			FieldIndexParams: &qdrant.PayloadIndexParams{
				IndexParams: &qdrant.PayloadIndexParams_KeywordIndexParams{
					KeywordIndexParams: &qdrant.KeywordIndexParams{
						IsTenant: qdrant.PtrOf(true),
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		},
		{
			FieldName: payloadKeyDocumentID,
			FieldType: qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:      qdrant.PtrOf(true),
		},
		{
			FieldName: payloadKeySourceType,
			FieldType: qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:      qdrant.PtrOf(true),
		},
		{
			FieldName: payloadKeyChunkIndex,
			FieldType: qdrant.FieldType_FieldTypeInteger.Enum(),
			FieldIndexParams: &qdrant.PayloadIndexParams{
				IndexParams: &qdrant.PayloadIndexParams_IntegerIndexParams{
					IntegerIndexParams: &qdrant.IntegerIndexParams{
						Lookup: qdrant.PtrOf(true),
						Range:  qdrant.PtrOf(true),
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		},
		{
			FieldName: payloadKeyText,
			FieldType: qdrant.FieldType_FieldTypeText.Enum(),
			FieldIndexParams: &qdrant.PayloadIndexParams{
				IndexParams: &qdrant.PayloadIndexParams_TextIndexParams{
					TextIndexParams: &qdrant.TextIndexParams{
						Tokenizer:   qdrant.TokenizerType_Word,
						Lowercase:   qdrant.PtrOf(true),
						MinTokenLen: qdrant.PtrOf(uint64(MinTokenLen)),
						MaxTokenLen: qdrant.PtrOf(uint64(MaxTokenLen)),
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		},
	}
}

// DeleteCollection drops a collection. Missing collections are not an
// error.
func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	const op = "vectorindex.DeleteCollection"
	qc, err := c.conn()
	if err != nil {
		return err
	}
	if err := qc.DeleteCollection(ctx, collection); err != nil {
		if apperr.KindOf(apperr.FromGRPC(op, err)) == apperr.NotFound {
			return nil
		}
		return c.fail(op, err)
	}
	c.log.Info("deleted vector collection", "collection", collection)
	return nil
}

// Upsert writes records in batches with wait=true, so chunks of a
// document become visible to readers only after the server applied the
// write.
func (c *Client) Upsert(ctx context.Context, collection string, records []ChunkRecord) error {
	const op = "vectorindex.Upsert"
	if len(records) == 0 {
		return nil
	}
	qc, err := c.conn()
	if err != nil {
		return err
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, r := range records[start:end] {
			if r.DocumentID == "" {
				return apperr.New(op, apperr.InvalidInput, "chunk record without document id")
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(docid.ChunkPointID(r.DocumentID, r.ChunkIndex)),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: map[string]*qdrant.Value{
					payloadKeyDocumentID: qdrant.NewValueString(r.DocumentID),
					payloadKeyOwnerID:    qdrant.NewValueString(r.OwnerID),
					payloadKeyChunkIndex: qdrant.NewValueInt(int64(r.ChunkIndex)),
					payloadKeyText:       qdrant.NewValueString(r.Text),
					payloadKeyTitle:      qdrant.NewValueString(r.Title),
					payloadKeyFilename:   qdrant.NewValueString(r.Filename),
					payloadKeySourceType: qdrant.NewValueString(r.SourceType),
				},
			})
		}

		if _, err := qc.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		}); err != nil {
			return c.fail(op, err)
		}
	}

	c.log.Debug("upserted chunk points", "collection", collection, "points", len(records))
	return nil
}

// Search runs an ANN query ordered by descending cosine similarity.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int, scoreThreshold float32) ([]Hit, error) {
	const op = "vectorindex.Search"
	if len(vector) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "query vector is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	qc, err := c.conn()
	if err != nil {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	points, err := qc.Query(ctx, req)
	if err != nil {
		return nil, c.fail(op, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPayload(p.GetId(), p.GetScore(), p.GetPayload()))
	}
	return hits, nil
}

// Scroll reads one page of matching points. The page is ordered by
// point id; an order_by on the server would disable next-page offsets,
// so callers needing ordinal order sort the result themselves.
func (c *Client) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset *uint64) (*ScrollPage, error) {
	const op = "vectorindex.Scroll"
	if limit <= 0 {
		limit = scrollPageSize
	}
	qc, err := c.conn()
	if err != nil {
		return nil, err
	}

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset != nil {
		req.Offset = qdrant.NewIDNum(*offset)
	}

	// The wrapped Scroll drops the next-page offset, so paging goes
	// through the raw points client.
	resp, err := qc.GetPointsClient().Scroll(ctx, req)
	if err != nil {
		return nil, c.fail(op, err)
	}

	page := &ScrollPage{Points: make([]Hit, 0, len(resp.GetResult()))}
	for _, p := range resp.GetResult() {
		page.Points = append(page.Points, hitFromPayload(p.GetId(), 0, p.GetPayload()))
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.NextOffset = qdrant.PtrOf(next.GetNum())
	}
	return page, nil
}

// ScrollAll drains the scroll for a filter. Intended for per-document
// reads and maintenance scans, not for unbounded collections.
func (c *Client) ScrollAll(ctx context.Context, collection string, filter Filter) ([]Hit, error) {
	var (
		hits   []Hit
		offset *uint64
	)
	for page := 0; page < maxScrollPages; page++ {
		p, err := c.Scroll(ctx, collection, filter, scrollPageSize, offset)
		if err != nil {
			return nil, err
		}
		hits = append(hits, p.Points...)
		if p.NextOffset == nil {
			return hits, nil
		}
		offset = p.NextOffset
	}
	c.log.Warn("scroll truncated", "collection", collection, "points", len(hits))
	return hits, nil
}

// Delete removes all points matching the filter and waits for the
// deletion to apply.
func (c *Client) Delete(ctx context.Context, collection string, filter Filter) error {
	const op = "vectorindex.Delete"
	if filter.IsZero() {
		return apperr.New(op, apperr.InvalidInput, "refusing to delete with an empty filter")
	}
	qc, err := c.conn()
	if err != nil {
		return err
	}

	if _, err := qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: filter.toQdrant(),
			},
		},
	}); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// Count returns the exact number of matching points.
func (c *Client) Count(ctx context.Context, collection string, filter Filter) (uint64, error) {
	const op = "vectorindex.Count"
	qc, err := c.conn()
	if err != nil {
		return 0, err
	}

	n, err := qc.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         filter.toQdrant(),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, c.fail(op, err)
	}
	return n, nil
}

// toQdrant converts the filter to the wire representation. Returns nil
// for a zero filter so requests scan the whole collection.
func (f Filter) toQdrant() *qdrant.Filter {
	if f.IsZero() {
		return nil
	}

	var must []*qdrant.Condition
	if f.Owner != "" {
		must = append(must, qdrant.NewMatch(payloadKeyOwnerID, f.Owner))
	}
	switch len(f.DocumentIDs) {
	case 0:
	case 1:
		must = append(must, qdrant.NewMatch(payloadKeyDocumentID, f.DocumentIDs[0]))
	default:
		must = append(must, qdrant.NewMatchKeywords(payloadKeyDocumentID, f.DocumentIDs...))
	}
	if f.SourceType != "" {
		must = append(must, qdrant.NewMatch(payloadKeySourceType, f.SourceType))
	}
	if f.Text != "" {
		must = append(must, qdrant.NewMatchText(payloadKeyText, f.Text))
	}

	var should []*qdrant.Condition
	for _, t := range f.TextAny {
		should = append(should, qdrant.NewMatchText(payloadKeyText, t))
	}

	return &qdrant.Filter{Must: must, Should: should}
}

func hitFromPayload(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) Hit {
	h := Hit{
		PointID: id.GetNum(),
		Score:   score,
	}
	if v, ok := payload[payloadKeyDocumentID]; ok {
		h.DocumentID = v.GetStringValue()
	}
	if v, ok := payload[payloadKeyOwnerID]; ok {
		h.OwnerID = v.GetStringValue()
	}
	if v, ok := payload[payloadKeyChunkIndex]; ok {
		h.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload[payloadKeyText]; ok {
		h.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadKeyTitle]; ok {
		h.Title = v.GetStringValue()
	}
	if v, ok := payload[payloadKeyFilename]; ok {
		h.Filename = v.GetStringValue()
	}
	if v, ok := payload[payloadKeySourceType]; ok {
		h.SourceType = v.GetStringValue()
	}
	return h
}
