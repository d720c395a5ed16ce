// Package ingest runs the document ingestion pipeline. One call takes
// a source (uploaded bytes, raw text, or a URL) through extraction,
// chunking, embedding, and vector upsert, while the document row walks
// pending → processing → processing_embeddings → completed or failed.
//
// Every status transition is persisted together with a transactional
// outbox event, so downstream consumers see the same lifecycle the
// database does. Which steps run and how text is chunked is decided by
// a Ruleset matched on the document's source type.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/embedding"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/extract"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

const (
	// DefaultEmbedBatchSize is how many chunks one embedding call takes.
	DefaultEmbedBatchSize = 10
	// DefaultEmbedWorkers bounds concurrent embedding calls.
	DefaultEmbedWorkers = 4
)

// Source is the content of an ingestion request. Exactly one field
// must be set; which one determines the document's source type.
type Source struct {
	// Bytes is an uploaded file. Request.Filename selects the format.
	Bytes []byte
	// RawText is manually entered text, ingested as-is.
	RawText string
	// CrawlURL is a web page to fetch and extract.
	CrawlURL string
}

// Request describes one document to ingest.
type Request struct {
	// Owner scopes the document to one user.
	Owner string

	// Source is the document content.
	Source Source

	// Title is the display title. Optional for URL sources, where the
	// page title fills in when no title is given.
	Title string

	// Filename is required for byte sources and selects the extraction
	// format by its extension.
	Filename string

	// SourceType overrides the inferred source type. Loaders that feed
	// the shared official-documents collection set this to "grundsatz".
	SourceType string

	// DocumentID re-ingests an existing document in place, replacing
	// its chunks. Empty creates a new document.
	DocumentID string

	// Metadata is carried into the document's metadata JSON. Pipeline
	// facts with the same keys win.
	Metadata map[string]interface{}
}

// Receipt reports the outcome of a completed ingestion.
type Receipt struct {
	DocumentID  string `json:"document_id"`
	Status      string `json:"status"`
	SourceType  string `json:"source_type"`
	Title       string `json:"title"`
	ChunkCount  int    `json:"chunk_count"`
	VectorCount int    `json:"vector_count"`
}

// Config configures the ingestion service.
type Config struct {
	// DB is the relational store holding document rows and the event
	// outbox.
	DB *gorm.DB

	// Index is the vector index chunks are upserted into.
	Index vectorindex.Index

	// Embedder produces chunk vectors.
	Embedder embedding.Provider

	// Collection is the vector collection written to.
	Collection string

	// Extractor converts uploaded files to text. Required only when
	// byte sources are ingested.
	Extractor *extract.Extractor

	// Crawler fetches URL sources. Required only when URL sources are
	// ingested.
	Crawler *crawler.Crawler

	// TextIndex mirrors chunks into an external keyword index. Nil when
	// the vector collection's own payload index serves text search.
	TextIndex search.TextIndexWriter

	// Ruleset selects pipelines per source type. Nil takes
	// DefaultRuleset().
	Ruleset *Ruleset

	// EmbedBatchSize is the number of chunks per embedding call.
	// Defaults to DefaultEmbedBatchSize.
	EmbedBatchSize int

	// EmbedWorkers bounds concurrent embedding calls. Defaults to
	// DefaultEmbedWorkers.
	EmbedWorkers int

	Logger hclog.Logger
}

// Service ingests documents.
type Service struct {
	db         *gorm.DB
	index      vectorindex.Index
	embedder   embedding.Provider
	collection string
	extractor  *extract.Extractor
	crawler    *crawler.Crawler
	textIndex  search.TextIndexWriter
	ruleset    *Ruleset
	batchSize  int
	workers    int
	logger     hclog.Logger
	inflight   inflightSet
}

// New builds the ingestion service.
func New(cfg Config) (*Service, error) {
	const op = "ingest.New"
	if cfg.DB == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "database handle is required")
	}
	if cfg.Index == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "vector index is required")
	}
	if cfg.Embedder == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "embedding provider is required")
	}
	if cfg.Collection == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "collection name is required")
	}
	if cfg.Ruleset == nil {
		cfg.Ruleset = DefaultRuleset()
	} else if err := cfg.Ruleset.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = DefaultEmbedWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Service{
		db:         cfg.DB,
		index:      cfg.Index,
		embedder:   cfg.Embedder,
		collection: cfg.Collection,
		extractor:  cfg.Extractor,
		crawler:    cfg.Crawler,
		textIndex:  cfg.TextIndex,
		ruleset:    cfg.Ruleset,
		batchSize:  cfg.EmbedBatchSize,
		workers:    cfg.EmbedWorkers,
		logger:     cfg.Logger.Named("ingest"),
	}, nil
}

// Ingest runs the full pipeline for one document and blocks until the
// document reaches a terminal status. The returned error carries the
// same reason that was recorded on the document row.
func (s *Service) Ingest(ctx context.Context, req Request) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	doc, replace, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer s.inflight.release(doc.ID)

	rule, err := s.matchRule(doc)
	if err != nil {
		s.fail(doc, err)
		return nil, err
	}

	start := time.Now()
	s.logger.Info("ingestion started",
		"document_id", doc.ID,
		"owner", doc.OwnerID,
		"source_type", doc.SourceType,
		"rule", rule.Name,
		"replace", replace,
	)

	j := &job{doc: doc, req: &req, rule: rule, replace: replace}
	if err := s.run(ctx, j); err != nil {
		s.fail(doc, err)
		s.logger.Error("ingestion failed",
			"document_id", doc.ID,
			"error", err,
			"duration", time.Since(start),
		)
		return nil, err
	}

	s.logger.Info("ingestion completed",
		"document_id", doc.ID,
		"chunks", len(j.chunks),
		"duration", time.Since(start),
	)

	return &Receipt{
		DocumentID:  doc.ID,
		Status:      doc.Status,
		SourceType:  doc.SourceType,
		Title:       doc.Title,
		ChunkCount:  len(j.chunks),
		VectorCount: doc.VectorCount,
	}, nil
}

func (r *Request) validate() error {
	const op = "ingest.Ingest"

	if strings.TrimSpace(r.Owner) == "" {
		return apperr.New(op, apperr.InvalidInput, "owner is required")
	}

	set := 0
	if len(r.Source.Bytes) > 0 {
		set++
	}
	if strings.TrimSpace(r.Source.RawText) != "" {
		set++
	}
	if strings.TrimSpace(r.Source.CrawlURL) != "" {
		set++
	}
	switch {
	case set == 0:
		return apperr.New(op, apperr.InvalidInput, "a source is required")
	case set > 1:
		return apperr.New(op, apperr.InvalidInput, "exactly one source must be set")
	}

	if len(r.Source.Bytes) > 0 && strings.TrimSpace(r.Filename) == "" {
		return apperr.New(op, apperr.InvalidInput, "filename is required for file sources")
	}
	if r.Source.CrawlURL == "" && strings.TrimSpace(r.Title) == "" {
		return apperr.New(op, apperr.InvalidInput, "title is required")
	}
	if r.SourceType != "" {
		valid := false
		for _, st := range models.ValidSourceTypes() {
			if r.SourceType == st {
				valid = true
				break
			}
		}
		if !valid {
			return apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unknown source type %q", r.SourceType))
		}
	}
	return nil
}

// sourceType resolves the document source type, preferring an explicit
// override over the shape of the source.
func (r *Request) sourceType() string {
	if r.SourceType != "" {
		return r.SourceType
	}
	switch {
	case len(r.Source.Bytes) > 0:
		return models.SourceTypeUpload
	case strings.TrimSpace(r.Source.CrawlURL) != "":
		return models.SourceTypeURLCrawl
	default:
		return models.SourceTypeManualText
	}
}

// prepare resolves the document row this ingestion works on and takes
// the in-flight slot for its id. New requests create a pending row,
// re-ingests reset the existing row to pending; both write the pending
// outbox event in the same transaction.
func (s *Service) prepare(ctx context.Context, req *Request) (*models.Document, bool, error) {
	const op = "ingest.Ingest"

	if req.DocumentID == "" {
		doc := &models.Document{
			OwnerID:    req.Owner,
			Title:      strings.TrimSpace(req.Title),
			Filename:   req.Filename,
			SourceType: req.sourceType(),
			FileSize:   int64(len(req.Source.Bytes)),
		}
		if doc.Title == "" {
			// URL sources may omit the title; the page title replaces
			// this placeholder after extraction.
			doc.Title = req.Source.CrawlURL
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := doc.Create(tx); err != nil {
				return err
			}
			return tx.Create(models.NewDocumentEvent(doc, models.DocumentEventPending)).Error
		})
		if err != nil {
			return nil, false, apperr.Wrapf(op, apperr.Transient, err, "create document")
		}
		if !s.inflight.acquire(doc.ID) {
			return nil, false, apperr.New(op, apperr.Transient, "ingestion already in progress for document "+doc.ID)
		}
		return doc, false, nil
	}

	// Take the slot before touching the row so two concurrent
	// re-ingests cannot both reset it.
	if !s.inflight.acquire(req.DocumentID) {
		return nil, false, apperr.New(op, apperr.Transient, "ingestion already in progress for document "+req.DocumentID)
	}

	doc, err := models.GetDocumentForOwner(s.db.WithContext(ctx), req.Owner, req.DocumentID)
	if err != nil {
		s.inflight.release(req.DocumentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.New(op, apperr.NotFound, fmt.Sprintf("document %s not found", req.DocumentID))
		}
		return nil, false, apperr.Wrapf(op, apperr.Transient, err, "load document")
	}

	if t := strings.TrimSpace(req.Title); t != "" {
		doc.Title = t
	}
	if req.Filename != "" {
		doc.Filename = req.Filename
	}
	doc.SourceType = req.sourceType()
	doc.Status = models.DocumentStatusPending
	doc.FileSize = int64(len(req.Source.Bytes))
	doc.ProcessingError = ""

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"title":            doc.Title,
			"filename":         doc.Filename,
			"source_type":      doc.SourceType,
			"status":           doc.Status,
			"file_size":        doc.FileSize,
			"processing_error": "",
			"updated_at":       time.Now(),
		}
		if err := tx.Model(&models.Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Create(models.NewDocumentEvent(doc, models.DocumentEventPending)).Error
	})
	if err != nil {
		s.inflight.release(doc.ID)
		return nil, false, apperr.Wrapf(op, apperr.Transient, err, "reset document")
	}
	return doc, true, nil
}

func (s *Service) matchRule(doc *models.Document) (*Rule, error) {
	const op = "ingest.Ingest"
	rule := s.ruleset.Match(doc.SourceType)
	if rule == nil {
		return nil, apperr.New(op, apperr.InvalidInput,
			fmt.Sprintf("no ruleset rule matches source type %q", doc.SourceType))
	}
	return rule, nil
}

// stepStatus maps pipeline steps to the lifecycle status the document
// must hold before the step runs.
var stepStatus = map[string]string{
	StepExtract: models.DocumentStatusProcessing,
	StepChunk:   models.DocumentStatusProcessingEmbeddings,
}

// run executes the rule's step chain, advancing the document status at
// the extraction and chunking boundaries.
func (s *Service) run(ctx context.Context, j *job) error {
	const op = "ingest.run"

	steps := map[string]stepFunc{
		StepExtract:  s.stepExtract,
		StepChunk:    s.stepChunk,
		StepEmbed:    s.stepEmbed,
		StepUpsert:   s.stepUpsert,
		StepFinalize: s.stepFinalize,
	}

	for _, name := range j.rule.Pipeline {
		fn, ok := steps[name]
		if !ok {
			return apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unknown pipeline step %q", name))
		}
		if status := stepStatus[name]; status != "" && j.doc.Status != status {
			if err := s.transition(ctx, j.doc, status); err != nil {
				return err
			}
		}

		started := time.Now()
		if err := fn(ctx, j); err != nil {
			return err
		}
		s.logger.Debug("pipeline step done",
			"step", name,
			"document_id", j.doc.ID,
			"duration", time.Since(started),
		)
	}
	return nil
}

// transition advances the lifecycle status and writes the matching
// outbox event in one transaction.
func (s *Service) transition(ctx context.Context, doc *models.Document, status string) error {
	const op = "ingest.transition"

	doc.Status = status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.SetDocumentStatus(tx, doc.ID, status); err != nil {
			return err
		}
		return tx.Create(models.NewDocumentEvent(doc, models.EventTypeForStatus(status))).Error
	})
	if err != nil {
		return apperr.Wrapf(op, apperr.Transient, err, "advance to %s", status)
	}
	return nil
}

// fail marks the document failed and records the reason. Runs without
// the request context so a cancelled ingestion still leaves a failed
// row behind. Chunks upserted before the failure stay in the index;
// document deletion removes them by filter.
func (s *Service) fail(doc *models.Document, cause error) {
	doc.Status = models.DocumentStatusFailed
	doc.ProcessingError = cause.Error()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := models.FailDocument(tx, doc.ID, doc.ProcessingError); err != nil {
			return err
		}
		return tx.Create(models.NewDocumentEvent(doc, models.DocumentEventFailed)).Error
	})
	if err != nil {
		s.logger.Error("could not record ingestion failure",
			"document_id", doc.ID,
			"error", err,
		)
	}
}

// inflightSet tracks document ids with an ingestion in progress.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (f *inflightSet) acquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.ids[id]; busy {
		return false
	}
	if f.ids == nil {
		f.ids = make(map[string]struct{})
	}
	f.ids[id] = struct{}{}
	return true
}

func (f *inflightSet) release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}
