// Package documents manages ingested documents after the fact: full
// text retrieval, listing, and deletion with the vector-index cascade.
// Every operation is owner-scoped; absent and foreign documents are
// NotFound alike, so callers cannot probe other tenants' ids.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// FullText is one reconstructed document.
type FullText struct {
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title"`
	Filename   string         `json:"filename,omitempty"`
	SourceType string         `json:"source_type"`
	FullText   string         `json:"full_text"`
	ChunkCount int            `json:"chunk_count"`
	Metadata   models.JSONMap `json:"metadata,omitempty"`
}

// BatchError reports why one id of a batch operation failed.
type BatchError struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message"`
}

// BatchTexts is the outcome of a multi-document text retrieval. Failed
// ids land in Errors without affecting the others.
type BatchTexts struct {
	Documents []FullText   `json:"documents"`
	Errors    []BatchError `json:"errors,omitempty"`
}

// BulkDeleteResult reports a bulk deletion id by id.
type BulkDeleteResult struct {
	Deleted []string     `json:"deleted"`
	Errors  []BatchError `json:"errors,omitempty"`
}

// Config wires a document Service.
type Config struct {
	// DB holds the document rows and the event outbox. Required.
	DB *gorm.DB

	// Index holds the document chunks. Required.
	Index vectorindex.Index

	// Collection is the chunk collection documents live in. Required.
	Collection string

	// TextIndex is the external keyword mirror fed by ingestion. Nil
	// when the payload index serves text search.
	TextIndex search.TextIndexWriter

	Logger hclog.Logger
}

// Service manages ingested documents.
type Service struct {
	db         *gorm.DB
	index      vectorindex.Index
	collection string
	textIndex  search.TextIndexWriter
	logger     hclog.Logger
}

// New builds the document service.
func New(cfg Config) (*Service, error) {
	const op = "documents.New"
	if cfg.DB == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "database handle is required")
	}
	if cfg.Index == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "vector index is required")
	}
	if cfg.Collection == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "collection name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Service{
		db:         cfg.DB,
		index:      cfg.Index,
		collection: cfg.Collection,
		textIndex:  cfg.TextIndex,
		logger:     cfg.Logger.Named("documents"),
	}, nil
}

// GetFullText reconstructs a document's text from its indexed chunks,
// whatever its size. Documents that are not completed have no indexed
// text yet and report NotFound with the status in the message.
func (s *Service) GetFullText(ctx context.Context, owner, id string) (*FullText, error) {
	const op = "documents.GetFullText"

	doc, err := s.ownedDocument(ctx, op, owner, id)
	if err != nil {
		return nil, err
	}
	if !doc.IsCompleted() {
		return nil, apperr.New(op, apperr.NotFound,
			fmt.Sprintf("document %s has no indexed text (status %s)", doc.ID, doc.Status))
	}

	hits, err := s.index.ScrollAll(ctx, s.collection, vectorindex.Filter{
		Owner:       owner,
		DocumentIDs: []string{doc.ID},
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, apperr.New(op, apperr.NotFound,
			fmt.Sprintf("document %s has no indexed chunks", doc.ID))
	}
	if len(hits) != doc.VectorCount {
		s.logger.Warn("chunk count differs from document row",
			"document_id", doc.ID, "indexed", len(hits), "recorded", doc.VectorCount)
	}

	return &FullText{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Filename:   doc.Filename,
		SourceType: doc.SourceType,
		FullText:   search.JoinChunks(hits),
		ChunkCount: len(hits),
		Metadata:   doc.Metadata,
	}, nil
}

// GetMultipleFullTexts retrieves several documents at once. Each id
// fails on its own; only cancellation aborts the batch.
func (s *Service) GetMultipleFullTexts(ctx context.Context, owner string, ids []string) (*BatchTexts, error) {
	const op = "documents.GetMultipleFullTexts"
	if owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}

	out := &BatchTexts{Documents: []FullText{}}
	for _, id := range ids {
		text, err := s.GetFullText(ctx, owner, id)
		if err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return nil, err
			}
			out.Errors = append(out.Errors, BatchError{DocumentID: id, Message: err.Error()})
			continue
		}
		out.Documents = append(out.Documents, *text)
	}
	return out, nil
}

// Delete removes a document: chunks from the vector index first, then
// the keyword mirror, then the row together with its outbox event. A
// failed chunk deletion leaves the row in place so a retry still sees
// the document.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	const op = "documents.Delete"
	started := time.Now()

	doc, err := s.ownedDocument(ctx, op, owner, id)
	if err != nil {
		return err
	}

	if err := s.index.Delete(ctx, s.collection, vectorindex.Filter{
		Owner:       owner,
		DocumentIDs: []string{doc.ID},
	}); err != nil {
		return apperr.Wrapf(op, apperr.Transient, err, "delete chunks of document %s", doc.ID)
	}
	if s.textIndex != nil {
		if err := s.textIndex.DeleteDocument(ctx, s.collection, doc.ID); err != nil {
			// The mirror rebuilds from the vector index; losing an
			// entry must not block the deletion.
			s.logger.Warn("text index delete failed", "document_id", doc.ID, "error", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := models.DeleteDocumentForOwner(tx, owner, doc.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(models.NewDocumentEvent(doc, models.DocumentEventDeleted)).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(op, apperr.NotFound, fmt.Sprintf("document %s not found", doc.ID))
		}
		return apperr.Wrapf(op, apperr.Transient, err, "delete document %s", doc.ID)
	}

	s.logger.Info("document deleted",
		"owner", owner,
		"document_id", doc.ID,
		"chunks", doc.VectorCount,
		"took", time.Since(started),
	)
	return nil
}

// BulkDelete removes several documents. Each id fails on its own; only
// cancellation aborts the batch.
func (s *Service) BulkDelete(ctx context.Context, owner string, ids []string) (*BulkDeleteResult, error) {
	const op = "documents.BulkDelete"
	if owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}

	out := &BulkDeleteResult{Deleted: []string{}}
	for _, id := range ids {
		if err := s.Delete(ctx, owner, id); err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return nil, err
			}
			out.Errors = append(out.Errors, BatchError{DocumentID: id, Message: err.Error()})
			continue
		}
		out.Deleted = append(out.Deleted, id)
	}
	return out, nil
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, owner string, limit, offset int) ([]models.Document, error) {
	const op = "documents.List"
	if owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}
	docs, err := models.ListDocumentsForOwner(s.db.WithContext(ctx), owner, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	return docs, nil
}

// ownedDocument validates the id and loads the row scoped to its
// owner.
func (s *Service) ownedDocument(ctx context.Context, op, owner, id string) (*models.Document, error) {
	if owner == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "owner is required")
	}
	canonical, err := docid.ParseDocumentID(id)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}

	doc, err := models.GetDocumentForOwner(s.db.WithContext(ctx), owner, canonical)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(op, apperr.NotFound, fmt.Sprintf("document %s not found", canonical))
		}
		if ctx.Err() != nil {
			return nil, apperr.Wrap(op, apperr.Cancelled, err)
		}
		return nil, apperr.Wrapf(op, apperr.Transient, err, "load document %s", canonical)
	}
	return doc, nil
}
