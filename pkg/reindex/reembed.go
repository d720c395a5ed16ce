package reindex

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/go-multierror"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Reembed re-runs embedding for every completed document's chunks and
// upserts the new vectors.
//
// With an empty targetCollection the source collection is rewritten in
// place, which is only valid while the vector dimension is unchanged
// (same model family, new weights). A dimension change requires a
// fresh targetCollection; retrieval switches over once the job
// completes.
func (s *Service) Reembed(ctx context.Context, targetCollection string) (*Report, error) {
	const op = "reindex.Reembed"

	if s.index == nil || s.embedder == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "index and embedder are required for re-embedding")
	}
	if s.collection == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "source collection is required")
	}

	job, resumed, err := s.resumeOrCreate(op, models.ReindexKindReembed, targetCollection)
	if err != nil {
		return nil, err
	}
	if resumed {
		// The stored target wins over the argument: mixing targets
		// within one job would scatter chunks across collections.
		targetCollection = job.TargetCollection
	}
	target := targetCollection
	if target == "" {
		target = s.collection
	}

	if err := s.index.EnsureCollection(ctx, target, s.embedder.Dimension()); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	var total int64
	if err := s.db.Model(&models.Document{}).
		Where("status = ?", models.DocumentStatusCompleted).
		Count(&total).Error; err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	if err := s.startJob(job, int(total)); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	s.logger.Info("re-embedding started",
		"job_uuid", job.JobUUID, "documents", total,
		"source", s.collection, "target", target,
		"dimension", s.embedder.Dimension())

	errs := &multierror.Error{}
	cursor := job.Cursor

	for {
		if err := ctx.Err(); err != nil {
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Cancelled, err)
		}

		// One worker-pool round per checkpoint. The cursor only moves
		// past a document once its whole round finished, so a resumed
		// job re-does at most one round.
		var docs []models.Document
		err := s.db.
			Where("status = ? AND id > ?", models.DocumentStatusCompleted, cursor).
			Order("id ASC").Limit(s.workers).Find(&docs).Error
		if err != nil {
			s.finishJob(job, err)
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Transient, err)
		}
		if len(docs) == 0 {
			break
		}

		results := make([]error, len(docs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i := range docs {
			i := i
			g.Go(func() error {
				results[i] = s.reembedDocument(gctx, &docs[i], target)
				return nil
			})
		}
		_ = g.Wait()

		processed, failed := 0, 0
		for i, rerr := range results {
			if rerr != nil {
				failed++
				errs = multierror.Append(errs, fmt.Errorf("document %s: %w", docs[i].ID, rerr))
				s.logger.Warn("document re-embedding failed",
					"document_id", docs[i].ID, "error", rerr)
				continue
			}
			processed++
		}

		cursor = docs[len(docs)-1].ID
		if err := s.checkpoint(job, cursor, processed, failed, errs.ErrorOrNil()); err != nil {
			s.finishJob(job, err)
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Transient, err)
		}
	}

	s.finishJob(job, nil)
	s.logger.Info("re-embedding finished",
		"job_uuid", job.JobUUID,
		"processed", job.ProcessedItems, "failed", job.FailedItems)
	return reportFrom(job, resumed, errs), nil
}

// reembedDocument reads a document's chunks back from the source
// collection, embeds their text with the current provider, and upserts
// the result into the target collection.
func (s *Service) reembedDocument(ctx context.Context, doc *models.Document, target string) error {
	hits, err := s.index.ScrollAll(ctx, s.collection, vectorindex.Filter{
		Owner:       doc.OwnerID,
		DocumentIDs: []string{doc.ID},
	})
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return fmt.Errorf("no chunks in collection %s", s.collection)
	}
	sortHitsByOrdinal(hits)

	records := make([]vectorindex.ChunkRecord, len(hits))
	for i, h := range hits {
		records[i] = vectorindex.ChunkRecord{
			DocumentID: h.DocumentID,
			OwnerID:    h.OwnerID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Title:      h.Title,
			Filename:   h.Filename,
			SourceType: h.SourceType,
		}
	}

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = records[i].Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i := start; i < end; i++ {
			records[i].Vector = vectors[i-start]
		}
	}

	return s.index.Upsert(ctx, target, records)
}
