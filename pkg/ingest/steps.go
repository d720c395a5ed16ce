package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/chunk"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/embedding"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/extract"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// previewRunes is how much of the text the metadata preview keeps.
const previewRunes = 200

// job carries one ingestion through the pipeline steps.
type job struct {
	doc     *models.Document
	req     *Request
	rule    *Rule
	replace bool

	text    string
	stats   *extract.Stats
	crawl   *crawler.Result
	chunks  []chunk.Chunk
	vectors [][]float32
}

// stepFunc is one pipeline stage.
type stepFunc func(ctx context.Context, j *job) error

// stepExtract turns the request source into text. Uploaded bytes go
// through the document extractor, URLs through the crawler, raw text
// is taken as-is.
func (s *Service) stepExtract(ctx context.Context, j *job) error {
	const op = "ingest.extract"

	switch {
	case len(j.req.Source.Bytes) > 0:
		if s.extractor == nil {
			return apperr.New(op, apperr.InvalidInput, "no extractor configured for file sources")
		}
		res, err := s.extractor.Extract(ctx, j.req.Source.Bytes, j.doc.Filename)
		if err != nil {
			return err
		}
		j.text = res.Text
		j.stats = &res.Stats

	case strings.TrimSpace(j.req.Source.CrawlURL) != "":
		if s.crawler == nil {
			return apperr.New(op, apperr.InvalidInput, "no crawler configured for URL sources")
		}
		res, err := s.crawler.Crawl(ctx, j.req.Source.CrawlURL, crawler.Options{})
		if err != nil {
			return err
		}
		if !res.Success {
			return apperr.New(op, apperr.Permanent, fmt.Sprintf("crawl failed: %s", res.Error))
		}
		j.crawl = res
		j.text = res.Markdown
		if strings.TrimSpace(j.text) == "" {
			j.text = res.Content
		}
		if strings.TrimSpace(j.req.Title) == "" && res.Title != "" {
			// The page title replaces the URL placeholder.
			j.doc.Title = res.Title
			err := s.db.WithContext(ctx).Model(&models.Document{}).
				Where("id = ?", j.doc.ID).
				Update("title", res.Title).Error
			if err != nil {
				return apperr.Wrapf(op, apperr.Transient, err, "store page title")
			}
		}

	default:
		j.text = strings.TrimSpace(j.req.Source.RawText)
	}

	if strings.TrimSpace(j.text) == "" {
		return apperr.New(op, apperr.Permanent, "source yielded no text")
	}
	return nil
}

// stepChunk splits the text with the rule's parameters, clamped to
// what the embedding model can take per input.
func (s *Service) stepChunk(_ context.Context, j *job) error {
	const op = "ingest.chunk"

	opts := chunk.Options{}
	if p := j.rule.Chunk; p != nil {
		opts.MaxTokens = p.MaxTokens
		opts.OverlapTokens = p.OverlapTokens
		opts.PreserveStructure = p.PreserveStructure
	}
	model := embedding.GetModelConfig(s.embedder.ModelName())
	if opts.MaxTokens <= 0 || opts.MaxTokens > model.MaxChunkTokens {
		opts.MaxTokens = model.MaxChunkTokens
	}

	j.chunks = chunk.New(opts).Chunk(j.text)
	if len(j.chunks) == 0 {
		return apperr.New(op, apperr.Permanent, "chunker produced no chunks")
	}
	return nil
}

// stepEmbed turns chunk texts into vectors, in batches with bounded
// parallelism. Each batch writes into its own region of the vector
// slice, so chunk order survives the concurrency.
func (s *Service) stepEmbed(ctx context.Context, j *job) error {
	const op = "ingest.embed"

	texts := make([]string, len(j.chunks))
	for i, c := range j.chunks {
		texts[i] = c.Text
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for start := 0; start < len(texts); start += s.batchSize {
		start := start
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := s.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return apperr.New(op, apperr.Permanent,
					fmt.Sprintf("provider returned %d vectors for %d inputs", len(vecs), end-start))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	j.vectors = vectors
	return nil
}

// stepUpsert writes chunk points into the vector index and mirrors
// them into the external text index when one is configured. Re-ingests
// clear the document's old points first, so a document that shrank
// leaves no stale tail behind the new chunk count.
func (s *Service) stepUpsert(ctx context.Context, j *job) error {
	if err := s.index.EnsureCollection(ctx, s.collection, s.embedder.Dimension()); err != nil {
		return err
	}

	if j.replace {
		filter := vectorindex.Filter{DocumentIDs: []string{j.doc.ID}}
		if err := s.index.Delete(ctx, s.collection, filter); err != nil {
			return err
		}
		if s.textIndex != nil {
			if err := s.textIndex.DeleteDocument(ctx, s.collection, j.doc.ID); err != nil {
				s.logger.Warn("text index delete failed",
					"document_id", j.doc.ID,
					"error", err,
				)
			}
		}
	}

	records := make([]vectorindex.ChunkRecord, len(j.chunks))
	for i, c := range j.chunks {
		records[i] = vectorindex.ChunkRecord{
			DocumentID: j.doc.ID,
			OwnerID:    j.doc.OwnerID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Title:      j.doc.Title,
			Filename:   j.doc.Filename,
			SourceType: j.doc.SourceType,
			Vector:     j.vectors[i],
		}
	}
	if err := s.index.Upsert(ctx, s.collection, records); err != nil {
		return err
	}

	// The mirror is best effort: on failure keyword search degrades
	// while vector retrieval keeps working.
	if s.textIndex != nil {
		if err := s.textIndex.IndexChunks(ctx, s.collection, records); err != nil {
			s.logger.Warn("text index mirror failed",
				"document_id", j.doc.ID,
				"error", err,
			)
		}
	}
	return nil
}

// stepFinalize completes the document: vector count, content preview
// and counts, extraction and crawl facts, in one transaction with the
// completed outbox event.
func (s *Service) stepFinalize(ctx context.Context, j *job) error {
	const op = "ingest.finalize"

	metadata := s.buildMetadata(j)
	doc := j.doc
	doc.Status = models.DocumentStatusCompleted
	doc.VectorCount = len(j.chunks)
	doc.Metadata = metadata
	doc.ProcessingError = ""

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.CompleteDocument(tx, doc.ID, doc.VectorCount, metadata); err != nil {
			return err
		}
		return tx.Create(models.NewDocumentEvent(doc, models.DocumentEventCompleted)).Error
	})
	if err != nil {
		return apperr.Wrapf(op, apperr.Transient, err, "complete document")
	}
	return nil
}

// buildMetadata assembles the metadata JSON persisted on completion.
// Request-supplied metadata comes first so pipeline facts win on key
// collisions.
func (s *Service) buildMetadata(j *job) models.JSONMap {
	facts := map[string]interface{}{
		"preview":         preview(j.text, previewRunes),
		"word_count":      len(strings.Fields(j.text)),
		"char_count":      utf8.RuneCountInString(j.text),
		"chunk_count":     len(j.chunks),
		"embedding_model": s.embedder.ModelName(),
	}
	if j.stats != nil {
		facts["extraction_method"] = string(j.stats.Method)
		if j.stats.PagesProcessed > 0 {
			facts["pages_processed"] = j.stats.PagesProcessed
		}
	}
	if j.crawl != nil {
		facts["source_url"] = j.req.Source.CrawlURL
		if j.crawl.FinalURL != "" && j.crawl.FinalURL != j.req.Source.CrawlURL {
			facts["final_url"] = j.crawl.FinalURL
		}
		if j.crawl.Canonical != "" {
			facts["canonical_url"] = j.crawl.Canonical
		}
		if j.crawl.Description != "" {
			facts["description"] = j.crawl.Description
		}
		if j.crawl.PublishedDate != nil {
			facts["published_date"] = j.crawl.PublishedDate.Format(time.RFC3339)
		}
	}
	return models.JSONMap(j.req.Metadata).Merge(facts)
}

// preview returns the first n runes of the text, cut back to a word
// boundary, with whitespace collapsed.
func preview(text string, n int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= n {
		return collapsed
	}
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
