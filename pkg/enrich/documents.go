package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

// documentContexts turns the selected rows into context documents.
// Small documents are reconstructed in full; large ones are represented
// by the most relevant chunks of one hybrid search scoped to their ids.
// Failures degrade per document, cancellation aborts.
func (s *Service) documentContexts(ctx context.Context, owner, message string, rows []models.Document) ([]ContextDocument, []BranchError, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}

	var (
		docs  []ContextDocument
		errs  []BranchError
		large []models.Document
	)

	for _, row := range rows {
		if !row.IsCompleted() {
			errs = append(errs, BranchError{
				Branch:  branchDocuments,
				Message: fmt.Sprintf("document %s: not ready (status %s)", row.ID, row.Status),
			})
			continue
		}

		text, ok, err := s.retriever.FullText(ctx, owner, row.ID)
		if err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return nil, nil, err
			}
			errs = append(errs, BranchError{
				Branch:  branchDocuments,
				Message: fmt.Sprintf("document %s: %s", row.ID, err),
			})
			continue
		}
		if !ok {
			large = append(large, row)
			continue
		}
		docs = append(docs, s.fullTextDocument(row, text))
	}

	excerpts, excerptErrs, err := s.excerptDocuments(ctx, owner, message, large)
	if err != nil {
		return nil, nil, err
	}
	return append(docs, excerpts...), append(errs, excerptErrs...), nil
}

func (s *Service) fullTextDocument(row models.Document, text string) ContextDocument {
	body, truncated := budgetText(text, s.documentTokens, s.tokens)
	doc := ContextDocument{
		Kind:       DocFullText,
		DocumentID: row.ID,
		Title:      row.Title,
		Filename:   row.Filename,
		WordCount:  countWords(body),
		ChunkCount: row.VectorCount,
		Truncated:  truncated,
	}
	doc.PageCount = estimatePages(doc.WordCount)
	doc.Text = contextHeader(doc) + "\n" + body
	return doc
}

// excerptDocuments runs one hybrid search scoped to the large documents
// and groups the hits back per document, preserving fused order within
// each. Documents without a relevant chunk are left out.
func (s *Service) excerptDocuments(ctx context.Context, owner, message string, rows []models.Document) ([]ContextDocument, []BranchError, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}
	if message == "" {
		return nil, []BranchError{{
			Branch:  branchDocuments,
			Message: "excerpts skipped: no message text to search with",
		}}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	resp, err := s.retriever.Search(ctx, search.Query{
		Text:        message,
		Owner:       owner,
		DocumentIDs: ids,
		Mode:        search.ModeHybrid,
		Limit:       excerptLimit,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.Cancelled) {
			return nil, nil, err
		}
		return nil, []BranchError{{
			Branch:  branchDocuments,
			Message: "excerpt search: " + err.Error(),
		}}, nil
	}

	byDoc := make(map[string][]search.Result, len(rows))
	for _, res := range resp.Results {
		byDoc[res.DocumentID] = append(byDoc[res.DocumentID], res)
	}

	var docs []ContextDocument
	for _, row := range rows {
		hits := byDoc[row.ID]
		if len(hits) == 0 {
			continue
		}
		docs = append(docs, s.excerptDocument(row, hits))
	}
	return docs, nil, nil
}

func (s *Service) excerptDocument(row models.Document, hits []search.Result) ContextDocument {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = strings.TrimSpace(h.ChunkText)
	}
	body, truncated := budgetText(strings.Join(parts, "\n\n[…]\n\n"), s.documentTokens, s.tokens)

	doc := ContextDocument{
		Kind:       DocExcerpts,
		DocumentID: row.ID,
		Title:      row.Title,
		Filename:   row.Filename,
		WordCount:  countWords(body),
		ChunkCount: row.VectorCount,
		Truncated:  truncated,
	}
	doc.PageCount = estimatePages(doc.WordCount)
	doc.Text = contextHeader(doc) + "\n" + body
	return doc
}
