package enrich

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// crawlLinkedPages detects URLs in the message, drops ones already
// ingested as selected documents, and fetches the rest concurrently.
// Each page becomes a context document; fetch failures degrade per URL.
// User-typed URLs are data, so even a malformed one only fails its own
// entry.
func (s *Service) crawlLinkedPages(ctx context.Context, message string, attached []models.Document) ([]ContextDocument, []BranchError, error) {
	urls := detectURLs(message, attachedURLs(attached))
	if len(urls) == 0 {
		return nil, nil, nil
	}

	docs := make([]*ContextDocument, len(urls))
	errs := make([]*BranchError, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, pageURL := range urls {
		g.Go(func() error {
			res, err := s.crawler.Crawl(gctx, pageURL, crawler.Options{
				Timeout:  urlCrawlTimeout,
				MaxBytes: crawlMaxBytes,
			})
			if err != nil {
				if apperr.IsKind(err, apperr.Cancelled) {
					return err
				}
				errs[i] = &BranchError{Branch: branchURLs, Message: pageURL + ": " + err.Error()}
				return nil
			}
			if !res.Success {
				errs[i] = &BranchError{Branch: branchURLs, Message: pageURL + ": " + res.Error}
				return nil
			}
			doc := s.crawledDocument(pageURL, res)
			docs[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		out     []ContextDocument
		outErrs []BranchError
	)
	for i := range urls {
		if docs[i] != nil {
			out = append(out, *docs[i])
		}
		if errs[i] != nil {
			outErrs = append(outErrs, *errs[i])
		}
	}
	return out, outErrs, nil
}

func (s *Service) crawledDocument(pageURL string, res *crawler.Result) ContextDocument {
	text := res.Markdown
	if strings.TrimSpace(text) == "" {
		text = res.Content
	}
	body, truncated := budgetText(text, s.crawlTokens, s.tokens)

	title := res.Title
	if title == "" {
		title = pageURL
	}
	doc := ContextDocument{
		Kind:      DocCrawledPage,
		URL:       pageURL,
		Title:     title,
		WordCount: countWords(body),
		Truncated: truncated,
	}
	doc.PageCount = estimatePages(doc.WordCount)
	doc.Text = contextHeader(doc) + "\n" + body
	return doc
}

// detectURLs extracts at most maxDetectedURLs distinct URLs from the
// message, skipping ones whose canonical form is already attached.
func detectURLs(message string, attached map[string]struct{}) []string {
	matches := urlPattern.FindAllString(message, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var urls []string
	for _, m := range matches {
		u := strings.TrimRight(m, ".,;:!?)]}>\"'")
		key := citations.CanonicalURL(u)
		if _, dup := seen[key]; dup {
			continue
		}
		if _, dup := attached[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		urls = append(urls, u)
		if len(urls) == maxDetectedURLs {
			break
		}
	}
	return urls
}

// attachedURLs collects the canonical source URLs of already ingested
// documents, keyed for dedupe.
func attachedURLs(rows []models.Document) map[string]struct{} {
	out := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		src := row.Metadata.GetString("source_url")
		if src == "" {
			continue
		}
		out[citations.CanonicalURL(src)] = struct{}{}
	}
	return out
}
