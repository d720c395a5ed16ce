package crawler

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/iancoleman/strcase"
)

// Semantic containers tried in order for the main content. The first
// one with enough text wins.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".content",
	".post-content",
	".entry-content",
	".article-body",
}

// Elements that are navigation or chrome, not content.
const boilerplateSelector = "script, style, noscript, iframe, nav, header, footer, aside, form, svg"

// minContentChars is the text length a semantic container must reach
// to be trusted as the main content.
const minContentChars = 200

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

func (c *Crawler) extractPage(page *fetchedPage, opts Options) *Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.html))
	if err != nil {
		return &Result{
			Success:    false,
			Error:      "html parse failed: " + err.Error(),
			FinalURL:   page.finalURL,
			StatusCode: page.statusCode,
		}
	}

	content := c.selectContent(doc)
	text := cleanText(content.Text())
	markdown := strings.TrimSpace(c.conv.Convert(content))

	res := &Result{
		Success:       true,
		Content:       text,
		Markdown:      markdown,
		Title:         extractTitle(doc),
		Description:   metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
		Canonical:     extractCanonical(doc, page.finalURL),
		PublishedDate: extractPublishedDate(doc),
		WordCount:     len(strings.Fields(text)),
		CharCount:     len([]rune(text)),
		FinalURL:      page.finalURL,
		StatusCode:    page.statusCode,
	}
	if opts.EnhancedMetadata {
		res.Metadata = extractEnhancedMetadata(doc)
	}
	return res
}

// selectContent returns the main content selection with boilerplate
// removed.
func (c *Crawler) selectContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		cleaned := sel.Clone()
		cleaned.Find(boilerplateSelector).Remove()
		if len([]rune(strings.TrimSpace(cleaned.Text()))) >= minContentChars {
			return cleaned
		}
	}

	body := doc.Find("body").Clone()
	body.Find(boilerplateSelector).Remove()
	return body
}

// cleanText collapses whitespace runs the way OCR and web text is
// normalised elsewhere in the pipeline.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(newlineRuns.ReplaceAllString(s, "\n\n"))
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return metaContent(doc, `meta[property="og:title"]`)
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func extractCanonical(doc *goquery.Document, base string) string {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(u).String()
}

// Date sources in priority order: structured article metadata first,
// generic meta tags after, a <time> element as last resort.
var dateSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`meta[name="DC.date.issued"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{`time[datetime]`, "datetime"},
}

func extractPublishedDate(doc *goquery.Document) *time.Time {
	for _, ds := range dateSelectors {
		raw, ok := doc.Find(ds.selector).First().Attr(ds.attr)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if ts, err := dateparse.ParseAny(raw); err == nil {
			return &ts
		}
	}
	return nil
}

// Open-Graph and category properties copied into enhanced metadata.
var enhancedProperties = []string{
	"og:image",
	"og:image:width",
	"og:image:height",
	"og:type",
	"og:site_name",
	"article:section",
	"article:tag",
}

func extractEnhancedMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	for _, prop := range enhancedProperties {
		v := metaContent(doc, `meta[property="`+prop+`"]`)
		if v == "" {
			continue
		}
		key := strcase.ToSnake(strings.ReplaceAll(prop, ":", " "))
		meta[key] = v
	}
	if v := metaContent(doc, `meta[name="keywords"]`); v != "" {
		meta["keywords"] = v
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
