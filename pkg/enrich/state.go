package enrich

import (
	"fmt"
	"strings"
)

// DocumentKind discriminates the context document variants.
type DocumentKind string

const (
	// DocFullText is a small document reconstructed in full.
	DocFullText DocumentKind = "full_text"
	// DocExcerpts is a large document represented by its most relevant
	// chunks.
	DocExcerpts DocumentKind = "excerpts"
	// DocCrawledPage is a page linked in the message and fetched live.
	DocCrawledPage DocumentKind = "crawled_page"
)

// ContextDocument is one grounding document, formatted and ready for
// prompt injection. Exactly one of DocumentID and URL identifies the
// source, depending on Kind.
type ContextDocument struct {
	Kind DocumentKind `json:"kind"`

	DocumentID string `json:"document_id,omitempty"`
	URL        string `json:"url,omitempty"`

	Title    string `json:"title"`
	Filename string `json:"filename,omitempty"`

	// WordCount and PageCount describe the included text; ChunkCount is
	// the document's indexed size (zero for crawled pages).
	WordCount  int `json:"word_count"`
	PageCount  int `json:"page_count"`
	ChunkCount int `json:"chunk_count,omitempty"`

	// Text is the header-prefixed content block.
	Text string `json:"text"`

	// Truncated reports that the token budget cut the content.
	Truncated bool `json:"truncated,omitempty"`
}

// Knowledge is one decrypted saved text.
type Knowledge struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// WebSource is one search hit surfaced for display.
type WebSource struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Snippet string `json:"snippet,omitempty"`
}

// BranchError records one degraded branch or item.
type BranchError struct {
	Branch  string `json:"branch"`
	Message string `json:"message"`
}

// Branch names reported in errors.
const (
	branchURLs       = "urls"
	branchDocuments  = "documents"
	branchSavedTexts = "saved_texts"
	branchWebSearch  = "web_search"
)

// Content-type labels shown in document headers.
var kindLabels = map[DocumentKind]string{
	DocFullText:    "Volltext",
	DocExcerpts:    "Auszüge",
	DocCrawledPage: "Webseite",
}

// contextHeader renders the consistent metadata line every document
// block starts with.
func contextHeader(d ContextDocument) string {
	parts := []string{"Dokument: " + d.Title}
	if d.Filename != "" {
		parts = append(parts, "Datei: "+d.Filename)
	}
	if d.URL != "" {
		parts = append(parts, "URL: "+d.URL)
	}
	parts = append(parts,
		fmt.Sprintf("ca. %d Seiten", d.PageCount),
		fmt.Sprintf("%d Wörter", d.WordCount),
		kindLabels[d.Kind],
	)
	return "--- " + strings.Join(parts, " | ") + " ---"
}

// instructions derives prompt-assembly hints from the present context.
func instructions(st *State) []string {
	out := []string{}
	if len(st.Documents) > 0 {
		out = append(out, "Stütze deine Antwort auf die bereitgestellten Dokumente und benenne das Dokument, aus dem eine Aussage stammt.")
	}
	for _, d := range st.Documents {
		if d.Kind == DocCrawledPage {
			out = append(out, "Verlinkte Webseiten wurden abgerufen und sind als Dokumente beigefügt.")
			break
		}
	}
	if len(st.Knowledge) > 0 {
		out = append(out, "Berücksichtige die gespeicherten Texte des Nutzers als Hintergrund, ohne sie wörtlich zu wiederholen.")
	}
	if st.WebSummary != "" || len(st.WebSources) > 0 {
		out = append(out, "Nutze die Websuche für aktuelle Entwicklungen und nenne die jeweilige Quelle.")
	}
	return out
}
