// Package citations builds numbered reference maps for drafting
// prompts and validates the [n] markers a model places in its reply.
//
// The flow is always the same: collect candidate sources, number them
// once with BuildReferenceMap, render the numbered list into the
// prompt with FormatForPrompt, and run the model's draft through
// ValidateAndInject. Reference ids are assigned in a single pass and
// never renumbered afterwards, so a marker in the draft means the same
// source before and after validation.
package citations

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SourceKind labels where a reference came from.
type SourceKind string

const (
	// SourceWeb is an external page found via meta-search or crawling.
	SourceWeb SourceKind = "web"
	// SourceDocument is a chunk of a user-owned document.
	SourceDocument SourceKind = "document"
	// SourceGrundsatz is a chunk of the shared official-documents
	// collection (Grundsatzprogramm, Wahlprogramme).
	SourceGrundsatz SourceKind = "grundsatz"
)

// Candidate is one source offered for citation before numbering.
// Primary candidates (full-content pages, top-ranked chunks) are
// numbered before supplementary ones regardless of input order.
type Candidate struct {
	Title      string
	URL        string
	DocumentID string
	Kind       SourceKind
	Primary    bool
	Snippets   []string
	Score      float64
	ChunkIndex *int
}

// Reference is a numbered source a draft may cite.
type Reference struct {
	ID       int        `json:"numeric_id"`
	Title    string     `json:"title"`
	Snippets []string   `json:"snippets"`
	URL      string     `json:"url,omitempty"`
	Kind     SourceKind `json:"source_kind"`
	Score    float64    `json:"similarity_score,omitempty"`
	ChunkIdx *int       `json:"chunk_index,omitempty"`
}

// ReferenceMap holds the numbered references of one drafting call.
// Ids are unique and contiguous from 1.
type ReferenceMap map[int]Reference

// IDs returns the reference ids in ascending order.
func (m ReferenceMap) IDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Limits bounds how many candidates become references. Zero or
// negative values disable the respective cap.
type Limits struct {
	// PerDocument caps how many chunks of one document are numbered.
	PerDocument int
	// Total caps the overall reference count.
	Total int
}

// BuildReferenceMap numbers a candidate set. Candidates sharing a URL
// (or the same document chunk) are folded into one reference, per-
// document diversity and total caps are applied, and ids are assigned
// ascending with primary candidates first.
func BuildReferenceMap(candidates []Candidate, limits Limits) ReferenceMap {
	b := &mapBuilder{
		limits: limits,
		refs:   make(ReferenceMap),
		byKey:  make(map[string]int),
		perDoc: make(map[string]int),
	}
	for _, c := range candidates {
		if c.Primary {
			b.add(c)
		}
	}
	for _, c := range candidates {
		if !c.Primary {
			b.add(c)
		}
	}
	return b.refs
}

type mapBuilder struct {
	limits Limits
	refs   ReferenceMap
	byKey  map[string]int
	perDoc map[string]int
}

func (b *mapBuilder) add(c Candidate) {
	key := c.dedupeKey()
	if key == "" {
		return
	}
	if id, ok := b.byKey[key]; ok {
		b.merge(id, c)
		return
	}
	if b.limits.Total > 0 && len(b.refs) >= b.limits.Total {
		return
	}
	if c.DocumentID != "" && b.limits.PerDocument > 0 && b.perDoc[c.DocumentID] >= b.limits.PerDocument {
		return
	}

	id := len(b.refs) + 1
	b.refs[id] = Reference{
		ID:       id,
		Title:    strings.TrimSpace(c.Title),
		Snippets: cleanSnippets(c.Snippets),
		URL:      strings.TrimSpace(c.URL),
		Kind:     c.Kind,
		Score:    c.Score,
		ChunkIdx: c.ChunkIndex,
	}
	b.byKey[key] = id
	if c.DocumentID != "" {
		b.perDoc[c.DocumentID]++
	}
}

// merge folds a duplicate candidate into the reference it collided
// with: new snippets are appended, the better score wins, and a title
// fills in if the first occurrence had none.
func (b *mapBuilder) merge(id int, c Candidate) {
	ref := b.refs[id]
	for _, s := range cleanSnippets(c.Snippets) {
		if !containsString(ref.Snippets, s) {
			ref.Snippets = append(ref.Snippets, s)
		}
	}
	if c.Score > ref.Score {
		ref.Score = c.Score
	}
	if ref.Title == "" {
		ref.Title = strings.TrimSpace(c.Title)
	}
	b.refs[id] = ref
}

func (c Candidate) dedupeKey() string {
	if u := CanonicalURL(c.URL); u != "" {
		return "url:" + u
	}
	if c.DocumentID != "" {
		idx := -1
		if c.ChunkIndex != nil {
			idx = *c.ChunkIndex
		}
		return fmt.Sprintf("doc:%s#%d", c.DocumentID, idx)
	}
	if t := strings.ToLower(strings.TrimSpace(c.Title)); t != "" {
		return "title:" + t
	}
	return ""
}

// CanonicalURL normalizes a URL for deduplication: scheme and host are
// lowercased, the fragment is dropped, and a trailing slash on the
// path is removed. Queries are kept since they address distinct pages.
// Unparseable input falls back to a trimmed string compare.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

const (
	promptSnippetsPerRef = 2
	promptSnippetMax     = 240
)

var kindLabels = map[SourceKind]string{
	SourceWeb:       "Web",
	SourceDocument:  "Dokument",
	SourceGrundsatz: "Grundsatzprogramm",
}

// FormatForPrompt renders the map as the compact numbered list the
// model is instructed to cite from. Each entry shows the marker, the
// title, the URL (or a kind label for internal documents) and up to
// two shortened snippets.
func FormatForPrompt(m ReferenceMap) string {
	if len(m) == 0 {
		return ""
	}
	var b strings.Builder
	for _, id := range m.IDs() {
		ref := m[id]
		title := ref.Title
		if title == "" {
			title = "Ohne Titel"
		}
		fmt.Fprintf(&b, "[%d] %s", id, title)
		if ref.URL != "" {
			fmt.Fprintf(&b, " (%s)", ref.URL)
		} else if label, ok := kindLabels[ref.Kind]; ok {
			fmt.Fprintf(&b, " (%s)", label)
		}
		b.WriteByte('\n')
		for i, s := range ref.Snippets {
			if i >= promptSnippetsPerRef {
				break
			}
			b.WriteString("    ")
			b.WriteString(shorten(s, promptSnippetMax))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func cleanSnippets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// shorten truncates s to at most max runes, appending "..." when text
// was cut.
func shorten(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
