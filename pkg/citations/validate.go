package citations

import (
	"fmt"
	"regexp"
	"strconv"
)

// markerPattern matches a citation marker anywhere in the draft,
// including forms glued to punctuation ("fact[1].") or to each other
// ("fact[1][2]").
var markerPattern = regexp.MustCompile(`\[(\d{1,3})\]`)

// Citation records one marker occurrence in a draft.
type Citation struct {
	MarkerID    int `json:"marker_id"`
	ReferenceID int `json:"reference_id"`
}

// Validation is the outcome of checking a draft against a reference
// map. CleanDraft keeps valid markers verbatim and has unknown ones
// removed; Citations lists every valid marker occurrence in order of
// appearance; Sources holds the unique references actually cited,
// ordered by first appearance.
type Validation struct {
	CleanDraft string      `json:"clean_draft"`
	Citations  []Citation  `json:"citations"`
	Sources    []Reference `json:"sources"`
	Errors     []string    `json:"errors,omitempty"`
}

// ValidateAndInject scans a model draft for [n] markers and checks
// each against the reference map. Markers whose id is unknown are
// removed from the draft and reported once per id in Errors. A draft
// without markers is returned unchanged, and the operation is
// idempotent: running it on its own CleanDraft yields the same result.
func ValidateAndInject(draft string, refs ReferenceMap) Validation {
	v := Validation{CleanDraft: draft}
	matches := markerPattern.FindAllStringSubmatchIndex(draft, -1)
	if len(matches) == 0 {
		return v
	}

	var (
		buf     = make([]byte, 0, len(draft))
		last    int
		cited   = make(map[int]bool)
		unknown = make(map[int]bool)
	)
	for _, m := range matches {
		start, end := m[0], m[1]
		id, _ := strconv.Atoi(draft[m[2]:m[3]])

		ref, ok := refs[id]
		if !ok {
			buf = append(buf, draft[last:start]...)
			last = end
			if glueFollows(draft, end) {
				buf = trimTrailingSpace(buf)
			}
			if len(buf) == 0 {
				// Marker opened the draft: also swallow the spacing
				// that separated it from the text.
				for last < len(draft) && (draft[last] == ' ' || draft[last] == '\t') {
					last++
				}
			}
			if !unknown[id] {
				unknown[id] = true
				v.Errors = append(v.Errors, fmt.Sprintf("citation [%d] has no reference", id))
			}
			continue
		}

		buf = append(buf, draft[last:end]...)
		last = end
		v.Citations = append(v.Citations, Citation{MarkerID: id, ReferenceID: ref.ID})
		if !cited[id] {
			cited[id] = true
			v.Sources = append(v.Sources, ref)
		}
	}
	buf = append(buf, draft[last:]...)
	v.CleanDraft = string(buf)
	return v
}

// CitedIDs returns the distinct reference ids cited, in order of first
// appearance.
func (v Validation) CitedIDs() []int {
	ids := make([]int, 0, len(v.Sources))
	for _, ref := range v.Sources {
		ids = append(ids, ref.ID)
	}
	return ids
}

// glueFollows reports whether removing a marker ending at pos would
// leave a space colliding with what comes next (punctuation, more
// whitespace, or the end of the draft).
func glueFollows(draft string, pos int) bool {
	if pos >= len(draft) {
		return true
	}
	switch draft[pos] {
	case ' ', '\t', '\n', '\r', '.', ',', ';', ':', '!', '?', ')':
		return true
	}
	return false
}

func trimTrailingSpace(buf []byte) []byte {
	for len(buf) > 0 && (buf[len(buf)-1] == ' ' || buf[len(buf)-1] == '\t') {
		buf = buf[:len(buf)-1]
	}
	return buf
}
