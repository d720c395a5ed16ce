package chunk

import (
	"strings"
	"unicode"
)

// abbreviations that end in a period without ending the sentence.
// Lowercased for lookup; covers the German and English forms that
// show up in party programs, council minutes, and press releases.
var abbreviations = map[string]struct{}{
	// German
	"abb.": {}, "abs.": {}, "art.": {}, "bspw.": {}, "bzgl.": {},
	"bzw.": {}, "ca.": {}, "d.h.": {}, "evtl.": {}, "ggf.": {},
	"inkl.": {}, "kap.": {}, "mio.": {}, "mrd.": {}, "nr.": {},
	"o.ä.": {}, "s.": {}, "sog.": {}, "str.": {}, "u.a.": {},
	"u.u.": {}, "usw.": {}, "vgl.": {}, "z.b.": {}, "zzgl.": {},
	// English
	"dr.": {}, "e.g.": {}, "etc.": {}, "i.e.": {}, "inc.": {},
	"ltd.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "no.": {},
	"prof.": {}, "st.": {}, "vol.": {}, "vs.": {},
}

// splitSentences breaks prose into sentences. Interior newlines are
// treated as soft wraps and collapse to spaces.
func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}

		sentence := strings.TrimSpace(current.String())
		if sentence == "" || endsWithAbbreviation(sentence) {
			continue
		}
		sentences = append(sentences, sentence)
		current.Reset()
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// endsWithAbbreviation reports whether the last word of the text is an
// abbreviation, an ordinal like "24.", or an initial like "J.".
func endsWithAbbreviation(text string) bool {
	idx := strings.LastIndexFunc(text, unicode.IsSpace)
	last := strings.ToLower(text[idx+1:])

	if _, ok := abbreviations[last]; ok {
		return true
	}
	if isOrdinal(last) {
		return true
	}
	// Single letter plus period, as in initials.
	if len([]rune(last)) == 2 && strings.HasSuffix(last, ".") {
		return unicode.IsLetter([]rune(last)[0])
	}
	return false
}

// isOrdinal reports whether the word is digits followed by a period,
// the German ordinal and date form ("24. Dezember", "§ 3. Absatz").
func isOrdinal(word string) bool {
	if !strings.HasSuffix(word, ".") || len(word) < 2 {
		return false
	}
	for _, r := range word[:len(word)-1] {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isListBlock reports whether a block's first line looks like a
// bulleted or numbered list item.
func isListBlock(text string) bool {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "+ ") {
		return true
	}
	dot := strings.IndexByte(line, '.')
	if dot < 1 || dot+1 >= len(line) || line[dot+1] != ' ' {
		return false
	}
	return isOrdinal(line[:dot+1])
}
