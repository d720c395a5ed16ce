package enrich

import (
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/chunk"
)

// budgetText cuts text to roughly budget tokens. Whole paragraphs are
// kept while they fit; when the first paragraph alone is over budget it
// is cut word by word. The heuristic counter is monotone under append,
// so the greedy packing never overshoots.
func budgetText(text string, budget int, counter chunk.TokenCounter) (string, bool) {
	if counter.Count(text) <= budget {
		return text, false
	}

	var (
		b    strings.Builder
		used int
	)
	for _, para := range strings.Split(text, "\n\n") {
		cost := counter.Count(para)
		if used+cost > budget {
			if b.Len() == 0 {
				return budgetWords(para, budget, counter), true
			}
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
		used += cost
	}
	return b.String(), true
}

func budgetWords(text string, budget int, counter chunk.TokenCounter) string {
	var (
		b    strings.Builder
		used int
	)
	for _, word := range strings.Fields(text) {
		cost := counter.Count(word)
		if used+cost > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
		used += cost
	}
	return b.String()
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// estimatePages derives the page estimate shown in document headers.
func estimatePages(words int) int {
	pages := words / wordsPerPage
	if words%wordsPerPage > 0 || pages == 0 {
		pages++
	}
	return pages
}
