package searchpolicy

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExpandQueryAppendsSynonyms(t *testing.T) {
	policy := testPolicy(t)

	got := policy.ExpandQuery("de", "Klimaschutz in Kommunen")
	assert.Equal(t, "Klimaschutz in Kommunen Klimapolitik Klimaneutralität", got)
}

func TestExpandQuerySkipsPresentTerms(t *testing.T) {
	policy := testPolicy(t)

	got := policy.ExpandQuery("de", "klimaschutz klimapolitik")
	assert.Equal(t, "klimaschutz klimapolitik Klimaneutralität", got)
}

func TestExpandQueryUnknownLanguage(t *testing.T) {
	policy := testPolicy(t)
	assert.Equal(t, "Klimaschutz", policy.ExpandQuery("fr", "Klimaschutz"))
}

func TestExpandQueryRespectsLengthCap(t *testing.T) {
	policy := testPolicy(t)

	long := strings.Repeat("ü", 450)
	got := policy.ExpandQuery("de", long)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxQueryLength)

	// A query close to the cap takes no expansion that would cross it.
	near := "klimaschutz " + strings.Repeat("x", MaxQueryLength-20)
	got = policy.ExpandQuery("de", near)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxQueryLength)
}

func TestIsPaywalled(t *testing.T) {
	policy := testPolicy(t)

	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.faz.net/aktuell/politik/artikel.html", true},
		{"https://premium.welt.de/plus123", true},
		{"faz.net", true},
		{"https://taz.de/artikel", false},
		{"https://faz.net.example.org/phishing", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, policy.IsPaywalled(tc.url), tc.url)
	}
}

func TestWantsNews(t *testing.T) {
	policy := testPolicy(t)

	cases := []struct {
		query string
		want  bool
	}{
		{"aktuell beschlossene Gesetze", true},
		{"was passierte diese Woche im Landtag", true},
		{"Solarpflicht 2026", true},
		{"Radwege in Bonn", false},
		{"Aktuelle Entwicklungen", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, policy.WantsNews(tc.query), tc.query)
	}
}

func TestNewsTimeRange(t *testing.T) {
	policy := testPolicy(t)
	assert.Equal(t, "week", policy.NewsTimeRange())

	bare := &Policy{Version: "1"}
	assert.Equal(t, "month", bare.NewsTimeRange())
}

func TestCategoryFor(t *testing.T) {
	policy := testPolicy(t)

	assert.Equal(t, "science", policy.CategoryFor("Studie zur Wärmewende"))
	assert.Equal(t, "science", policy.CategoryFor("neue Forschung, bitte"))
	assert.Equal(t, "", policy.CategoryFor("Radwege in Bonn"))
}

func TestTruncateAtWord(t *testing.T) {
	assert.Equal(t, "kurz", truncateAtWord("kurz", 10))
	assert.Equal(t, "eins zwei", truncateAtWord("eins zwei drei", 12))
	assert.Equal(t, strings.Repeat("a", 5), truncateAtWord(strings.Repeat("a", 9), 5))
}
