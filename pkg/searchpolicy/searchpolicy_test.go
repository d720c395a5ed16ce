package searchpolicy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const policyHCL = `
version = "1"

paywall_domains = ["faz.net", "Welt.de"]

synonyms "de" {
  term "klimaschutz" {
    expand = ["Klimapolitik", "Klimaneutralität"]
  }
  term "radverkehr" {
    expand = ["Radwege"]
  }
}

news_routing {
  cues       = ["aktuell", "diese woche"]
  time_range = "week"
}

category_hint "science" {
  terms = ["studie", "forschung"]
}
`

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	policy, err := Parse("policy.hcl", []byte(policyHCL))
	require.NoError(t, err)
	return policy
}

func TestParsePolicy(t *testing.T) {
	policy := testPolicy(t)

	assert.Equal(t, "1", policy.Version)
	assert.Equal(t, []string{"faz.net", "welt.de"}, policy.PaywallDomains, "domains are lowercased")

	require.Len(t, policy.Synonyms, 1)
	assert.Equal(t, "de", policy.Synonyms[0].Language)
	require.Len(t, policy.Synonyms[0].Terms, 2)
	assert.Equal(t, "klimaschutz", policy.Synonyms[0].Terms[0].Word)
	assert.Equal(t, []string{"Klimapolitik", "Klimaneutralität"}, policy.Synonyms[0].Terms[0].Expand)

	require.NotNil(t, policy.News)
	assert.Equal(t, "week", policy.News.TimeRange)

	require.Len(t, policy.CategoryHints, 1)
	assert.Equal(t, "science", policy.CategoryHints[0].Category)
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(policyHCL), 0o644))

	policy, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1", policy.Version)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "fehlt.hcl"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestParseRejectsBadTimeRange(t *testing.T) {
	src := `
version = "1"
news_routing {
  cues       = ["aktuell"]
  time_range = "jahrzehnt"
}
`
	_, err := Parse("policy.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestParseRejectsBadLanguageLabel(t *testing.T) {
	src := `
version = "1"
synonyms "deutsch" {
  term "klimaschutz" {
    expand = ["Klimapolitik"]
  }
}
`
	_, err := Parse("policy.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	assert.Contains(t, err.Error(), "two-letter")
}

func TestParseRejectsURLInPaywallList(t *testing.T) {
	src := `
version = "1"
paywall_domains = ["https://faz.net"]
`
	_, err := Parse("policy.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestParseRequiresVersion(t *testing.T) {
	_, err := Parse("policy.hcl", []byte(`paywall_domains = []`))
	require.Error(t, err)
}

func TestDefaultPolicyIsValid(t *testing.T) {
	policy := Default()
	require.NoError(t, policy.Validate())

	assert.True(t, policy.IsPaywalled("https://www.zeit.de/politik/artikel"))
	assert.True(t, policy.WantsNews("aktuelle Entwicklungen zur Wärmewende"))
	assert.NotEmpty(t, policy.ExpandQuery("de", "Klimaschutz vor Ort"))
}
