package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

const rulesetHCL = `
rule "uploads" {
  source_types = ["upload", "grundsatz"]
  pipeline     = ["extract", "chunk", "embed", "upsert", "finalize"]

  chunk {
    max_tokens         = 512
    overlap_tokens     = 64
    preserve_structure = true
  }
}

rule "default" {
  pipeline = ["extract", "chunk", "embed", "upsert", "finalize"]

  chunk {
    max_tokens = 256
  }
}
`

func TestParseRuleset(t *testing.T) {
	rs, err := ParseRuleset("rules.hcl", []byte(rulesetHCL))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)

	uploads := rs.Rules[0]
	assert.Equal(t, "uploads", uploads.Name)
	assert.Equal(t, []string{"upload", "grundsatz"}, uploads.SourceTypes)
	assert.Equal(t, DefaultPipeline(), uploads.Pipeline)
	require.NotNil(t, uploads.Chunk)
	assert.Equal(t, 512, uploads.Chunk.MaxTokens)
	assert.Equal(t, 64, uploads.Chunk.OverlapTokens)
	assert.True(t, uploads.Chunk.PreserveStructure)
}

func TestRulesetMatch(t *testing.T) {
	rs, err := ParseRuleset("rules.hcl", []byte(rulesetHCL))
	require.NoError(t, err)

	assert.Equal(t, "uploads", rs.Match(models.SourceTypeUpload).Name)
	assert.Equal(t, "uploads", rs.Match(models.SourceTypeGrundsatz).Name)
	assert.Equal(t, "default", rs.Match(models.SourceTypeManualText).Name)
	assert.Equal(t, "default", rs.Match(models.SourceTypeURLCrawl).Name)
}

func TestRulesetMatchFirstWins(t *testing.T) {
	rs := &Ruleset{Rules: []Rule{
		{Name: "erste", SourceTypes: []string{models.SourceTypeUpload}, Pipeline: DefaultPipeline()},
		{Name: "zweite", SourceTypes: []string{models.SourceTypeUpload}, Pipeline: DefaultPipeline()},
	}}
	require.NoError(t, rs.Validate())
	assert.Equal(t, "erste", rs.Match(models.SourceTypeUpload).Name)
}

func TestRulesetMatchWithoutCatchAll(t *testing.T) {
	rs := &Ruleset{Rules: []Rule{
		{Name: "uploads", SourceTypes: []string{models.SourceTypeUpload}, Pipeline: DefaultPipeline()},
	}}
	require.NoError(t, rs.Validate())
	assert.Nil(t, rs.Match(models.SourceTypeManualText))
}

func TestParseRulesetRejectsUnknownStep(t *testing.T) {
	src := `
rule "kaputt" {
  pipeline = ["extract", "summarise"]
}
`
	_, err := ParseRuleset("rules.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput), "got %v", err)
	assert.Contains(t, err.Error(), "kaputt")
}

func TestParseRulesetRejectsUnknownSourceType(t *testing.T) {
	src := `
rule "kaputt" {
  source_types = ["fax"]
  pipeline     = ["extract", "chunk", "embed", "upsert", "finalize"]
}
`
	_, err := ParseRuleset("rules.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput), "got %v", err)
}

func TestParseRulesetRejectsDuplicateNames(t *testing.T) {
	src := `
rule "doppelt" {
  pipeline = ["extract", "chunk", "embed", "upsert", "finalize"]
}

rule "doppelt" {
  pipeline = ["extract", "chunk", "embed", "upsert", "finalize"]
}
`
	_, err := ParseRuleset("rules.hcl", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestParseRulesetRejectsNegativeChunkParams(t *testing.T) {
	src := `
rule "negativ" {
  pipeline = ["extract", "chunk", "embed", "upsert", "finalize"]

  chunk {
    max_tokens = -5
  }
}
`
	_, err := ParseRuleset("rules.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput), "got %v", err)
}

func TestParseRulesetRejectsEmptyRuleset(t *testing.T) {
	_, err := ParseRuleset("rules.hcl", []byte(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules")
}

func TestLoadRuleset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.hcl")
	require.NoError(t, os.WriteFile(path, []byte(rulesetHCL), 0o644))

	rs, err := LoadRuleset(path)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 2)
}

func TestLoadRulesetMissingFile(t *testing.T) {
	_, err := LoadRuleset(filepath.Join(t.TempDir(), "fehlt.hcl"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound), "got %v", err)
}

func TestLoadRulesetEmptyPath(t *testing.T) {
	_, err := LoadRuleset("")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput), "got %v", err)
}

func TestDefaultRulesetCoversAllSourceTypes(t *testing.T) {
	rs := DefaultRuleset()
	require.NoError(t, rs.Validate())

	for _, st := range models.ValidSourceTypes() {
		rule := rs.Match(st.(string))
		require.NotNil(t, rule, "source type %v has no rule", st)
		assert.NotEmpty(t, rule.Pipeline)
	}
}
