package ingest

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

// Pipeline step names. A rule's pipeline is an ordered subset of these.
const (
	StepExtract  = "extract"
	StepChunk    = "chunk"
	StepEmbed    = "embed"
	StepUpsert   = "upsert"
	StepFinalize = "finalize"
)

// DefaultPipeline returns the full step chain in execution order.
func DefaultPipeline() []string {
	return []string{StepExtract, StepChunk, StepEmbed, StepUpsert, StepFinalize}
}

func stepChoices() []interface{} {
	return []interface{}{StepExtract, StepChunk, StepEmbed, StepUpsert, StepFinalize}
}

// Ruleset selects the pipeline and chunking parameters applied to a
// document based on its source type. Rules are evaluated in file order;
// the first match wins, and a rule without source_types matches
// everything, which makes a trailing default rule possible.
//
// Rulesets live in HCL files next to the service configuration:
//
//	rule "uploads" {
//	  source_types = ["upload"]
//	  pipeline     = ["extract", "chunk", "embed", "upsert", "finalize"]
//
//	  chunk {
//	    max_tokens         = 512
//	    overlap_tokens     = 64
//	    preserve_structure = true
//	  }
//	}
type Ruleset struct {
	Rules []Rule `hcl:"rule,block"`
}

// Rule binds source types to a step chain and chunk parameters.
type Rule struct {
	Name        string       `hcl:"name,label"`
	SourceTypes []string     `hcl:"source_types,optional"`
	Pipeline    []string     `hcl:"pipeline"`
	Chunk       *ChunkParams `hcl:"chunk,block"`
}

// ChunkParams overrides the chunker defaults for one rule. Zero values
// take the chunker's own defaults.
type ChunkParams struct {
	MaxTokens         int  `hcl:"max_tokens,optional"`
	OverlapTokens     int  `hcl:"overlap_tokens,optional"`
	PreserveStructure bool `hcl:"preserve_structure,optional"`
}

// DefaultRuleset returns the built-in rules used when no ruleset file
// is configured. Uploads keep page structure and take a larger overlap
// because extracted PDFs lose paragraph cohesion; crawled pages arrive
// as markdown with real headings; everything else chunks flat.
func DefaultRuleset() *Ruleset {
	return &Ruleset{Rules: []Rule{
		{
			Name:        "uploads",
			SourceTypes: []string{models.SourceTypeUpload},
			Pipeline:    DefaultPipeline(),
			Chunk:       &ChunkParams{MaxTokens: 512, OverlapTokens: 64, PreserveStructure: true},
		},
		{
			Name:        "web",
			SourceTypes: []string{models.SourceTypeURLCrawl},
			Pipeline:    DefaultPipeline(),
			Chunk:       &ChunkParams{MaxTokens: 512, OverlapTokens: 48, PreserveStructure: true},
		},
		{
			Name:     "default",
			Pipeline: DefaultPipeline(),
			Chunk:    &ChunkParams{MaxTokens: 512, OverlapTokens: 32},
		},
	}}
}

// LoadRuleset reads and validates a ruleset file.
func LoadRuleset(path string) (*Ruleset, error) {
	const op = "ingest.LoadRuleset"

	if path == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "ruleset file path is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperr.Wrapf(op, apperr.NotFound, err, "ruleset file not found: %s", path)
	}

	var rs Ruleset
	if err := hclsimple.DecodeFile(path, nil, &rs); err != nil {
		return nil, apperr.Wrapf(op, apperr.InvalidInput, err, "failed to parse ruleset file")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ParseRuleset decodes ruleset HCL from memory. The filename only
// labels diagnostics.
func ParseRuleset(filename string, src []byte) (*Ruleset, error) {
	const op = "ingest.ParseRuleset"

	var rs Ruleset
	if err := hclsimple.Decode(filename, src, nil, &rs); err != nil {
		return nil, apperr.Wrapf(op, apperr.InvalidInput, err, "failed to parse ruleset")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Match returns the first rule that applies to the source type, or nil
// when no rule matches.
func (rs *Ruleset) Match(sourceType string) *Rule {
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if len(rule.SourceTypes) == 0 {
			return rule
		}
		for _, st := range rule.SourceTypes {
			if st == sourceType {
				return rule
			}
		}
	}
	return nil
}

// Validate checks the decoded ruleset for structural mistakes.
func (rs *Ruleset) Validate() error {
	const op = "ingest.Ruleset.Validate"

	if len(rs.Rules) == 0 {
		return apperr.New(op, apperr.InvalidInput, "ruleset has no rules")
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if _, dup := seen[rule.Name]; dup {
			return apperr.New(op, apperr.InvalidInput, fmt.Sprintf("duplicate rule name %q", rule.Name))
		}
		seen[rule.Name] = struct{}{}

		err := validation.ValidateStruct(rule,
			validation.Field(&rule.Name, validation.Required),
			validation.Field(&rule.Pipeline, validation.Required, validation.Each(validation.In(stepChoices()...))),
			validation.Field(&rule.SourceTypes, validation.Each(validation.In(models.ValidSourceTypes()...))),
		)
		if err != nil {
			return apperr.Wrapf(op, apperr.InvalidInput, err, "rule %q", rule.Name)
		}

		if rule.Chunk != nil {
			if err := validation.ValidateStruct(rule.Chunk,
				validation.Field(&rule.Chunk.MaxTokens, validation.Min(0)),
				validation.Field(&rule.Chunk.OverlapTokens, validation.Min(0)),
			); err != nil {
				return apperr.Wrapf(op, apperr.InvalidInput, err, "rule %q chunk", rule.Name)
			}
		}
	}
	return nil
}
