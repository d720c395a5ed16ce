// Package searchpolicy holds the editorial knobs of the research
// pipeline: language-specific synonym expansions used by the query
// planner, paywalled domains excluded from crawling, cue terms that
// route a query to the news category, and per-category hint terms.
// Policies live in HCL files next to the service configuration so they
// can change without a rebuild.
package searchpolicy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Policy is the decoded policy file.
type Policy struct {
	Version        string         `hcl:"version"`
	PaywallDomains []string       `hcl:"paywall_domains,optional"`
	Synonyms       []SynonymSet   `hcl:"synonyms,block"`
	News           *NewsRouting   `hcl:"news_routing,block"`
	CategoryHints  []CategoryHint `hcl:"category_hint,block"`
}

// SynonymSet is one language's expansion table.
type SynonymSet struct {
	Language string    `hcl:"language,label"`
	Terms    []Synonym `hcl:"term,block"`
}

// Synonym expands one query word into related terms.
type Synonym struct {
	Word   string   `hcl:"word,label"`
	Expand []string `hcl:"expand"`
}

// NewsRouting routes date- and recency-cued queries to the news
// category with a tighter time range.
type NewsRouting struct {
	Cues      []string `hcl:"cues"`
	TimeRange string   `hcl:"time_range,optional"`
}

// CategoryHint maps query terms to an aggregator category.
type CategoryHint struct {
	Category string   `hcl:"category,label"`
	Terms    []string `hcl:"terms"`
}

var (
	languagePattern = regexp.MustCompile(`^[a-z]{2}$`)
	timeRanges      = []interface{}{"day", "week", "month", "year"}
)

// Load reads and validates a policy file.
func Load(path string) (*Policy, error) {
	const op = "searchpolicy.Load"

	if path == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "policy file path is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperr.Wrapf(op, apperr.NotFound, err, "policy file not found: %s", path)
	}

	var policy Policy
	if err := hclsimple.DecodeFile(path, nil, &policy); err != nil {
		return nil, apperr.Wrapf(op, apperr.InvalidInput, err, "failed to parse policy file")
	}
	if err := policy.finish(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Parse decodes policy HCL from memory. The filename only labels
// diagnostics.
func Parse(filename string, src []byte) (*Policy, error) {
	const op = "searchpolicy.Parse"

	var policy Policy
	if err := hclsimple.Decode(filename, src, nil, &policy); err != nil {
		return nil, apperr.Wrapf(op, apperr.InvalidInput, err, "failed to parse policy")
	}
	if err := policy.finish(); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (p *Policy) finish() error {
	p.normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	return nil
}

// normalize lowercases everything matching happens against, so lookups
// never depend on the casing in the file.
func (p *Policy) normalize() {
	for i, domain := range p.PaywallDomains {
		p.PaywallDomains[i] = strings.ToLower(strings.TrimSpace(domain))
	}
	for i := range p.Synonyms {
		p.Synonyms[i].Language = strings.ToLower(p.Synonyms[i].Language)
		for j := range p.Synonyms[i].Terms {
			term := &p.Synonyms[i].Terms[j]
			term.Word = strings.ToLower(strings.TrimSpace(term.Word))
			for k, exp := range term.Expand {
				term.Expand[k] = strings.TrimSpace(exp)
			}
		}
	}
	if p.News != nil {
		for i, cue := range p.News.Cues {
			p.News.Cues[i] = strings.ToLower(strings.TrimSpace(cue))
		}
	}
	for i := range p.CategoryHints {
		hint := &p.CategoryHints[i]
		hint.Category = strings.ToLower(strings.TrimSpace(hint.Category))
		for j, term := range hint.Terms {
			hint.Terms[j] = strings.ToLower(strings.TrimSpace(term))
		}
	}
}

// Validate checks the decoded policy for structural mistakes.
func (p *Policy) Validate() error {
	const op = "searchpolicy.Validate"

	err := validation.ValidateStruct(p,
		validation.Field(&p.Version, validation.Required),
		validation.Field(&p.PaywallDomains, validation.Each(validation.Required, validation.By(validDomainEntry))),
	)
	if err != nil {
		return apperr.Wrap(op, apperr.InvalidInput, err)
	}

	for _, set := range p.Synonyms {
		if !languagePattern.MatchString(set.Language) {
			return apperr.New(op, apperr.InvalidInput,
				fmt.Sprintf("synonyms %q: language must be a two-letter lowercase code", set.Language))
		}
		for _, term := range set.Terms {
			if err := validation.ValidateStruct(&term,
				validation.Field(&term.Word, validation.Required),
				validation.Field(&term.Expand, validation.Required, validation.Each(validation.Required)),
			); err != nil {
				return apperr.Wrapf(op, apperr.InvalidInput, err, "synonyms %q term %q", set.Language, term.Word)
			}
		}
	}

	if p.News != nil {
		if err := validation.ValidateStruct(p.News,
			validation.Field(&p.News.Cues, validation.Required, validation.Each(validation.Required)),
			validation.Field(&p.News.TimeRange, validation.In(timeRanges...)),
		); err != nil {
			return apperr.Wrapf(op, apperr.InvalidInput, err, "news_routing")
		}
	}

	for _, hint := range p.CategoryHints {
		if err := validation.ValidateStruct(&hint,
			validation.Field(&hint.Category, validation.Required),
			validation.Field(&hint.Terms, validation.Required, validation.Each(validation.Required)),
		); err != nil {
			return apperr.Wrapf(op, apperr.InvalidInput, err, "category_hint %q", hint.Category)
		}
	}
	return nil
}

// validDomainEntry rejects paywall entries that carry a scheme or path
// instead of a bare host.
func validDomainEntry(value interface{}) error {
	s, _ := value.(string)
	if strings.Contains(s, "://") || strings.Contains(s, "/") {
		return fmt.Errorf("must be a bare domain, got %q", s)
	}
	return nil
}
