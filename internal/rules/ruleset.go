package rules

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaayud/shaayud/internal/domain"
)

// Rule adds Score to the total when its condition matches.
type Rule struct {
	ID          string
	When        *Condition
	Score       int64
	Description string
}

// document is the on-disk RuleSet shape. JSON documents parse as YAML.
type document struct {
	Version int64          `yaml:"version"`
	Default int64          `yaml:"default"`
	Rules   []ruleDocument `yaml:"rules"`
}

type ruleDocument struct {
	ID    string    `yaml:"id"`
	When  yaml.Node `yaml:"when"`
	Score int64     `yaml:"score"`
	Desc  string    `yaml:"desc"`
}

// Load reads and compiles a rule set document from path.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rule set: %w", domain.ErrConfiguration, err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Parse compiles a rule set document. Structural problems are ErrConfiguration.
func Parse(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode rule set: %w", domain.ErrConfiguration, err)
	}

	rules := make([]*Rule, 0, len(doc.Rules))
	seen := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		if rd.ID == "" {
			return nil, fmt.Errorf("%w: rule %d has no id", domain.ErrConfiguration, i)
		}
		if seen[rd.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", domain.ErrConfiguration, rd.ID)
		}
		seen[rd.ID] = true

		if rd.When.Kind == 0 {
			return nil, fmt.Errorf("%w: rule %q has no condition", domain.ErrConfiguration, rd.ID)
		}
		when, err := parseCondition(&rd.When)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %w", domain.ErrConfiguration, rd.ID, err)
		}

		rules = append(rules, &Rule{
			ID:          rd.ID,
			When:        when,
			Score:       rd.Score,
			Description: rd.Desc,
		})
	}

	return New(doc.Version, doc.Default, rules)
}
