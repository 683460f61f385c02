package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/prune/internal/graph"
)

//go:embed schema.json
var schema string

// ErrInvalidRuleSet is returned when a rule file does not conform to the
// rule set schema.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// RuleSet is a decoded rule file.
type RuleSet struct {
	Language      string
	Substitutions map[string]string
	Rules         []*Rule
	Edges         []graph.Edge
}

type ruleFile struct {
	Language      string            `yaml:"language"`
	Substitutions map[string]string `yaml:"substitutions"`
	Rules         []ruleEntry       `yaml:"rules"`
	Edges         []edgeEntry       `yaml:"edges"`
}

type ruleEntry struct {
	Name        string            `yaml:"name"`
	Query       string            `yaml:"query"`
	ReplaceNode string            `yaml:"replace_node"`
	Replace     *string           `yaml:"replace"`
	IsSeed      *bool             `yaml:"is_seed"`
	Holes       []string          `yaml:"holes"`
	Constraints []constraintEntry `yaml:"constraints"`
}

type constraintEntry struct {
	Matcher string   `yaml:"matcher"`
	Queries []string `yaml:"queries"`
}

type edgeEntry struct {
	From  string   `yaml:"from"`
	To    []string `yaml:"to"`
	Scope string   `yaml:"scope"`
}

// Load reads and parses the rule file at path.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse validates data against the rule set schema and decodes it.
func Parse(data []byte) (*RuleSet, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding rule set: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validating rule set: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRuleSet, strings.Join(msgs, "; "))
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding rule set: %w", err)
	}
	return file.build()
}

func (f *ruleFile) build() (*RuleSet, error) {
	set := &RuleSet{
		Language:      f.Language,
		Substitutions: f.Substitutions,
	}

	for _, e := range f.Rules {
		r := &Rule{
			ID:          e.Name,
			Query:       e.Query,
			ReplaceNode: e.ReplaceNode,
			Replace:     e.Replace,
			Seed:        e.IsSeed == nil || *e.IsSeed,
			Holes:       e.Holes,
		}
		for _, c := range e.Constraints {
			r.Constraints = append(r.Constraints, Constraint{Matcher: c.Matcher, Queries: c.Queries})
		}
		set.Rules = append(set.Rules, r)
	}

	for _, e := range f.Edges {
		scope, err := graph.ParseScope(e.Scope)
		if err != nil {
			return nil, fmt.Errorf("edge from %q: %w", e.From, err)
		}
		for _, to := range e.To {
			set.Edges = append(set.Edges, graph.Edge{From: e.From, To: to, Scope: scope})
		}
	}
	return set, nil
}
