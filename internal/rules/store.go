package rules

import (
	"fmt"
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/prune/internal/graph"
	"github.com/phobologic/prune/internal/lang"
	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/query"
	"github.com/phobologic/prune/internal/tags"
)

var captureRe = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_.\-]*)`)

// Store is the rule set of one language together with the compiled-query
// cache and the rule graph. It is read-only after NewStore and may be shared
// by concurrent engine runs.
type Store struct {
	language      *lang.Language
	cache         *query.Cache
	ownsCache     bool
	graph         *graph.Graph
	rules         []*Rule
	byID          map[string]*Rule
	substitutions model.Bindings
}

// NewStore validates set and prepares it for l. Substitutions from input
// override the rule set's defaults. A nil cache gives the store a private
// one, released by Close.
//
// Every query whose holes are all bound by the substitutions is compiled up
// front, so a broken rule fails here rather than halfway through a run.
func NewStore(l *lang.Language, set *RuleSet, input map[string]string, cache *query.Cache) (*Store, error) {
	if set.Language != "" && set.Language != l.Name {
		return nil, fmt.Errorf("rule set is for %s, not %s", set.Language, l.Name)
	}

	s := &Store{
		language:      l,
		cache:         cache,
		graph:         graph.New(set.Edges),
		byID:          make(map[string]*Rule, len(set.Rules)),
		substitutions: model.Bindings(set.Substitutions).Merge(input),
	}
	if s.cache == nil {
		s.cache = query.NewCache()
		s.ownsCache = true
	}

	for _, r := range set.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without a name")
		}
		if _, dup := s.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule %q", r.ID)
		}
		if r.ReplaceNode != "" && !capturesName(r.Query, r.ReplaceNode) {
			return nil, fmt.Errorf("rule %q: replace_node %q is not captured by its query", r.ID, r.ReplaceNode)
		}
		s.byID[r.ID] = r
		s.rules = append(s.rules, r)
	}

	if err := s.graph.Validate(func(id string) bool {
		_, ok := s.byID[id]
		return ok
	}); err != nil {
		return nil, err
	}

	for _, r := range s.rules {
		if err := s.precompile(r); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// precompile compiles the rule's queries that need no match-time bindings.
func (s *Store) precompile(r *Rule) error {
	texts := []string{r.Query}
	for _, c := range r.Constraints {
		texts = append(texts, c.Matcher)
		texts = append(texts, c.Queries...)
	}

	for _, text := range texts {
		if !s.bound(text) {
			continue
		}
		filled, err := tags.Substitute(text, s.substitutions)
		if err != nil {
			return attribute(r.ID, err)
		}
		if _, err := s.cache.Get(s.language, filled); err != nil {
			return attribute(r.ID, err)
		}
	}
	return nil
}

func (s *Store) bound(text string) bool {
	for _, h := range tags.Holes(text) {
		if _, ok := s.substitutions[h]; !ok {
			return false
		}
	}
	return true
}

func capturesName(q, name string) bool {
	for _, m := range captureRe.FindAllStringSubmatch(q, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// Query returns the compiled form of a fully substituted query text.
func (s *Store) Query(text string) (*sitter.Query, error) {
	return s.cache.Get(s.language, text)
}

// RuleQuery substitutes bindings into the rule's query and compiles it.
func (s *Store) RuleQuery(r *Rule, bindings model.Bindings) (*sitter.Query, error) {
	text, err := tags.Substitute(r.Query, bindings)
	if err != nil {
		return nil, attribute(r.ID, err)
	}
	q, err := s.Query(text)
	if err != nil {
		return nil, attribute(r.ID, err)
	}
	return q, nil
}

// Rule returns the rule named id.
func (s *Store) Rule(id string) (*Rule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Rules returns every rule in declaration order.
func (s *Store) Rules() []*Rule {
	return s.rules
}

// Seeds returns the rules active at the start of a run, in declaration order.
func (s *Store) Seeds() []*Rule {
	var seeds []*Rule
	for _, r := range s.rules {
		if r.Seed {
			seeds = append(seeds, r)
		}
	}
	return seeds
}

// Successors returns the edges leaving rule id in declaration order.
func (s *Store) Successors(id string) []graph.Edge {
	return s.graph.Successors(id)
}

// Graph returns the rule graph.
func (s *Store) Graph() *graph.Graph {
	return s.graph
}

// Substitutions returns the ambient bindings every activation starts from.
// Callers must not modify the result.
func (s *Store) Substitutions() model.Bindings {
	return s.substitutions
}

// Language returns the language the store compiles queries for.
func (s *Store) Language() *lang.Language {
	return s.language
}

// Cache returns the query cache backing the store.
func (s *Store) Cache() *query.Cache {
	return s.cache
}

// Close releases the query cache when the store created it.
func (s *Store) Close() {
	if s.ownsCache {
		s.cache.Close()
	}
}
