// Package rules defines rewrite rules, their scope constraints and the rule
// store that serves compiled queries and successor edges.
package rules

import (
	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/tags"
)

// Rule is a named structural rewrite. Rules are immutable once loaded.
type Rule struct {
	ID    string
	Query string
	// ReplaceNode names the capture whose range is replaced. When empty the
	// whole match is replaced.
	ReplaceNode string
	// Replace is the replacement template. A nil Replace makes the rule a
	// match-only trigger for its successors.
	Replace     *string
	Constraints []Constraint
	Seed        bool
	// Holes lists the tags the rule expects from its activation.
	Holes []string
}

// IsTrigger reports whether the rule only activates successors.
func (r *Rule) IsTrigger() bool {
	return r.Replace == nil
}

// RequiredHoles returns every hole referenced by the rule's query, its
// replacement template and its constraints, in first-occurrence order.
func (r *Rule) RequiredHoles() []string {
	var names []string
	seen := make(map[string]struct{})
	add := func(text string) {
		for _, h := range tags.Holes(text) {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				names = append(names, h)
			}
		}
	}

	for _, h := range r.Holes {
		add(":[" + h + "]")
	}
	add(r.Query)
	if r.Replace != nil {
		add(*r.Replace)
	}
	for _, c := range r.Constraints {
		add(c.Matcher)
		for _, q := range c.Queries {
			add(q)
		}
	}
	return names
}

// InputHoles returns the declared holes and those of the query. They must be
// bound before the rule can match; the other holes may be filled by the
// rule's own captures.
func (r *Rule) InputHoles() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, h := range append(append([]string(nil), r.Holes...), tags.Holes(r.Query)...) {
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			names = append(names, h)
		}
	}
	return names
}

// Render instantiates the replacement template. It must not be called on a
// trigger rule.
func (r *Rule) Render(bindings model.Bindings) (string, error) {
	text, err := tags.Substitute(*r.Replace, bindings)
	if err != nil {
		return "", attribute(r.ID, err)
	}
	return text, nil
}
