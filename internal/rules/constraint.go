package rules

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/query"
	"github.com/phobologic/prune/internal/tags"
)

// Tree is the read-only view of a source file a constraint is checked
// against.
type Tree interface {
	Code() []byte
	Root() *sitter.Node
}

// Constraint restricts where a rule may apply. Matcher identifies the
// enclosing scope; Queries are forbidden sub-patterns within that scope.
type Constraint struct {
	Matcher string
	Queries []string
}

// IsSatisfied reports whether none of the constraint's queries match inside
// the nearest ancestor of node accepted by Matcher. Holes in the matcher and
// the queries are filled from bindings first.
//
// When no ancestor is accepted the constraint holds: without an applicable
// scope there is nothing to forbid.
func (c Constraint) IsSatisfied(node *sitter.Node, tree Tree, store *Store, bindings model.Bindings) (bool, error) {
	scope, found, err := c.findScope(node, tree, store, bindings)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	forbidden, err := c.forbids(scope, tree, store, bindings)
	if err != nil {
		return false, err
	}
	return !forbidden, nil
}

// findScope walks the ancestors of node outward and returns the node covered
// by the first Matcher match rooted at one of them.
func (c Constraint) findScope(node *sitter.Node, tree Tree, store *Store, bindings model.Bindings) (*sitter.Node, bool, error) {
	text, err := tags.Substitute(c.Matcher, bindings)
	if err != nil {
		return nil, false, err
	}
	matcher, err := store.Query(text)
	if err != nil {
		return nil, false, err
	}

	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		if m, ok := query.First(parent, matcher, tree.Code(), false); ok {
			return query.NodeForRange(tree.Root(), m.Range.Start, m.Range.End), true, nil
		}
	}
	return nil, false, nil
}

// forbids reports whether any of the queries matches anywhere under scope.
func (c Constraint) forbids(scope *sitter.Node, tree Tree, store *Store, bindings model.Bindings) (bool, error) {
	for _, withHoles := range c.Queries {
		text, err := tags.Substitute(withHoles, bindings)
		if err != nil {
			return false, err
		}
		q, err := store.Query(text)
		if err != nil {
			return false, err
		}
		if query.Exists(scope, q, tree.Code()) {
			return true, nil
		}
	}
	return false, nil
}

// Satisfied checks the rule's constraints in order and stops at the first
// one that does not hold.
func (r *Rule) Satisfied(node *sitter.Node, tree Tree, store *Store, bindings model.Bindings) (bool, error) {
	for _, c := range r.Constraints {
		ok, err := c.IsSatisfied(node, tree, store, bindings)
		if err != nil {
			return false, attribute(r.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
