// Package graph holds the successor relation between rewrite rules.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Scope says where a successor rule is activated after its predecessor
// rewrites.
type Scope string

const (
	// Global activates the successor over the whole file.
	Global Scope = "global"
	// Parent activates the successor on the ancestors of the edited region.
	Parent Scope = "parent"
)

// ParseScope converts a rule-file scope name into a Scope. The empty string
// means Global.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "", string(Global):
		return Global, nil
	case string(Parent):
		return Parent, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Edge activates To after From has been applied.
type Edge struct {
	From  string
	To    string
	Scope Scope
}

// Graph is an immutable rule graph. Cycles are allowed.
type Graph struct {
	edges []Edge
	out   map[string][]Edge
}

// New builds a graph from edges, keeping their declaration order and
// dropping exact duplicates.
func New(edges []Edge) *Graph {
	g := &Graph{out: make(map[string][]Edge)}
	seen := make(map[Edge]struct{})
	for _, e := range edges {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.edges = append(g.edges, e)
		g.out[e.From] = append(g.out[e.From], e)
	}
	return g
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Successors returns the outgoing edges of id in declaration order.
func (g *Graph) Successors(id string) []Edge {
	return g.out[id]
}

// Validate reports edges naming rules for which known returns false.
func (g *Graph) Validate(known func(id string) bool) error {
	var unknown []string
	for _, e := range g.edges {
		for _, id := range []string{e.From, e.To} {
			if !known(id) && !contains(unknown, id) {
				unknown = append(unknown, id)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("edges reference unknown rules: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Reachable returns every rule reachable from seeds, seeds included, in
// breadth-first order.
func (g *Graph) Reachable(seeds []string) []string {
	seen := make(map[string]struct{}, len(seeds))
	var order []string
	queue := append([]string(nil), seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
		for _, e := range g.out[id] {
			queue = append(queue, e.To)
		}
	}
	return order
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
