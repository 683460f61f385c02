package query

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/prune/internal/model"
)

// All returns every match of q under node in pre-order: outermost and
// leftmost first. Matches rejected by the query's predicates are dropped.
func All(node *sitter.Node, q *sitter.Query, source []byte) []model.Match {
	var matches []model.Match
	each(node, q, source, func(m model.Match) bool {
		matches = append(matches, m)
		return true
	})

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		if a.Range.End != b.Range.End {
			return a.Range.End > b.Range.End
		}
		if a.PatternIndex != b.PatternIndex {
			return a.PatternIndex < b.PatternIndex
		}
		return a.Nodes > b.Nodes
	})
	return matches
}

// AtNode returns the matches of q rooted exactly at node, in the order of All.
func AtNode(node *sitter.Node, q *sitter.Query, source []byte) []model.Match {
	want := nodeRange(node)
	var at []model.Match
	for _, m := range All(node, q, source) {
		if m.Range == want {
			at = append(at, m)
		}
	}
	return at
}

// First returns the first match of q. With descendants false only a match
// rooted exactly at node is accepted.
func First(node *sitter.Node, q *sitter.Query, source []byte, descendants bool) (model.Match, bool) {
	var matches []model.Match
	if descendants {
		matches = All(node, q, source)
	} else {
		matches = AtNode(node, q, source)
	}
	if len(matches) == 0 {
		return model.Match{}, false
	}
	return matches[0], true
}

// Exists reports whether q matches anywhere under node, node included.
func Exists(node *sitter.Node, q *sitter.Query, source []byte) bool {
	found := false
	each(node, q, source, func(model.Match) bool {
		found = true
		return false
	})
	return found
}

// NodeForRange returns the deepest node under root that spans [start, end).
func NodeForRange(root *sitter.Node, start, end uint32) *sitter.Node {
	node := root
	for {
		var next *sitter.Node
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.StartByte() <= start && end <= child.EndByte() {
				next = child
				break
			}
		}
		if next == nil {
			return node
		}
		node = next
	}
}

func each(node *sitter.Node, q *sitter.Query, source []byte, yield func(model.Match) bool) {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, node)

	for {
		match, ok := qc.NextMatch()
		if !ok {
			return
		}
		match = qc.FilterPredicates(match, source)
		if len(match.Captures) == 0 {
			continue
		}
		if !yield(convert(q, match, source)) {
			return
		}
	}
}

func convert(q *sitter.Query, match *sitter.QueryMatch, source []byte) model.Match {
	m := model.Match{
		PatternIndex:  match.PatternIndex,
		Captures:      make(map[string]string),
		CaptureRanges: make(map[string]model.Range),
		Nodes:         len(match.Captures),
	}

	widest := false
	for _, c := range match.Captures {
		name := q.CaptureNameForId(c.Index)
		r := nodeRange(c.Node)
		if prev, ok := m.CaptureRanges[name]; ok {
			// Quantified capture: span from the first node to the last.
			r.Start = min(r.Start, prev.Start)
			r.End = max(r.End, prev.End)
		}
		m.CaptureRanges[name] = r

		if !widest || r.Len() > m.Range.Len() || (r.Len() == m.Range.Len() && r.Start < m.Range.Start) {
			m.Range = r
			widest = true
		}
	}

	for name, r := range m.CaptureRanges {
		m.Captures[name] = string(source[r.Start:r.End])
	}
	for i := uint32(0); i < q.CaptureCount(); i++ {
		name := q.CaptureNameForId(i)
		if _, ok := m.Captures[name]; !ok {
			m.Captures[name] = ""
		}
	}
	return m
}

func nodeRange(n *sitter.Node) model.Range {
	return model.Range{Start: n.StartByte(), End: n.EndByte()}
}
