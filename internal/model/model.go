// Package model defines core data structures for prune.
package model

import (
	"sort"
	"strings"
)

// Range is a half-open byte range [Start, End) into a source file.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() uint32 {
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no bytes.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Match is one structural match of a compiled query. It is only meaningful
// against the tree it was computed from; any edit invalidates it.
type Match struct {
	// Range spans the widest capture, i.e. the node the pattern is rooted at.
	Range        Range
	PatternIndex uint16
	// Captures maps capture name to matched text. Names declared by the
	// query but not captured in this match are bound to "".
	Captures      map[string]string
	CaptureRanges map[string]Range
	// Nodes counts the captured nodes; used to prefer fuller matches.
	Nodes int
}

// Bindings maps tag names to the text substituted for their holes.
type Bindings map[string]string

// Merge returns a copy of b overlaid with every entry of o.
func (b Bindings) Merge(o map[string]string) Bindings {
	out := make(Bindings, len(b)+len(o))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Project returns the subset of b whose keys are listed in names.
func (b Bindings) Project(names []string) Bindings {
	out := make(Bindings, len(names))
	for _, n := range names {
		if v, ok := b[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Key renders b deterministically, suitable as a map key.
func (b Bindings) Key() string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b[k])
		sb.WriteByte(0)
	}
	return sb.String()
}

// AppliedEdit records one step of the rewrite fixpoint.
type AppliedEdit struct {
	Rule string
	// Range is the replaced range in the code as it was before the step.
	Range       Range
	Line        int
	Replacement string
	// Trigger is set for match-only rules, which activate successors
	// without editing the code.
	Trigger bool
}

// FileResult holds the outcome of rewriting a single file.
type FileResult struct {
	Path      string
	Language  string
	Original  []byte
	Rewritten []byte
	Edits     []AppliedEdit
	Err       error
}

// Changed reports whether the rewrite altered the file.
func (f *FileResult) Changed() bool {
	return f.Err == nil && string(f.Original) != string(f.Rewritten)
}

// Status summarizes the outcome as "failed", "changed" or "unchanged".
func (f *FileResult) Status() string {
	switch {
	case f.Err != nil:
		return "failed"
	case f.Changed():
		return "changed"
	}
	return "unchanged"
}

// Report is the complete result of a run, ready for serialization.
type Report struct {
	Root  string
	Files []FileResult
}
