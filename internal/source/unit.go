// Package source holds a file's code together with its parse tree and keeps
// the two consistent across edits.
package source

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/prune/internal/model"
)

// ErrRangeOutOfBounds is returned when an edit range does not fit the code.
var ErrRangeOutOfBounds = errors.New("range out of bounds")

// Edit describes one replacement in byte offsets: [Start, OldEnd) became
// [Start, NewEnd).
type Edit struct {
	Start  uint32
	OldEnd uint32
	NewEnd uint32
}

// Unit is the code of one file and its current parse tree. The tree is
// always a parse of the current code. Nodes obtained from Root are only
// valid until the next call to Replace.
type Unit struct {
	Path string

	parser     *sitter.Parser
	code       []byte
	tree       *sitter.Tree
	generation int
	lastEdit   Edit
}

// New parses code with parser and returns a unit owning the tree. The
// parser must be configured for the file's language and must not be used
// concurrently while the unit is alive.
func New(ctx context.Context, path string, parser *sitter.Parser, code []byte) (*Unit, error) {
	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Unit{
		Path:   path,
		parser: parser,
		code:   code,
		tree:   tree,
	}, nil
}

// Code returns the current source text. Callers must not modify it.
func (u *Unit) Code() []byte {
	return u.code
}

// Root returns the root node of the current tree.
func (u *Unit) Root() *sitter.Node {
	return u.tree.RootNode()
}

// Generation counts the edits applied so far.
func (u *Unit) Generation() int {
	return u.generation
}

// LastEdit returns the most recent edit, with the bytes actually replaced.
func (u *Unit) LastEdit() Edit {
	return u.lastEdit
}

// Close releases the parse tree.
func (u *Unit) Close() {
	if u.tree != nil {
		u.tree.Close()
		u.tree = nil
	}
}

// Replace substitutes text for the bytes in r and re-parses. Multi-line text
// is re-aligned to the column of r.Start, and an empty replacement that
// leaves its line blank removes the whole line. It returns the range the
// inserted text occupies in the new code. On error the unit is unchanged.
func (u *Unit) Replace(ctx context.Context, r model.Range, text string) (model.Range, error) {
	if r.Start > r.End || int(r.End) > len(u.code) {
		return model.Range{}, fmt.Errorf("%w: [%d, %d) in %d bytes", ErrRangeOutOfBounds, r.Start, r.End, len(u.code))
	}

	start, end := int(r.Start), int(r.End)
	if text == "" {
		start, end = blankLineSpan(u.code, start, end)
	} else {
		text = Realign(text, column(u.code, start))
	}

	newCode := make([]byte, 0, len(u.code)-(end-start)+len(text))
	newCode = append(newCode, u.code[:start]...)
	newCode = append(newCode, text...)
	newCode = append(newCode, u.code[end:]...)

	// The edit goes to a copy so a failed re-parse leaves the unit intact.
	newEnd := start + len(text)
	edited := u.tree.Copy()
	defer edited.Close()
	edited.Edit(sitter.EditInput{
		StartIndex:  uint32(start),
		OldEndIndex: uint32(end),
		NewEndIndex: uint32(newEnd),
		StartPoint:  pointAt(u.code, start),
		OldEndPoint: pointAt(u.code, end),
		NewEndPoint: pointAt(newCode, newEnd),
	})

	tree, err := u.parser.ParseCtx(ctx, edited, newCode)
	if err != nil {
		return model.Range{}, fmt.Errorf("re-parsing %s: %w", u.Path, err)
	}
	u.tree.Close()
	u.tree = tree
	u.code = newCode
	u.generation++
	u.lastEdit = Edit{Start: uint32(start), OldEnd: uint32(end), NewEnd: uint32(newEnd)}

	return model.Range{Start: uint32(start), End: uint32(newEnd)}, nil
}

// ShiftRange maps a range recorded before e onto the code after e. Ranges
// overlapping the edit are widened to cover the inserted text.
func ShiftRange(r model.Range, e Edit) model.Range {
	delta := int64(e.NewEnd) - int64(e.OldEnd)
	switch {
	case r.End <= e.Start:
		return r
	case r.Start >= e.OldEnd:
		return model.Range{
			Start: uint32(int64(r.Start) + delta),
			End:   uint32(int64(r.End) + delta),
		}
	default:
		end := max(int64(e.NewEnd), int64(r.End)+delta)
		return model.Range{Start: min(r.Start, e.Start), End: uint32(end)}
	}
}

// LineOf returns the 1-based line number of byte offset off in code.
func LineOf(code []byte, off uint32) int {
	line := 1
	for i := 0; i < int(off) && i < len(code); i++ {
		if code[i] == '\n' {
			line++
		}
	}
	return line
}

func pointAt(code []byte, off int) sitter.Point {
	var row, col uint32
	for i := 0; i < off; i++ {
		if code[i] == '\n' {
			row++
			col = 0
			continue
		}
		col++
	}
	return sitter.Point{Row: row, Column: col}
}

func column(code []byte, off int) int {
	col := 0
	for i := off - 1; i >= 0 && code[i] != '\n'; i-- {
		col++
	}
	return col
}

// blankLineSpan widens [start, end) to whole lines when nothing but
// horizontal whitespace surrounds it on its first and last line.
func blankLineSpan(code []byte, start, end int) (int, int) {
	lineStart := start
	for lineStart > 0 && isBlank(code[lineStart-1]) {
		lineStart--
	}
	if lineStart > 0 && code[lineStart-1] != '\n' {
		return start, end
	}

	lineEnd := end
	for lineEnd < len(code) && isBlank(code[lineEnd]) {
		lineEnd++
	}
	switch {
	case lineEnd == len(code):
		return lineStart, lineEnd
	case code[lineEnd] == '\n':
		return lineStart, lineEnd + 1
	case code[lineEnd] == '\r' && lineEnd+1 < len(code) && code[lineEnd+1] == '\n':
		return lineStart, lineEnd + 2
	}
	return start, end
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}
