// Package diff renders line diffs of rewritten files for dry runs.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Context is the number of unchanged lines shown around each change.
const Context = 3

type kind int

const (
	equal kind = iota
	removed
	added
)

type line struct {
	kind kind
	text string
	// old and new are the 1-based line numbers before this line.
	old, new int
}

// Unified returns a unified diff of before and after labeled with path, or
// "" when they are equal. With colored set, headers and changed lines are
// wrapped in ANSI colors.
func Unified(path string, before, after []byte, colored bool) string {
	if string(before) == string(after) {
		return ""
	}

	lines := lineDiff(string(before), string(after))
	styles := newStyles(colored)

	var b strings.Builder
	styles.header.Fprintf(&b, "--- a/%s\n", path)
	styles.header.Fprintf(&b, "+++ b/%s\n", path)
	for _, h := range hunks(lines) {
		writeHunk(&b, lines[h[0]:h[1]], styles)
	}
	return b.String()
}

func lineDiff(before, after string) []line {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var out []line
	oldNo, newNo := 1, 1
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			l := line{text: text, old: oldNo, new: newNo}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				l.kind = equal
				oldNo++
				newNo++
			case diffmatchpatch.DiffDelete:
				l.kind = removed
				oldNo++
			case diffmatchpatch.DiffInsert:
				l.kind = added
				newNo++
			}
			out = append(out, l)
		}
	}
	return out
}

func splitLines(s string) []string {
	parts := strings.SplitAfter(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// hunks groups changed lines, joining groups separated by fewer than
// 2*Context unchanged lines, and returns [start, end) index pairs.
func hunks(lines []line) [][2]int {
	var out [][2]int
	for i := 0; i < len(lines); i++ {
		if lines[i].kind == equal {
			continue
		}
		start := max(0, i-Context)
		end := i
		for j := i; j < len(lines); j++ {
			if lines[j].kind != equal {
				end = j
				continue
			}
			if j-end > 2*Context {
				break
			}
		}
		stop := min(len(lines), end+Context+1)
		if n := len(out); n > 0 && out[n-1][1] >= start {
			out[n-1][1] = stop
		} else {
			out = append(out, [2]int{start, stop})
		}
		i = stop - 1
	}
	return out
}

func writeHunk(b *strings.Builder, lines []line, s styles) {
	oldStart, newStart := lines[0].old, lines[0].new
	var oldCount, newCount int
	for _, l := range lines {
		if l.kind != added {
			oldCount++
		}
		if l.kind != removed {
			newCount++
		}
	}
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	s.hunk.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)

	for _, l := range lines {
		text := strings.TrimSuffix(l.text, "\n")
		switch l.kind {
		case removed:
			s.removed.Fprintf(b, "-%s", text)
		case added:
			s.added.Fprintf(b, "+%s", text)
		default:
			fmt.Fprintf(b, " %s", text)
		}
		b.WriteByte('\n')
	}
}

type styles struct {
	header, hunk, removed, added *color.Color
}

func newStyles(colored bool) styles {
	s := styles{
		header:  color.New(color.Bold),
		hunk:    color.New(color.FgCyan),
		removed: color.New(color.FgRed),
		added:   color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{s.header, s.hunk, s.removed, s.added} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}
