// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/phobologic/prune/internal/graph"
	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/rules"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a run report into TOON format.
func Encode(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(r.Root)))

	var fileRows, editRows, errorRows [][]string
	changed := 0
	for i := range r.Files {
		f := &r.Files[i]
		if f.Changed() {
			changed++
		}
		fileRows = append(fileRows, []string{
			f.Path,
			f.Language,
			humanize.Bytes(uint64(len(f.Original))),
			strconv.Itoa(len(f.Edits)),
			f.Status(),
		})
		for _, e := range f.Edits {
			editRows = append(editRows, []string{
				f.Path,
				e.Rule,
				strconv.Itoa(e.Line),
				e.Replacement,
			})
		}
		if f.Err != nil {
			errorRows = append(errorRows, []string{f.Path, f.Err.Error()})
		}
	}

	parts = append(parts, fmt.Sprintf("changed: %d", changed))
	parts = append(parts, formatTabular("files", []string{"path", "language", "size", "edits", "status"}, fileRows))
	parts = append(parts, formatTabular("edits", []string{"file", "rule", "line", "replacement"}, editRows))
	if len(errorRows) > 0 {
		parts = append(parts, formatTabular("errors", []string{"file", "error"}, errorRows))
	}

	return strings.Join(parts, "\n")
}

// EncodeRules describes a resolved rule set: its bindings, its rules in
// declaration order and its graph edges.
func EncodeRules(language string, subs model.Bindings, rs []*rules.Rule, edges []graph.Edge) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("language: %s", encodeValue(language)))

	var subRows [][]string
	for _, k := range sortedKeys(subs) {
		subRows = append(subRows, []string{k, subs[k]})
	}
	parts = append(parts, formatTabular("substitutions", []string{"name", "value"}, subRows))

	var ruleRows [][]string
	for _, r := range rs {
		ruleRows = append(ruleRows, []string{
			r.ID,
			strconv.FormatBool(r.Seed),
			strconv.FormatBool(r.IsTrigger()),
			r.ReplaceNode,
			strconv.Itoa(len(r.Constraints)),
			strings.Join(r.RequiredHoles(), " "),
		})
	}
	parts = append(parts, formatTabular("rules", []string{"name", "seed", "trigger", "replace_node", "constraints", "holes"}, ruleRows))

	var edgeRows [][]string
	for _, e := range edges {
		edgeRows = append(edgeRows, []string{e.From, e.To, string(e.Scope)})
	}
	parts = append(parts, formatTabular("edges", []string{"from", "to", "scope"}, edgeRows))

	return strings.Join(parts, "\n")
}

func sortedKeys(b model.Bindings) []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
