// Package tags instantiates templates containing :[name] holes.
package tags

import (
	"fmt"
	"regexp"
	"strings"
)

var holeRe = regexp.MustCompile(`:\[([A-Za-z_][A-Za-z0-9_.]*)\]`)

// UnboundError is returned when a template references a hole that has no
// binding.
type UnboundError struct {
	Hole string
}

func (e *UnboundError) Error() string {
	return fmt.Sprintf("unbound hole :[%s]", e.Hole)
}

// Substitute replaces every :[name] hole in template with bindings[name].
// Every hole must be bound; the first unbound hole in template order is
// reported as an *UnboundError.
func Substitute(template string, bindings map[string]string) (string, error) {
	locs := holeRe.FindAllStringSubmatchIndex(template, -1)
	if len(locs) == 0 {
		return template, nil
	}

	var b strings.Builder
	pos := 0
	for _, loc := range locs {
		name := template[loc[2]:loc[3]]
		val, ok := bindings[name]
		if !ok {
			return "", &UnboundError{Hole: name}
		}
		b.WriteString(template[pos:loc[0]])
		b.WriteString(val)
		pos = loc[1]
	}
	b.WriteString(template[pos:])
	return b.String(), nil
}

// Holes returns the distinct hole names in template, in order of first
// occurrence.
func Holes(template string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range holeRe.FindAllStringSubmatch(template, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
