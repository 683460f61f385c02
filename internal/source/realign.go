package source

import "strings"

// Realign dedents every line of text after the first so that the least
// indented of them starts at column col. The first line is left alone since
// it is placed at col by the caller. Text that is already at or left of col
// is returned unchanged.
func Realign(text string, col int) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}

	indent := -1
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	shift := indent - col
	if indent < 0 || shift <= 0 {
		return text
	}

	for i := 1; i < len(lines); i++ {
		lead := len(lines[i]) - len(strings.TrimLeft(lines[i], " \t"))
		lines[i] = lines[i][min(shift, lead):]
	}
	return strings.Join(lines, "\n")
}
