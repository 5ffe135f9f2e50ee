package document

import (
	"fmt"
	"strings"
)

// GenerateUniqueLabel returns base when unused, otherwise the first of
// base-2, base-3, ... that is not in existing.
func GenerateUniqueLabel(base string, existing map[string]bool) string {
	if !existing[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !existing[candidate] {
			return candidate
		}
	}
}

// LabelSet collects the labels of equations for GenerateUniqueLabel.
func LabelSet(equations []Equation) map[string]bool {
	set := make(map[string]bool, len(equations))
	for _, eq := range equations {
		set[eq.Label] = true
	}
	return set
}

// RewriteLabel points the first \label{} in latex at label. When latex has no
// label directive one is added on its own line, ahead of a trailing color
// directive so the color stays the last line.
func RewriteLabel(latex, label string) string {
	directive := `\label{` + label + `}`
	if loc := labelPattern.FindStringIndex(latex); loc != nil {
		return latex[:loc[0]] + directive + latex[loc[1]:]
	}

	body := strings.TrimRight(latex, " \t\r\n")
	if _, ok := ExtractColor(body); ok {
		cut := strings.LastIndex(body, "\n")
		if cut < 0 {
			return directive + "\n" + body
		}
		return body[:cut] + "\n" + directive + body[cut:]
	}
	if body == "" {
		return directive
	}
	return body + "\n" + directive
}
