package document

import (
	"regexp"
	"strings"
)

var (
	separatorPattern   = regexp.MustCompile(`^---+$`)
	labelPattern       = regexp.MustCompile(`\\label\{([^}]+)\}`)
	labelStripPattern  = regexp.MustCompile(`\s*\\label\{[^}]*\}\s*`)
	colorPattern       = regexp.MustCompile(`^%\s*color:\s*(.+)$`)
	frontmatterPattern = regexp.MustCompile(`^(\w+):\s*(.+)$`)
	autoLabelPattern   = regexp.MustCompile(`^(eq|imported)\d+$`)
)

// IsSeparator reports whether line, once trimmed, is a run of three or more hyphens.
func IsSeparator(line string) bool {
	return separatorPattern.MatchString(strings.TrimSpace(line))
}

// ExtractLabel returns the name inside the first \label{...} in body.
func ExtractLabel(body string) (string, bool) {
	m := labelPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractColor returns the value of a "% color: <value>" directive.
// The directive only counts when it is the last non-blank line of body;
// anywhere else it is an ordinary LaTeX comment.
func ExtractColor(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		m := colorPattern.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// Frontmatter holds document-wide defaults from the leading key/value section.
type Frontmatter struct {
	// Color is the default equation color, empty when unset
	Color string `json:"color,omitempty"`
	// Values keeps every key (lower-cased) in the block, recognized or not
	Values map[string]string `json:"values"`
}

// ParseFrontmatter applies the frontmatter heuristic to a section body.
// The body qualifies when it contains no backslash, every non-blank line that is
// not a comment ("%" or "#") has the form "key: value", and there is at least one
// such line. Callers must only offer the first section of a document.
func ParseFrontmatter(body string) (*Frontmatter, bool) {
	if strings.Contains(body, `\`) {
		return nil, false
	}

	fm := &Frontmatter{Values: make(map[string]string)}
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		m := frontmatterPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, false
		}
		key := strings.ToLower(m[1])
		value := strings.TrimSpace(m[2])
		fm.Values[key] = value
		if key == "color" {
			fm.Color = value
		}
	}

	if len(fm.Values) == 0 {
		return nil, false
	}
	return fm, true
}

// NormalizeLatex strips \label{...} directives with their surrounding whitespace
// and trims the result. Two equations with equal normalized latex are treated as
// the same content.
func NormalizeLatex(latex string) string {
	return strings.TrimSpace(labelStripPattern.ReplaceAllString(latex, ""))
}

// IsAutoLabel reports whether label has the shape of a generated label
// (eq<N> from the parser or imported<N> from the SVG codec).
func IsAutoLabel(label string) bool {
	return autoLabelPattern.MatchString(label)
}
