// Package document parses delimited LaTeX equation documents and computes
// the text edits that insert, replace and delete equation sections.
//
// A document is plain text. Lines whose trimmed content matches ^---+$
// separate sections; an optional leading key/value section holds document
// defaults and every other non-blank section is one equation.
package document

// Equation is one equation section of a parsed document.
type Equation struct {
	// ID is unique within one parse result and survives re-parses by position
	ID string `json:"id"`
	// Label comes from \label{...}, or eq<N> over unlabeled equations in order
	Label string `json:"label"`
	// Latex is the trimmed section body, directives included
	Latex string `json:"latex"`
	// StartLine and EndLine are the inclusive 0-based span of the non-blank
	// content lines. Separators and blank padding are not part of the span.
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
	// Color is set by a trailing "% color: <value>" line
	Color string `json:"color,omitempty"`
	// ExplicitLabel is true when Label came from a \label{} directive
	ExplicitLabel bool `json:"explicitLabel"`
}

// Contains reports whether line falls inside the equation's span.
func (e Equation) Contains(line int) bool {
	return line >= e.StartLine && line <= e.EndLine
}

// Result is the outcome of parsing one document snapshot.
type Result struct {
	Frontmatter *Frontmatter `json:"frontmatter,omitempty"`
	Equations   []Equation   `json:"equations"`
}

// Find returns the equation with the given id.
func (r Result) Find(id string) (Equation, bool) {
	if i := r.IndexOf(id); i >= 0 {
		return r.Equations[i], true
	}
	return Equation{}, false
}

// IndexOf returns the position of the equation with the given id, or -1.
func (r Result) IndexOf(id string) int {
	for i, eq := range r.Equations {
		if eq.ID == id {
			return i
		}
	}
	return -1
}

// EquationAt returns the equation containing line or, when line falls between
// sections, the closest equation before it. ok is false when line precedes
// every equation.
func (r Result) EquationAt(line int) (Equation, bool) {
	var found Equation
	ok := false
	for _, eq := range r.Equations {
		if eq.StartLine > line {
			break
		}
		found, ok = eq, true
	}
	return found, ok
}

// EffectiveColor returns the equation's own color, else the frontmatter default.
func (r Result) EffectiveColor(eq Equation) string {
	if eq.Color != "" {
		return eq.Color
	}
	if r.Frontmatter != nil {
		return r.Frontmatter.Color
	}
	return ""
}

// IDs returns the equation ids in document order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Equations))
	for i, eq := range r.Equations {
		ids[i] = eq.ID
	}
	return ids
}
