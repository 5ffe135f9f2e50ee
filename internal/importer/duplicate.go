// Package importer merges equations recovered from SVG files into a document,
// asking for a decision whenever an incoming equation duplicates one that is
// already there.
package importer

import (
	"strings"

	"latex-equations/internal/document"
	"latex-equations/internal/svgmeta"
)

// MatchKind says why an incoming equation was considered a duplicate.
type MatchKind int

const (
	MatchID MatchKind = iota
	MatchContent
	MatchLabel
)

func (k MatchKind) String() string {
	switch k {
	case MatchID:
		return "id"
	case MatchContent:
		return "content"
	case MatchLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Labels starting with eq (eq1, eq:energy) are too common across documents
// to identify an equation on their own.
const genericLabelPrefix = "eq"

// Candidate pairs an incoming equation with the existing equation it collides with.
type Candidate struct {
	Incoming svgmeta.ImportedEquation `json:"incoming"`
	Existing document.Equation        `json:"existing"`
	Match    MatchKind                `json:"match"`
}

// FindDuplicate looks for an existing equation that incoming duplicates.
// The first rule that hits wins: same id, then same normalized latex, then
// same label unless the incoming label carries the generic eq prefix.
func FindDuplicate(incoming svgmeta.ImportedEquation, existing []document.Equation) (Candidate, bool) {
	if incoming.ID != "" {
		for _, eq := range existing {
			if eq.ID == incoming.ID {
				return Candidate{Incoming: incoming, Existing: eq, Match: MatchID}, true
			}
		}
	}

	normalized := document.NormalizeLatex(incoming.Latex)
	if normalized != "" {
		for _, eq := range existing {
			if document.NormalizeLatex(eq.Latex) == normalized {
				return Candidate{Incoming: incoming, Existing: eq, Match: MatchContent}, true
			}
		}
	}

	if incoming.Label != "" && !strings.HasPrefix(incoming.Label, genericLabelPrefix) {
		for _, eq := range existing {
			if eq.Label == incoming.Label {
				return Candidate{Incoming: incoming, Existing: eq, Match: MatchLabel}, true
			}
		}
	}
	return Candidate{}, false
}
