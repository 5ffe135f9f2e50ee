package document

import (
	"github.com/google/uuid"

	"latex-equations/internal/logger"
)

// AssignIdentities gives each equation in current an id. Equation i inherits
// previous[i].ID; positions past the end of previous get a fresh id from newID.
// If two equations end up with the same id the later one is regenerated.
//
// Matching is positional on purpose: inserting or deleting an equation in the
// middle of a document shifts every later id, but editing an equation's body
// keeps its id. current is not modified.
func AssignIdentities(current, previous []Equation, newID func() string) []Equation {
	if newID == nil {
		newID = uuid.NewString
	}

	out := make([]Equation, len(current))
	seen := make(map[string]bool, len(current))
	for i, eq := range current {
		switch {
		case i < len(previous) && previous[i].ID != "":
			eq.ID = previous[i].ID
		case eq.ID == "":
			eq.ID = newID()
		}
		for seen[eq.ID] {
			old := eq.ID
			eq.ID = newID()
			logger.Debug("equation id collision, regenerated",
				logger.String("old", old),
				logger.String("new", eq.ID),
				logger.Int("index", i))
		}
		seen[eq.ID] = true
		out[i] = eq
	}
	return out
}

// Changes lists the ids that differ between two parses of a document.
type Changes struct {
	Added   []string
	Removed []string
	// Changed holds ids present in both parses whose latex differs
	Changed []string
}

// Empty reports whether no id was added, removed or changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Stale returns the ids whose cached renders are no longer valid.
func (c Changes) Stale() []string {
	stale := make([]string, 0, len(c.Removed)+len(c.Changed))
	stale = append(stale, c.Removed...)
	return append(stale, c.Changed...)
}

// Diff compares two equation lists by id.
func Diff(previous, current []Equation) Changes {
	before := make(map[string]string, len(previous))
	for _, eq := range previous {
		before[eq.ID] = eq.Latex
	}

	var c Changes
	after := make(map[string]bool, len(current))
	for _, eq := range current {
		after[eq.ID] = true
		latex, existed := before[eq.ID]
		switch {
		case !existed:
			c.Added = append(c.Added, eq.ID)
		case latex != eq.Latex:
			c.Changed = append(c.Changed, eq.ID)
		}
	}
	for _, eq := range previous {
		if !after[eq.ID] {
			c.Removed = append(c.Removed, eq.ID)
		}
	}
	return c
}
