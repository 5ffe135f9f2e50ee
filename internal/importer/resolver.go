package importer

import (
	"fmt"

	"latex-equations/internal/document"
	"latex-equations/internal/logger"
	"latex-equations/internal/svgmeta"
	"latex-equations/internal/types"
)

// Decision is the user's answer for one duplicate.
type Decision int

const (
	// Cancel leaves the document unchanged for this equation
	Cancel Decision = iota
	// Overwrite replaces the existing equation's section in place
	Overwrite
	// KeepBoth adds the incoming equation under a fresh label
	KeepBoth
)

func (d Decision) String() string {
	switch d {
	case Cancel:
		return "cancel"
	case Overwrite:
		return "overwrite"
	case KeepBoth:
		return "keep-both"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ParseDecision maps "cancel", "overwrite" and "keep-both" to a Decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "cancel":
		return Cancel, nil
	case "overwrite":
		return Overwrite, nil
	case "keep-both", "keepboth", "keep":
		return KeepBoth, nil
	}
	return Cancel, types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unknown decision: %s", s), nil)
}

// State of a Resolver.
type State int

const (
	StateIdle State = iota
	StateAwaitingDecision
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDecision:
		return "awaiting-decision"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Action records what happened to one incoming equation.
type Action string

const (
	ActionInserted    Action = "inserted"
	ActionOverwritten Action = "overwritten"
	ActionKeptBoth    Action = "kept-both"
	ActionSkipped     Action = "skipped"
)

// Outcome is the fate of one incoming equation.
type Outcome struct {
	Incoming svgmeta.ImportedEquation `json:"incoming"`
	Action   Action                   `json:"action"`
	// Label is the label the equation ended up with in the document
	Label string `json:"label,omitempty"`
}

// Step is returned after every transition.
type Step struct {
	State State `json:"state"`
	// Candidate is set while a decision is awaited
	Candidate *Candidate `json:"candidate,omitempty"`
	Text      string     `json:"text"`
	// Done is true once every incoming equation has been handled
	Done bool `json:"done"`
}

// Resolver applies a batch of imported equations to a document one at a
// time. Equations without a duplicate are added straight away; the first
// duplicate stops the queue until Resolve is called with a decision.
type Resolver struct {
	parser *document.Parser

	state   State
	text    string
	result  document.Result
	queue   []svgmeta.ImportedEquation
	pending *Candidate

	outcomes []Outcome

	hasCursor  bool
	cursorLine int
	// anchorID is the last equation added by this batch
	anchorID string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCursor makes new sections go after the equation at or before line
// instead of at the end of the document.
func WithCursor(line int) Option {
	return func(r *Resolver) {
		if line >= 0 {
			r.hasCursor = true
			r.cursorLine = line
		}
	}
}

// WithParser sets the parser used to re-parse the document between edits.
func WithParser(p *document.Parser) Option {
	return func(r *Resolver) {
		if p != nil {
			r.parser = p
		}
	}
}

// NewResolver creates an idle resolver over text. current is the document's
// latest parse result; its ids are carried through every re-parse.
func NewResolver(text string, current document.Result, opts ...Option) *Resolver {
	r := &Resolver{
		parser: document.NewParser(),
		state:  StateIdle,
		text:   text,
		result: current,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin starts importing equations.
func (r *Resolver) Begin(imports []svgmeta.ImportedEquation) (Step, error) {
	if r.state != StateIdle {
		return r.step(), types.NewAppError(types.ErrImport,
			fmt.Sprintf("import already in progress (%s)", r.state), nil)
	}
	r.queue = append([]svgmeta.ImportedEquation(nil), imports...)
	r.outcomes = nil

	logger.Info("import started", logger.Int("equations", len(imports)))
	return r.advance()
}

// Resolve applies the user's decision for the pending duplicate and carries
// on with the queue.
func (r *Resolver) Resolve(decision Decision) (Step, error) {
	if r.state != StateAwaitingDecision || r.pending == nil {
		return r.step(), types.NewAppError(types.ErrImport,
			fmt.Sprintf("no duplicate awaiting a decision (%s)", r.state), nil)
	}
	candidate := *r.pending
	r.pending = nil
	r.state = StateApplying

	logger.Debug("duplicate resolved",
		logger.String("decision", decision.String()),
		logger.String("match", candidate.Match.String()),
		logger.String("existing", candidate.Existing.Label))

	var err error
	switch decision {
	case Cancel:
		r.record(candidate.Incoming, ActionSkipped, candidate.Existing.Label)
	case Overwrite:
		err = r.overwrite(candidate)
	case KeepBoth:
		err = r.keepBoth(candidate)
	default:
		err = types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unknown decision: %d", int(decision)), nil)
	}
	if err != nil {
		// the document is unchanged; ask again
		r.pending = &candidate
		r.state = StateAwaitingDecision
		return r.step(), err
	}
	return r.advance()
}

// State returns the current state.
func (r *Resolver) State() State {
	return r.state
}

// Text returns the document text with every change applied so far.
func (r *Resolver) Text() string {
	return r.text
}

// Result returns the parse result of Text.
func (r *Resolver) Result() document.Result {
	return r.result
}

// Pending returns the duplicate awaiting a decision.
func (r *Resolver) Pending() (Candidate, bool) {
	if r.pending == nil {
		return Candidate{}, false
	}
	return *r.pending, true
}

// Remaining returns how many incoming equations are still queued, not
// counting the pending one.
func (r *Resolver) Remaining() int {
	return len(r.queue)
}

// Outcomes lists what happened to each incoming equation handled so far.
func (r *Resolver) Outcomes() []Outcome {
	return append([]Outcome(nil), r.outcomes...)
}

func (r *Resolver) step() Step {
	s := Step{State: r.state, Text: r.text, Done: r.state == StateIdle}
	if r.pending != nil {
		c := *r.pending
		s.Candidate = &c
	}
	return s
}

// advance drains the queue until it is empty or a duplicate needs a decision.
func (r *Resolver) advance() (Step, error) {
	r.state = StateApplying
	for len(r.queue) > 0 {
		incoming := r.queue[0]
		r.queue = r.queue[1:]

		if candidate, ok := FindDuplicate(incoming, r.result.Equations); ok {
			r.pending = &candidate
			r.state = StateAwaitingDecision
			logger.Info("duplicate equation found",
				logger.String("incoming", incoming.Label),
				logger.String("existing", candidate.Existing.Label),
				logger.String("match", candidate.Match.String()))
			return r.step(), nil
		}

		if err := r.insert(incoming.Latex); err != nil {
			r.state = StateIdle
			r.queue = nil
			return r.step(), err
		}
		r.record(incoming, ActionInserted, r.anchorLabel())
	}

	r.state = StateIdle
	logger.Info("import finished", logger.Int("outcomes", len(r.outcomes)))
	return r.step(), nil
}

func (r *Resolver) overwrite(c Candidate) error {
	edit, err := document.ReplaceSection(r.text, c.Existing.StartLine, c.Existing.EndLine, c.Incoming.Latex)
	if err != nil {
		return err
	}
	r.apply(edit.Text)
	label := c.Existing.Label
	if eq, ok := r.result.EquationAt(edit.CursorLine); ok {
		label = eq.Label
	}
	r.record(c.Incoming, ActionOverwritten, label)
	return nil
}

func (r *Resolver) keepBoth(c Candidate) error {
	base := c.Incoming.Label
	if base == "" {
		base = c.Existing.Label
	}
	label := document.GenerateUniqueLabel(base, document.LabelSet(r.result.Equations))
	if err := r.insert(document.RewriteLabel(c.Incoming.Latex, label)); err != nil {
		return err
	}
	r.record(c.Incoming, ActionKeptBoth, label)
	return nil
}

// insert adds latex as a new section: after the previous equation of this
// batch, else after the equation at the cursor, else at the end.
func (r *Resolver) insert(latex string) error {
	var (
		anchor document.Equation
		ok     bool
	)
	if r.anchorID != "" {
		anchor, ok = r.result.Find(r.anchorID)
	}
	if !ok && r.hasCursor {
		anchor, ok = r.result.EquationAt(r.cursorLine)
	}

	var edit document.Edit
	if ok {
		var err error
		edit, err = document.InsertAfter(r.text, anchor.StartLine, anchor.EndLine, latex)
		if err != nil {
			return err
		}
	} else {
		edit = document.Append(r.text, latex)
	}

	r.apply(edit.Text)
	if eq, found := r.result.EquationAt(edit.CursorLine); found {
		r.anchorID = eq.ID
	}
	return nil
}

func (r *Resolver) apply(text string) {
	r.text = text
	r.result = r.parser.Parse(text, r.result.Equations)
}

func (r *Resolver) anchorLabel() string {
	if eq, ok := r.result.Find(r.anchorID); ok {
		return eq.Label
	}
	return ""
}

func (r *Resolver) record(incoming svgmeta.ImportedEquation, action Action, label string) {
	r.outcomes = append(r.outcomes, Outcome{Incoming: incoming, Action: action, Label: label})
}
