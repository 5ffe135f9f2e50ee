// Package session owns one open equation document: its text, the equations
// parsed from it, their rendered SVG and render failures, and the import
// that may be waiting for a duplicate decision.
//
// Edits go through SetText, which coalesces bursts of changes before
// re-parsing. Every re-parse invalidates, in one step, the SVG and failure
// records of equations that were removed or whose LaTeX changed.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"

	"latex-equations/internal/document"
	errlog "latex-equations/internal/errors"
	"latex-equations/internal/importer"
	"latex-equations/internal/logger"
	"latex-equations/internal/project"
	"latex-equations/internal/render"
	"latex-equations/internal/types"
)

// EventKind names a session change.
type EventKind string

const (
	EventParsed       EventKind = "parsed"
	EventRendered     EventKind = "rendered"
	EventRenderFailed EventKind = "render-failed"
	EventImport       EventKind = "import"
)

// Event is delivered to the change listener after the session lock is released.
type Event struct {
	Kind EventKind `json:"kind"`
	IDs  []string  `json:"ids,omitempty"`
}

// Options configures a Session.
type Options struct {
	// Context bounds renders started by debounced edits
	Context  context.Context
	Renderer render.Renderer
	Parser   *document.Parser
	// Concurrency defaults to render.DefaultConcurrency
	Concurrency int
	// Debounce coalesces SetText calls; zero refreshes on every call
	Debounce time.Duration
	// AutoRender renders pending equations after each debounced refresh
	AutoRender     bool
	DisplayMode    string
	GlobalPreamble string
	// Errors defaults to an in-memory log
	Errors *errlog.ErrorManager
	// Pasted defaults to an in-memory cache
	Pasted   *render.SVGCache
	OnChange func(Event)
}

// cachedSVG is a rendered equation tagged with the LaTeX it came from.
type cachedSVG struct {
	latex string
	svg   string
}

// inflight is the newest render request issued for an equation.
type inflight struct {
	latex string
	seq   uint64
}

// Session is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	ctx         context.Context
	renderer    render.Renderer
	parser      *document.Parser
	concurrency int
	displayMode string
	preamble    string
	autoRender  bool

	text   string
	result document.Result

	rendered map[string]cachedSVG
	pending  map[string]inflight
	// issued is the last request sequence per equation; results with a
	// lower sequence were superseded
	issued map[string]uint64
	seq    uint64

	failures *errlog.ErrorManager
	pasted   *render.SVGCache

	resolver    *importer.Resolver
	importErrs  []string
	projectMeta *project.Metadata

	debounced func(func())
	listener  func(Event)
	closed    bool
}

// New creates an empty session.
func New(opts Options) *Session {
	s := &Session{
		ctx:         opts.Context,
		renderer:    opts.Renderer,
		parser:      opts.Parser,
		concurrency: opts.Concurrency,
		displayMode: opts.DisplayMode,
		preamble:    opts.GlobalPreamble,
		autoRender:  opts.AutoRender,
		rendered:    make(map[string]cachedSVG),
		pending:     make(map[string]inflight),
		issued:      make(map[string]uint64),
		failures:    opts.Errors,
		pasted:      opts.Pasted,
		listener:    opts.OnChange,
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.parser == nil {
		s.parser = document.NewParser()
	}
	if s.concurrency <= 0 {
		s.concurrency = render.DefaultConcurrency
	}
	if s.displayMode != render.DisplayInline {
		s.displayMode = render.DisplayBlock
	}
	if s.failures == nil {
		// an in-memory log never fails to open
		s.failures, _ = errlog.NewErrorManager("")
	}
	if s.pasted == nil {
		s.pasted = render.NewSVGCache("")
	}
	if opts.Debounce > 0 {
		s.debounced = debounce.New(opts.Debounce)
	}
	return s
}

// SetListener replaces the change listener.
func (s *Session) SetListener(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Close stops debounced work. Pending renders finish but nothing new starts.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.debounced != nil {
		s.debounced(func() {})
	}
}

// Text returns the current document text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// SetText replaces the document text. The re-parse happens after the
// debounce window, or immediately when debouncing is off. An import waiting
// for a decision is abandoned because its text is now out of date.
func (s *Session) SetText(text string) {
	s.mu.Lock()
	s.text = text
	if s.abortImportLocked() {
		logger.Warn("pending import abandoned by edit")
	}
	s.mu.Unlock()

	if s.debounced != nil {
		s.debounced(s.idle)
		return
	}
	s.idle()
}

// idle runs once edits have settled.
func (s *Session) idle() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.Refresh()
	if s.autoRender {
		if err := s.RenderPending(s.ctx); err != nil {
			logger.Warn("background render stopped", logger.Err(err))
		}
	}
}

// Refresh re-parses the current text now.
func (s *Session) Refresh() document.Result {
	s.mu.Lock()
	events := s.refreshLocked()
	result := s.result
	s.mu.Unlock()

	s.emit(events...)
	return result
}

// Result returns the latest parse result without re-parsing.
func (s *Session) Result() document.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) refreshLocked() []Event {
	return s.applyParseLocked(s.parser.Parse(s.text, s.result.Equations))
}

// applyParseLocked installs next and drops everything that belonged to
// removed equations or to LaTeX that no longer exists.
func (s *Session) applyParseLocked(next document.Result) []Event {
	changes := document.Diff(s.result.Equations, next.Equations)
	s.result = next

	for _, id := range changes.Stale() {
		delete(s.rendered, id)
		if err := s.failures.RemoveError(id); err != nil {
			logger.Warn("failed to clear render error", logger.String("id", id), logger.Err(err))
		}
	}
	for _, id := range changes.Removed {
		delete(s.pending, id)
		delete(s.issued, id)
	}
	if err := s.failures.RetainOnly(next.IDs()); err != nil {
		logger.Warn("failed to prune render errors", logger.Err(err))
	}

	seeded := s.seedFromPastedLocked()

	if !changes.Empty() {
		logger.Debug("document re-parsed",
			logger.Int("equations", len(next.Equations)),
			logger.Int("added", len(changes.Added)),
			logger.Int("removed", len(changes.Removed)),
			logger.Int("changed", len(changes.Changed)),
			logger.Int("seeded", seeded))
	}
	return []Event{{Kind: EventParsed, IDs: next.IDs()}}
}

// seedFromPastedLocked fills in SVG that arrived with imported equations and
// was rendered under the current preamble and display mode.
func (s *Session) seedFromPastedLocked() int {
	n := 0
	for _, eq := range s.result.Equations {
		if _, ok := s.currentSVGLocked(eq); ok {
			continue
		}
		if svg, ok := s.pasted.Get(eq.Latex, s.displayMode, s.preamble); ok {
			s.rendered[eq.ID] = cachedSVG{latex: eq.Latex, svg: svg}
			n++
		}
	}
	return n
}

func (s *Session) currentSVGLocked(eq document.Equation) (string, bool) {
	c, ok := s.rendered[eq.ID]
	if !ok || c.latex != eq.Latex {
		return "", false
	}
	return c.svg, true
}

// SVG returns the rendered markup of the equation when it is up to date.
func (s *Session) SVG(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eq, ok := s.result.Find(id)
	if !ok {
		return "", false
	}
	return s.currentSVGLocked(eq)
}

// EquationView is an equation with its render state, as shown to the UI.
type EquationView struct {
	document.Equation
	EffectiveColor string `json:"effectiveColor,omitempty"`
	SVG            string `json:"svg,omitempty"`
	Pending        bool   `json:"pending"`
	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
	ErrorKindName  string `json:"errorKindName,omitempty"`
}

// Equations returns the equations of the latest parse with their render state.
func (s *Session) Equations() []EquationView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]EquationView, len(s.result.Equations))
	for i, eq := range s.result.Equations {
		v := EquationView{Equation: eq, EffectiveColor: s.result.EffectiveColor(eq)}
		v.SVG, _ = s.currentSVGLocked(eq)
		if p, ok := s.pending[eq.ID]; ok && p.latex == eq.Latex {
			v.Pending = true
		}
		if rec, ok := s.failures.GetError(eq.ID); ok && rec.Latex == eq.Latex {
			v.Error = rec.ErrorMsg
			v.ErrorKind = string(rec.Kind)
			v.ErrorKindName = errlog.GetKindDisplayName(rec.Kind)
		}
		views[i] = v
	}
	return views
}

// Failures lists the recorded render failures.
func (s *Session) Failures() []*errlog.FailureRecord {
	return s.failures.ListErrors()
}

// FailureCounts counts the recorded failures per kind, or returns nil when
// nothing failed.
func (s *Session) FailureCounts() map[errlog.ErrorKind]int {
	if !s.failures.HasErrors() {
		return nil
	}
	counts := make(map[errlog.ErrorKind]int)
	for _, kind := range []errlog.ErrorKind{errlog.KindSyntax, errlog.KindUnavailable} {
		if n := s.failures.CountByKind(kind); n > 0 {
			counts[kind] = n
		}
	}
	return counts
}

// DisplayMode returns "block" or "inline".
func (s *Session) DisplayMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayMode
}

// GlobalPreamble returns the macros prepended to every equation.
func (s *Session) GlobalPreamble() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preamble
}

// SetGlobalPreamble changes the shared macros. Every rendered equation is
// stale afterwards.
func (s *Session) SetGlobalPreamble(preamble string) {
	s.mu.Lock()
	if preamble == s.preamble {
		s.mu.Unlock()
		return
	}
	s.preamble = preamble
	s.resetRendersLocked()
	s.seedFromPastedLocked()
	ids := s.result.IDs()
	s.mu.Unlock()

	s.emit(Event{Kind: EventParsed, IDs: ids})
}

// SetDisplayMode switches between block and inline rendering.
func (s *Session) SetDisplayMode(mode string) {
	if mode != render.DisplayInline {
		mode = render.DisplayBlock
	}
	s.mu.Lock()
	if mode == s.displayMode {
		s.mu.Unlock()
		return
	}
	s.displayMode = mode
	s.resetRendersLocked()
	s.seedFromPastedLocked()
	ids := s.result.IDs()
	s.mu.Unlock()

	s.emit(Event{Kind: EventParsed, IDs: ids})
}

// resetRendersLocked forgets every SVG and failure. Requests already in
// flight end up below issued and are dropped as superseded.
func (s *Session) resetRendersLocked() {
	s.rendered = make(map[string]cachedSVG)
	s.pending = make(map[string]inflight)
	s.seq++
	for id := range s.issued {
		s.issued[id] = s.seq
	}
	if err := s.failures.ClearAll(); err != nil {
		logger.Warn("failed to clear render errors", logger.Err(err))
	}
}

// mutateLocked installs the text of an edit and re-parses.
func (s *Session) mutateLocked(edit document.Edit) []Event {
	s.text = edit.Text
	s.abortImportLocked()
	return s.refreshLocked()
}

func (s *Session) findLocked(id string) (document.Equation, error) {
	s.refreshLocked()
	eq, ok := s.result.Find(id)
	if !ok {
		return document.Equation{}, types.NewAppError(types.ErrInvalidInput, "equation not found: "+id, nil)
	}
	return eq, nil
}

// DeleteEquation removes the equation's section with one adjacent separator.
func (s *Session) DeleteEquation(id string) (document.Edit, error) {
	s.mu.Lock()
	eq, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	edit, err := document.DeleteSection(s.text, eq.StartLine, eq.EndLine)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	events := s.mutateLocked(edit)
	s.mu.Unlock()

	logger.Info("equation deleted", logger.String("id", id), logger.String("label", eq.Label))
	s.emit(events...)
	return edit, nil
}

// ReplaceEquation rewrites the equation's section with latex.
func (s *Session) ReplaceEquation(id, latex string) (document.Edit, error) {
	s.mu.Lock()
	eq, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	edit, err := document.ReplaceSection(s.text, eq.StartLine, eq.EndLine, latex)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	events := s.mutateLocked(edit)
	s.mu.Unlock()

	s.emit(events...)
	return edit, nil
}

// InsertEquationAfter adds latex as a new section after the equation.
func (s *Session) InsertEquationAfter(id, latex string) (document.Edit, error) {
	s.mu.Lock()
	eq, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	edit, err := document.InsertAfter(s.text, eq.StartLine, eq.EndLine, latex)
	if err != nil {
		s.mu.Unlock()
		return document.Edit{}, err
	}
	events := s.mutateLocked(edit)
	s.mu.Unlock()

	s.emit(events...)
	return edit, nil
}

// AppendEquation adds latex as the last section.
func (s *Session) AppendEquation(latex string) document.Edit {
	s.mu.Lock()
	edit := document.Append(s.text, latex)
	events := s.mutateLocked(edit)
	s.mu.Unlock()

	s.emit(events...)
	return edit
}

func (s *Session) emit(events ...Event) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return
	}
	for _, e := range events {
		listener(e)
	}
}
