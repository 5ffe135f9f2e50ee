package session

import (
	"context"
	"strings"

	"latex-equations/internal/importer"
	"latex-equations/internal/logger"
	"latex-equations/internal/project"
	"latex-equations/internal/render"
	"latex-equations/internal/svgmeta"
	"latex-equations/internal/types"
)

// ImportStatus reports the state of an import after each step.
type ImportStatus struct {
	State     string              `json:"state"`
	Candidate *importer.Candidate `json:"candidate,omitempty"`
	Remaining int                 `json:"remaining"`
	Done      bool                `json:"done"`
	// Empty is true when the SVG was readable but held no equations
	Empty    bool               `json:"empty"`
	Outcomes []importer.Outcome `json:"outcomes,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

// BeginImport reads equations out of svgText and starts merging them into
// the document. New sections go after the equation at cursorLine, or at the
// end when cursorLine is negative. An SVG that cannot be read at all is an
// error; one that simply holds no equations is reported through Empty.
func (s *Session) BeginImport(svgText string, cursorLine int) (*ImportStatus, error) {
	parsed := svgmeta.ParseSVG(svgText)
	switch parsed.Outcome() {
	case svgmeta.OutcomeUnreadable:
		logger.Warn("unreadable SVG import", logger.Strings("errors", parsed.Errors))
		return nil, types.NewAppErrorWithDetails(types.ErrImport,
			"could not read equations from SVG", strings.Join(parsed.Errors, "; "), nil)
	case svgmeta.OutcomeEmpty:
		logger.Info("SVG import holds no equations")
		return &ImportStatus{State: importer.StateIdle.String(), Done: true, Empty: true, Errors: parsed.Errors}, nil
	}

	s.mu.Lock()
	if s.resolver != nil {
		s.mu.Unlock()
		return nil, types.NewAppError(types.ErrImport, "another import is waiting for a decision", nil)
	}
	s.refreshLocked()

	var preamble string
	if parsed.Metadata != nil && parsed.Metadata.GlobalPreamble != nil {
		preamble = *parsed.Metadata.GlobalPreamble
	}
	for _, eq := range parsed.Equations {
		if eq.Markup != "" {
			s.pasted.Set(eq.Latex, eq.DisplayMode, preamble, eq.Markup)
		}
	}

	resolver := importer.NewResolver(s.text, s.result,
		importer.WithCursor(cursorLine),
		importer.WithParser(s.parser))
	step, err := resolver.Begin(parsed.Equations)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.resolver = resolver
	s.importErrs = parsed.Errors
	status, events := s.importStepLocked(step)
	s.mu.Unlock()

	s.emit(events...)
	return status, nil
}

// ResolveImport answers the pending duplicate prompt.
func (s *Session) ResolveImport(decision importer.Decision) (*ImportStatus, error) {
	s.mu.Lock()
	if s.resolver == nil {
		s.mu.Unlock()
		return nil, types.NewAppError(types.ErrImport, "no import is waiting for a decision", nil)
	}
	step, err := s.resolver.Resolve(decision)
	if err != nil {
		// a resolver that stopped mid-import takes no more decisions
		if s.resolver.State() != importer.StateAwaitingDecision {
			s.abortImportLocked()
		}
		s.mu.Unlock()
		return nil, err
	}
	status, events := s.importStepLocked(step)
	s.mu.Unlock()

	s.emit(events...)
	return status, nil
}

// ImportStatus returns the state of the running import, or nil.
func (s *Session) ImportStatus() *ImportStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver == nil {
		return nil
	}
	status := &ImportStatus{
		State:     s.resolver.State().String(),
		Remaining: s.resolver.Remaining(),
		Outcomes:  s.resolver.Outcomes(),
		Errors:    s.importErrs,
	}
	if c, ok := s.resolver.Pending(); ok {
		status.Candidate = &c
	}
	return status
}

// CancelImport abandons a running import without touching the document.
func (s *Session) CancelImport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortImportLocked()
}

func (s *Session) abortImportLocked() bool {
	if s.resolver == nil {
		return false
	}
	s.resolver = nil
	s.importErrs = nil
	return true
}

// importStepLocked applies the resolver's text once every equation is handled.
func (s *Session) importStepLocked(step importer.Step) (*ImportStatus, []Event) {
	status := &ImportStatus{
		State:     step.State.String(),
		Candidate: step.Candidate,
		Remaining: s.resolver.Remaining(),
		Done:      step.Done,
		Outcomes:  s.resolver.Outcomes(),
		Errors:    s.importErrs,
	}
	if !step.Done {
		return status, []Event{{Kind: EventImport}}
	}

	s.text = s.resolver.Text()
	events := s.applyParseLocked(s.resolver.Result())
	s.resolver = nil
	s.importErrs = nil

	logger.Info("import applied", logger.Int("outcomes", len(status.Outcomes)))
	return status, append(events, Event{Kind: EventImport})
}

// ExportSVG renders whatever is missing and assembles the document into one
// SVG with embedded metadata. Equations that still fail are exported as
// empty boxes so their source is not lost.
func (s *Session) ExportSVG(ctx context.Context) (string, error) {
	s.Refresh()
	if s.renderer != nil {
		if err := s.RenderPending(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	doc := svgmeta.ExportDocument{
		GlobalPreamble: s.preamble,
		EngineOptions: map[string]interface{}{
			"displayMode": s.displayMode,
		},
	}
	if s.renderer != nil {
		doc.EngineVersion = s.renderer.Version()
		doc.EngineOptions["engine"] = s.renderer.Name()
	}

	missing := 0
	for _, eq := range s.result.Equations {
		svg, ok := s.currentSVGLocked(eq)
		if !ok {
			missing++
		}
		doc.Equations = append(doc.Equations, svgmeta.ExportEquation{
			ID:          eq.ID,
			Label:       eq.Label,
			Latex:       eq.Latex,
			DisplayMode: s.displayMode,
			Color:       s.result.EffectiveColor(eq),
			SVG:         svg,
		})
	}
	s.mu.Unlock()

	if missing > 0 {
		logger.Warn("exporting equations without rendering", logger.Int("missing", missing))
	}
	out, err := svgmeta.BuildSVG(doc)
	if err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to build SVG", err)
	}
	logger.Info("document exported",
		logger.Int("equations", len(doc.Equations)),
		logger.Int("bytes", len(out)))
	return out, nil
}

// Project captures the document as a project file. A project that was
// loaded keeps its creation time and name unless name is set.
func (s *Session) Project(name string) *project.File {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := project.New(name, s.text, s.preamble)
	if s.projectMeta != nil {
		f.Metadata.CreatedAt = s.projectMeta.CreatedAt
		if name == "" {
			f.Metadata.Name = s.projectMeta.Name
		}
	}
	return f
}

// LoadProject replaces the document with the project's. Every rendering and
// failure of the previous document is dropped.
func (s *Session) LoadProject(f *project.File) {
	s.mu.Lock()
	s.abortImportLocked()
	s.text = f.Document
	s.preamble = f.Preamble()
	meta := f.Metadata
	s.projectMeta = &meta

	s.resetRendersLocked()
	s.result = s.parser.Parse(s.text, nil)
	s.seedFromPastedLocked()
	ids := s.result.IDs()
	s.mu.Unlock()

	logger.Info("project opened",
		logger.String("name", f.Metadata.Name),
		logger.Int("equations", len(ids)))
	s.emit(Event{Kind: EventParsed, IDs: ids})
}

// Options returns the render options equations are rendered with.
func (s *Session) Options() render.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optionsLocked()
}
