package session

import (
	"context"
	"time"

	"latex-equations/internal/document"
	errlog "latex-equations/internal/errors"
	"latex-equations/internal/logger"
	"latex-equations/internal/render"
	"latex-equations/internal/types"
)

// Applied says what ApplyRenderResult did with a result.
type Applied int

const (
	// Stored means the SVG is now the equation's current rendering
	Stored Applied = iota
	// Failed means the failure was recorded and any previous SVG kept
	Failed
	// DiscardedDeleted means the equation no longer exists
	DiscardedDeleted
	// DiscardedStale means the equation's LaTeX changed after the request
	DiscardedStale
	// DiscardedSuperseded means a newer request for the equation was issued
	DiscardedSuperseded
)

func (a Applied) String() string {
	switch a {
	case Stored:
		return "stored"
	case Failed:
		return "failed"
	case DiscardedDeleted:
		return "discarded-deleted"
	case DiscardedStale:
		return "discarded-stale"
	case DiscardedSuperseded:
		return "discarded-superseded"
	default:
		return "unknown"
	}
}

// Ticket identifies one issued render request.
type Ticket struct {
	Request render.Request
	Seq     uint64
}

func (s *Session) optionsLocked() render.Options {
	return render.Options{DisplayMode: s.displayMode, Preamble: s.preamble}
}

// issueLocked records a new request for the equation; any earlier request
// for the same id is superseded.
func (s *Session) issueLocked(id, latex string) Ticket {
	s.seq++
	s.pending[id] = inflight{latex: latex, seq: s.seq}
	s.issued[id] = s.seq
	return Ticket{
		Request: render.Request{ID: id, Latex: latex, Options: s.optionsLocked()},
		Seq:     s.seq,
	}
}

// RequestRender issues a render request for one equation without running
// it. The caller renders Ticket.Request and hands the result to
// ApplyRenderResult.
func (s *Session) RequestRender(id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eq, ok := s.result.Find(id)
	if !ok {
		return Ticket{}, types.NewAppError(types.ErrInvalidInput, "equation not found: "+id, nil)
	}
	return s.issueLocked(eq.ID, eq.Latex), nil
}

// PendingRequests issues requests for every equation that has no current
// SVG and no request in flight for its current LaTeX.
func (s *Session) PendingRequests() []Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tickets []Ticket
	for _, eq := range s.result.Equations {
		if _, ok := s.currentSVGLocked(eq); ok {
			continue
		}
		if p, ok := s.pending[eq.ID]; ok && p.latex == eq.Latex {
			continue
		}
		tickets = append(tickets, s.issueLocked(eq.ID, eq.Latex))
	}
	return tickets
}

// RenderPending renders every equation that needs it and applies the
// results as they arrive. Equation failures are recorded, not returned; the
// error is the context's when the batch was cancelled.
func (s *Session) RenderPending(ctx context.Context) error {
	if s.renderer == nil {
		return types.NewAppError(types.ErrEngineUnavailable, "no render engine configured", nil)
	}
	tickets := s.PendingRequests()
	if len(tickets) == 0 {
		return nil
	}

	seqs := make(map[string]uint64, len(tickets))
	reqs := make([]render.Request, len(tickets))
	for i, t := range tickets {
		seqs[t.Request.ID] = t.Seq
		reqs[i] = t.Request
	}

	start := time.Now()
	err := render.RenderBatch(ctx, s.renderer, reqs, s.concurrency, func(res render.Result) {
		s.ApplyRenderResult(seqs[res.ID], res)
	})
	logger.Debug("pending equations rendered",
		logger.Int("count", len(reqs)),
		logger.Duration("elapsed", time.Since(start)))
	return err
}

// ApplyRenderResult stores or records the outcome of request seq. Results
// are dropped when the equation is gone, when its LaTeX has changed since
// the request, or when a newer request for it was issued. A failure keeps
// whatever SVG the equation had.
func (s *Session) ApplyRenderResult(seq uint64, res render.Result) Applied {
	s.mu.Lock()
	applied, event := s.applyLocked(seq, res)
	s.mu.Unlock()

	if applied == DiscardedDeleted || applied == DiscardedStale || applied == DiscardedSuperseded {
		logger.Debug("render result discarded",
			logger.String("id", res.ID),
			logger.String("reason", applied.String()))
	}
	if event != nil {
		s.emit(*event)
	}
	return applied
}

func (s *Session) applyLocked(seq uint64, res render.Result) (Applied, *Event) {
	if p, ok := s.pending[res.ID]; ok && p.seq == seq {
		delete(s.pending, res.ID)
	}

	eq, ok := s.result.Find(res.ID)
	if !ok {
		return DiscardedDeleted, nil
	}
	if eq.Latex != res.Latex {
		return DiscardedStale, nil
	}
	if s.issued[res.ID] > seq {
		return DiscardedSuperseded, nil
	}

	if res.Err != nil {
		kind := errlog.KindSyntax
		if render.KindOf(res.Err) == render.KindUnavailable {
			kind = errlog.KindUnavailable
		}
		if err := s.failures.RecordError(eq.ID, eq.Label, eq.Latex, kind, res.Err.Error()); err != nil {
			logger.Warn("failed to record render error", logger.Err(err))
		}
		logger.Debug("equation failed to render",
			logger.String("label", eq.Label),
			logger.String("kind", string(kind)),
			logger.String("error", res.Err.Error()))
		return Failed, &Event{Kind: EventRenderFailed, IDs: []string{eq.ID}}
	}

	s.rendered[eq.ID] = cachedSVG{latex: eq.Latex, svg: res.SVG}
	if err := s.failures.RemoveError(eq.ID); err != nil {
		logger.Warn("failed to clear render error", logger.Err(err))
	}
	return Stored, &Event{Kind: EventRendered, IDs: []string{eq.ID}}
}

// Fixer repairs an equation that fails to render.
type Fixer interface {
	Fix(ctx context.Context, latex, renderErr string, opts render.Options) (*render.FixResult, error)
}

// FixEquation asks fixer to repair the equation and, when it succeeds,
// writes the repaired LaTeX into the document. An explicit label survives
// the rewrite.
func (s *Session) FixEquation(ctx context.Context, fixer Fixer, id string) (*render.FixResult, error) {
	s.mu.Lock()
	eq, err := s.findLocked(id)
	opts := s.optionsLocked()
	var renderErr string
	if rec, ok := s.failures.GetError(id); ok && rec.Latex == eq.Latex {
		renderErr = rec.ErrorMsg
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log := logger.With(logger.String("id", id), logger.String("label", eq.Label))
	log.Debug("fixing equation", logger.Bool("hasRenderError", renderErr != ""))
	result, err := fixer.Fix(ctx, eq.Latex, renderErr, opts)
	if err != nil {
		log.Warn("fixer failed", logger.Err(err))
		return nil, err
	}
	if !result.Success || result.Latex == "" {
		log.Info("fixer gave up", logger.Int("attempts", result.Attempts))
		return result, nil
	}

	s.mu.Lock()
	current, err := s.findLocked(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if current.Latex != eq.Latex {
		return nil, types.NewAppError(types.ErrInvalidInput, "equation was edited while it was being fixed", nil)
	}

	latex := result.Latex
	if eq.ExplicitLabel {
		latex = rewriteLabelIfMissing(latex, eq.Label)
	}
	if _, err := s.ReplaceEquation(id, latex); err != nil {
		return nil, err
	}
	log.Info("equation fixed", logger.Int("attempts", result.Attempts))
	return result, nil
}

func rewriteLabelIfMissing(latex, label string) string {
	if _, ok := document.ExtractLabel(latex); ok {
		return latex
	}
	return document.RewriteLabel(latex, label)
}
