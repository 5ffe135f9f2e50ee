package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latex-equations/internal/document"
	errlog "latex-equations/internal/errors"
	"latex-equations/internal/importer"
	"latex-equations/internal/render"
	"latex-equations/internal/svgmeta"
	"latex-equations/internal/types"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeRenderer) Name() string    { return "fake" }
func (f *fakeRenderer) Version() string { return "fake-1" }

func (f *fakeRenderer) Render(ctx context.Context, latex string, opts render.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, latex)
	err := f.fail[document.NormalizeLatex(latex)]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="2ex" height="1ex" viewBox="0 0 100 50"><text>%s</text></svg>`,
		document.NormalizeLatex(latex)), nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newSession(t *testing.T, opts Options) (*Session, *fakeRenderer) {
	t.Helper()
	fake, _ := opts.Renderer.(*fakeRenderer)
	if opts.Renderer == nil {
		fake = &fakeRenderer{}
		opts.Renderer = fake
	}
	if opts.Parser == nil {
		opts.Parser = document.NewParser(document.WithIDGenerator(sequentialIDs("id")))
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s, fake
}

func svgOf(t *testing.T, s *Session, id string) string {
	t.Helper()
	svg, _ := s.SVG(id)
	return svg
}

func TestSession_RefreshAndRender(t *testing.T) {
	s, fake := newSession(t, Options{})
	ctx := context.Background()

	s.SetText("x^2\n---\ny")
	result := s.Result()
	require.Len(t, result.Equations, 2)
	assert.Equal(t, []string{"id1", "id2"}, result.IDs())

	require.NoError(t, s.RenderPending(ctx))
	assert.Contains(t, svgOf(t, s, "id1"), "x^2")
	assert.Contains(t, svgOf(t, s, "id2"), "y")
	assert.Equal(t, 2, fake.callCount())

	// nothing left to render
	require.NoError(t, s.RenderPending(ctx))
	assert.Equal(t, 2, fake.callCount())

	s.SetText("x^2\n---\nz")
	assert.Contains(t, svgOf(t, s, "id1"), "x^2", "untouched equation keeps its SVG")
	assert.Empty(t, svgOf(t, s, "id2"), "edited equation is invalidated by the re-parse")

	require.NoError(t, s.RenderPending(ctx))
	assert.Equal(t, 3, fake.callCount())
	assert.Contains(t, svgOf(t, s, "id2"), "z")

	views := s.Equations()
	require.Len(t, views, 2)
	assert.False(t, views[1].Pending)
	assert.Equal(t, "eq2", views[1].Label)
}

func TestSession_RenderFailures(t *testing.T) {
	fake := &fakeRenderer{fail: map[string]error{
		`\frac{a`: &render.RenderError{Kind: render.KindSyntax, Message: "Missing close brace"},
	}}
	s, _ := newSession(t, Options{Renderer: fake})

	s.SetText("\\frac{a\n---\nb")
	require.NoError(t, s.RenderPending(context.Background()))

	views := s.Equations()
	assert.Equal(t, "Missing close brace", views[0].Error)
	assert.Equal(t, string(errlog.KindSyntax), views[0].ErrorKind)
	assert.Equal(t, errlog.GetKindDisplayName(errlog.KindSyntax), views[0].ErrorKindName)
	assert.Empty(t, views[0].SVG)
	assert.NotEmpty(t, views[1].SVG, "one failure does not stop the batch")

	failures := s.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "id1", failures[0].EquationID)
	assert.Equal(t, map[errlog.ErrorKind]int{errlog.KindSyntax: 1}, s.FailureCounts())

	// editing the broken equation clears its record
	s.SetText("\\frac{a}{b}\n---\nb")
	assert.Empty(t, s.Failures())
	assert.Nil(t, s.FailureCounts())
}

func TestSession_ApplyRenderResult(t *testing.T) {
	ok := func(ticket Ticket, svg string) render.Result {
		return render.Result{ID: ticket.Request.ID, Latex: ticket.Request.Latex, SVG: svg}
	}

	t.Run("equation deleted", func(t *testing.T) {
		s, _ := newSession(t, Options{})
		s.SetText("a\n---\nb")
		ticket, err := s.RequestRender("id2")
		require.NoError(t, err)

		s.SetText("a")
		assert.Equal(t, DiscardedDeleted, s.ApplyRenderResult(ticket.Seq, ok(ticket, "<svg/>")))
	})

	t.Run("latex changed since the request", func(t *testing.T) {
		s, _ := newSession(t, Options{})
		s.SetText("x^2")
		ticket, err := s.RequestRender("id1")
		require.NoError(t, err)

		s.SetText("x^3")
		assert.Equal(t, DiscardedStale, s.ApplyRenderResult(ticket.Seq, ok(ticket, "<svg>old</svg>")))
		assert.Empty(t, svgOf(t, s, "id1"))
	})

	t.Run("newer request issued", func(t *testing.T) {
		s, _ := newSession(t, Options{})
		s.SetText("x^2")
		first, _ := s.RequestRender("id1")
		second, _ := s.RequestRender("id1")

		assert.Equal(t, Stored, s.ApplyRenderResult(second.Seq, ok(second, "<svg>second</svg>")))
		assert.Equal(t, DiscardedSuperseded, s.ApplyRenderResult(first.Seq, ok(first, "<svg>first</svg>")))
		assert.Equal(t, "<svg>second</svg>", svgOf(t, s, "id1"))

		third, _ := s.RequestRender("id1")
		fourth, _ := s.RequestRender("id1")
		assert.Equal(t, DiscardedSuperseded, s.ApplyRenderResult(third.Seq, ok(third, "<svg>third</svg>")))
		assert.Equal(t, Stored, s.ApplyRenderResult(fourth.Seq, ok(fourth, "<svg>fourth</svg>")))
		assert.Equal(t, "<svg>fourth</svg>", svgOf(t, s, "id1"))
	})

	t.Run("failure keeps the previous SVG", func(t *testing.T) {
		s, _ := newSession(t, Options{})
		s.SetText("x^2")
		first, _ := s.RequestRender("id1")
		require.Equal(t, Stored, s.ApplyRenderResult(first.Seq, ok(first, "<svg>ok</svg>")))

		second, _ := s.RequestRender("id1")
		res := ok(second, "")
		res.Err = &render.RenderError{Kind: render.KindUnavailable, Message: "engine down"}
		assert.Equal(t, Failed, s.ApplyRenderResult(second.Seq, res))

		assert.Equal(t, "<svg>ok</svg>", svgOf(t, s, "id1"))
		failures := s.Failures()
		require.Len(t, failures, 1)
		assert.Equal(t, errlog.KindUnavailable, failures[0].Kind)
	})

	t.Run("unknown equation", func(t *testing.T) {
		s, _ := newSession(t, Options{})
		_, err := s.RequestRender("nope")
		assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))
	})
}

func TestSession_PendingRequestsSkipInflight(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("a\n---\nb")

	first := s.PendingRequests()
	require.Len(t, first, 2)
	assert.Empty(t, s.PendingRequests(), "both equations already have a request in flight")
	assert.True(t, s.Equations()[0].Pending)

	s.SetText("a\n---\nc")
	again := s.PendingRequests()
	require.Len(t, again, 1)
	assert.Equal(t, "c", again[0].Request.Latex)
}

func TestSession_GlobalPreambleInvalidates(t *testing.T) {
	s, fake := newSession(t, Options{})
	ctx := context.Background()
	s.SetText("\\R")
	require.NoError(t, s.RenderPending(ctx))
	inflight, _ := s.RequestRender("id1")

	s.SetGlobalPreamble(`\newcommand{\R}{\mathbb{R}}`)
	assert.Empty(t, svgOf(t, s, "id1"))
	assert.Equal(t, DiscardedSuperseded, s.ApplyRenderResult(inflight.Seq, render.Result{
		ID: "id1", Latex: "\\R", SVG: "<svg>stale</svg>",
	}))

	require.NoError(t, s.RenderPending(ctx))
	assert.Equal(t, 2, fake.callCount())
	assert.Equal(t, `\newcommand{\R}{\mathbb{R}}`, s.Options().Preamble)
}

func TestSession_Debounce(t *testing.T) {
	var parsed int32
	s, _ := newSession(t, Options{
		Debounce:   20 * time.Millisecond,
		AutoRender: true,
		OnChange: func(e Event) {
			if e.Kind == EventParsed {
				atomic.AddInt32(&parsed, 1)
			}
		},
	})

	s.SetText("a")
	s.SetText("a\n---\nb")
	s.SetText("a\n---\nb\n---\nc")
	assert.Empty(t, s.Result().Equations, "nothing is parsed before the window closes")

	require.Eventually(t, func() bool {
		return svgOf(t, s, "id3") != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Result().Equations, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&parsed), "three edits, one re-parse")

	// Refresh is always available without waiting
	s.SetText("a\n---\nb")
	assert.Len(t, s.Refresh().Equations, 2)
}

func TestSession_ImportKeepBoth(t *testing.T) {
	s, fake := newSession(t, Options{})
	ctx := context.Background()

	s.SetText("x^2")
	exported, err := s.ExportSVG(ctx)
	require.NoError(t, err)
	renders := fake.callCount()

	status, err := s.BeginImport(exported, -1)
	require.NoError(t, err)
	assert.False(t, status.Done)
	require.NotNil(t, status.Candidate)
	assert.Equal(t, importer.MatchID, status.Candidate.Match)
	assert.Equal(t, "x^2", s.Text(), "the document waits for the decision")
	assert.NotNil(t, s.ImportStatus())

	status, err = s.ResolveImport(importer.KeepBoth)
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.Nil(t, s.ImportStatus())
	assert.Equal(t, "x^2\n\n---\n\nx^2\n\\label{eq1-2}", s.Text())

	eqs := s.Result().Equations
	require.Len(t, eqs, 2)
	assert.Equal(t, "eq1", eqs[0].Label)
	assert.Equal(t, "eq1-2", eqs[1].Label)

	// the copy reuses the markup carried by the SVG
	assert.NotEmpty(t, svgOf(t, s, eqs[1].ID))
	require.NoError(t, s.RenderPending(ctx))
	assert.Equal(t, renders, fake.callCount())
}

func TestSession_PastedMarkupFollowsPreamble(t *testing.T) {
	src, _ := newSession(t, Options{})
	src.SetText("x^2")
	exported, err := src.ExportSVG(context.Background())
	require.NoError(t, err)

	s, fake := newSession(t, Options{Parser: document.NewParser(document.WithIDGenerator(sequentialIDs("dst")))})
	status, err := s.BeginImport(exported, -1)
	require.NoError(t, err)
	require.True(t, status.Done)
	id := s.Result().Equations[0].ID
	assert.NotEmpty(t, svgOf(t, s, id), "imported markup is reused")

	s.SetGlobalPreamble(`\def\R{\mathbb{R}}`)
	assert.Empty(t, svgOf(t, s, id))
	s.SetText("x^2")
	assert.Empty(t, svgOf(t, s, id), "markup from another preamble is not seeded again")

	require.NoError(t, s.RenderPending(context.Background()))
	assert.Equal(t, 1, fake.callCount())

	s.SetGlobalPreamble("")
	assert.NotEmpty(t, svgOf(t, s, id), "markup rendered without a preamble fits again")
}

func TestSession_ImportWithoutDuplicates(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("a\n\n---\n\nb")

	other, _ := newSession(t, Options{
		Parser: document.NewParser(document.WithIDGenerator(sequentialIDs("other"))),
	})
	other.SetText("n1\n---\nn2")
	exported, err := other.ExportSVG(context.Background())
	require.NoError(t, err)

	status, err := s.BeginImport(exported, 0)
	require.NoError(t, err)
	assert.True(t, status.Done)
	require.Len(t, status.Outcomes, 2)

	latex := make([]string, 0, 4)
	for _, eq := range s.Result().Equations {
		latex = append(latex, eq.Latex)
	}
	assert.Equal(t, []string{"a", "n1", "n2", "b"}, latex)
}

func TestSession_ImportErrors(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("x")

	_, err := s.BeginImport("not svg at all", -1)
	assert.Equal(t, types.ErrImport, types.CodeOf(err))

	status, err := s.BeginImport(`<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`, -1)
	require.NoError(t, err)
	assert.True(t, status.Empty)
	assert.Equal(t, []string{svgmeta.NoEquationsError}, status.Errors)
	assert.Equal(t, "x", s.Text())

	_, err = s.ResolveImport(importer.Overwrite)
	assert.Equal(t, types.ErrImport, types.CodeOf(err))
}

func TestSession_StoppedImportIsDropped(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("x")

	// a resolver that stopped without finishing, as after a failed insert
	s.mu.Lock()
	s.resolver = importer.NewResolver(s.text, s.result)
	s.mu.Unlock()

	_, err := s.ResolveImport(importer.KeepBoth)
	assert.Equal(t, types.ErrImport, types.CodeOf(err))
	assert.Nil(t, s.ImportStatus())

	exported, err := s.ExportSVG(context.Background())
	require.NoError(t, err)
	_, err = s.BeginImport(exported, -1)
	assert.NoError(t, err, "a new import can start")
}

func TestSession_EditAbandonsImport(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("x^2")
	exported, err := s.ExportSVG(context.Background())
	require.NoError(t, err)

	_, err = s.BeginImport(exported, -1)
	require.NoError(t, err)
	_, err = s.BeginImport(exported, -1)
	assert.Equal(t, types.ErrImport, types.CodeOf(err), "one import at a time")

	s.SetText("y^2")
	assert.Nil(t, s.ImportStatus())
	_, err = s.ResolveImport(importer.KeepBoth)
	assert.Equal(t, types.ErrImport, types.CodeOf(err))
	assert.Equal(t, "y^2", s.Text())
	assert.False(t, s.CancelImport())
}

func TestSession_Mutations(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("a\n\n---\n\nb")

	edit, err := s.InsertEquationAfter("id1", "c")
	require.NoError(t, err)
	assert.Equal(t, "a\n\n---\n\nc\n\n---\n\nb", s.Text())
	assert.Equal(t, 4, edit.CursorLine)

	edit = s.AppendEquation("d")
	assert.Equal(t, "a\n\n---\n\nc\n\n---\n\nb\n\n---\n\nd", edit.Text)

	ids := s.Result().IDs()
	_, err = s.DeleteEquation(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "c\n\n---\n\nb\n\n---\n\nd", s.Text())

	ids = s.Result().IDs()
	_, err = s.ReplaceEquation(ids[1], "B")
	require.NoError(t, err)
	assert.Equal(t, "c\n\n---\n\nB\n\n---\n\nd", s.Text())

	_, err = s.DeleteEquation("missing")
	assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))
}

func TestSession_ExportSVG(t *testing.T) {
	fake := &fakeRenderer{fail: map[string]error{
		"bad\n% color: blue": &render.RenderError{Kind: render.KindSyntax, Message: "Undefined control sequence"},
	}}
	s, _ := newSession(t, Options{Renderer: fake, GlobalPreamble: `\def\x{y}`})
	s.SetText("color: red\n---\nx\n---\nbad\n% color: blue")

	out, err := s.ExportSVG(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, `style="color:red"`)
	assert.Contains(t, out, `style="color:blue"`)
	assert.Contains(t, out, "fake-1")

	parsed := svgmeta.ParseSVG(out)
	require.True(t, parsed.HasMetadata)
	require.Len(t, parsed.Equations, 2)
	assert.Equal(t, "x", parsed.Equations[0].Latex)
	assert.Equal(t, "bad\n% color: blue", parsed.Equations[1].Latex, "failed equations keep their source")
	require.NotNil(t, parsed.Metadata.GlobalPreamble)
	assert.Equal(t, `\def\x{y}`, *parsed.Metadata.GlobalPreamble)
}

func TestSession_Project(t *testing.T) {
	s, _ := newSession(t, Options{})
	s.SetText("x")
	s.SetGlobalPreamble(`\def\a{b}`)
	f := s.Project("demo")
	assert.Equal(t, "x", f.Document)
	assert.Equal(t, `\def\a{b}`, f.Preamble())

	other, _ := newSession(t, Options{})
	other.SetText("old")
	other.LoadProject(f)
	assert.Equal(t, "x", other.Text())
	assert.Equal(t, `\def\a{b}`, other.GlobalPreamble())
	require.Len(t, other.Result().Equations, 1)

	again := other.Project("")
	assert.Equal(t, "demo", again.Metadata.Name)
	assert.True(t, again.Metadata.CreatedAt.Equal(f.Metadata.CreatedAt))
}

type fakeFixer struct {
	gotLatex string
	gotErr   string
	result   *render.FixResult
	err      error
}

func (f *fakeFixer) Fix(ctx context.Context, latex, renderErr string, opts render.Options) (*render.FixResult, error) {
	f.gotLatex, f.gotErr = latex, renderErr
	return f.result, f.err
}

func TestSession_FixEquation(t *testing.T) {
	fake := &fakeRenderer{fail: map[string]error{
		`\frac{a`: &render.RenderError{Kind: render.KindSyntax, Message: "Missing close brace"},
	}}
	s, _ := newSession(t, Options{Renderer: fake})
	s.SetText("\\frac{a\n\\label{eq:f}\n---\ny")
	require.NoError(t, s.RenderPending(context.Background()))

	fixer := &fakeFixer{result: &render.FixResult{Success: true, Latex: `\frac{a}{b}`, Attempts: 2}}
	res, err := s.FixEquation(context.Background(), fixer, "id1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Missing close brace", fixer.gotErr)
	assert.Equal(t, "\\frac{a\n\\label{eq:f}", fixer.gotLatex)
	assert.True(t, strings.HasPrefix(s.Text(), "\\frac{a}{b}\n\\label{eq:f}\n"))
	assert.Equal(t, "eq:f", s.Result().Equations[0].Label)

	unchanged := &fakeFixer{result: &render.FixResult{Success: false}}
	res, err = s.FixEquation(context.Background(), unchanged, "id2")
	require.NoError(t, err)
	assert.False(t, res.Success)

	broken := &fakeFixer{err: errors.New("api down")}
	_, err = s.FixEquation(context.Background(), broken, "id2")
	assert.Error(t, err)
}

func TestSession_NoRenderer(t *testing.T) {
	s := New(Options{})
	s.SetText("x")
	err := s.RenderPending(context.Background())
	assert.Equal(t, types.ErrEngineUnavailable, types.CodeOf(err))

	out, err := s.ExportSVG(context.Background())
	require.NoError(t, err)
	assert.Len(t, svgmeta.ParseSVG(out).Equations, 1)
}
