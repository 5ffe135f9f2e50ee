// Package render turns equation LaTeX into SVG markup.
//
// Engines implement Renderer. Failures are reported as *RenderError so
// callers can tell a bad equation (KindSyntax) from a missing or broken
// engine (KindUnavailable).
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"latex-equations/internal/document"
	"latex-equations/internal/types"
)

const (
	DisplayBlock  = "block"
	DisplayInline = "inline"
)

// Options controls how one equation is typeset.
type Options struct {
	// DisplayMode is "block" or "inline"; anything else is treated as block
	DisplayMode string `json:"displayMode"`
	// Preamble holds macro definitions typeset ahead of the equation
	Preamble string `json:"preamble,omitempty"`
}

// Inline reports whether the equation is typeset in text style.
func (o Options) Inline() bool {
	return o.DisplayMode == DisplayInline
}

// Renderer is an equation typesetting engine.
type Renderer interface {
	// Render returns the SVG markup for latex.
	Render(ctx context.Context, latex string, opts Options) (string, error)
	// Name identifies the engine, e.g. "mathjax"
	Name() string
	// Version is recorded in exported SVG metadata
	Version() string
}

// ErrorKind classifies a render failure.
type ErrorKind int

const (
	// KindSyntax means the equation itself could not be typeset
	KindSyntax ErrorKind = iota
	// KindUnavailable means the engine could not run at all
	KindUnavailable
)

func (k ErrorKind) String() string {
	if k == KindSyntax {
		return "syntax"
	}
	return "unavailable"
}

// RenderError is returned by Renderer implementations.
type RenderError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Code maps the failure onto the application error codes.
func (e *RenderError) Code() types.ErrorCode {
	if e.Kind == KindSyntax {
		return types.ErrRenderSyntax
	}
	return types.ErrEngineUnavailable
}

func syntaxError(message string, cause error) *RenderError {
	return &RenderError{Kind: KindSyntax, Message: message, Cause: cause}
}

func unavailableError(message string, cause error) *RenderError {
	return &RenderError{Kind: KindUnavailable, Message: message, Cause: cause}
}

// KindOf returns the kind of a render failure. Errors that are not
// *RenderError count as KindUnavailable.
func KindOf(err error) ErrorKind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnavailable
}

// IsSyntaxError reports whether err blames the equation rather than the engine.
func IsSyntaxError(err error) bool {
	return err != nil && KindOf(err) == KindSyntax
}

// Source builds the TeX handed to an engine: the preamble followed by the
// equation with its \label{} directives removed.
func Source(latex string, opts Options) string {
	body := document.NormalizeLatex(latex)
	if p := strings.TrimSpace(opts.Preamble); p != "" {
		return p + "\n" + body
	}
	return body
}

// New returns the engine called name. command, args and timeout apply to
// the command engine only.
func New(name, command string, args []string, timeout time.Duration) (Renderer, error) {
	switch name {
	case EngineMathJax, "":
		return NewMathJaxRenderer(), nil
	case EngineCommand:
		if command == "" {
			return nil, types.NewAppError(types.ErrConfig, "command engine needs a render command", nil)
		}
		return NewCommandRenderer(command, args, timeout), nil
	}
	return nil, types.NewAppError(types.ErrConfig, fmt.Sprintf("unknown render engine: %s", name), nil)
}
