package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"oss.terrastruct.com/d2/d2renderers/d2latex"

	"latex-equations/internal/logger"
)

// EngineMathJax is the name of the in-process engine
const EngineMathJax = "mathjax"

var mathJaxErrorPattern = regexp.MustCompile(`data-mjx-error="([^"]*)"`)

// MathJaxRenderer typesets equations with the MathJax build embedded in d2.
type MathJaxRenderer struct {
	// calls into the embedded JavaScript runtime are serialized
	mu sync.Mutex
}

// NewMathJaxRenderer creates the in-process renderer.
func NewMathJaxRenderer() *MathJaxRenderer {
	return &MathJaxRenderer{}
}

// Name returns "mathjax".
func (r *MathJaxRenderer) Name() string {
	return EngineMathJax
}

// Version returns the engine version recorded in exports.
func (r *MathJaxRenderer) Version() string {
	return "mathjax-3 (d2latex)"
}

// Render typesets latex. Block equations use \displaystyle and inline ones
// \textstyle. A panic inside the JavaScript engine is reported as
// KindUnavailable.
func (r *MathJaxRenderer) Render(ctx context.Context, latex string, opts Options) (svg string, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", unavailableError("render cancelled", ctxErr)
	}

	style := `\displaystyle `
	if opts.Inline() {
		style = `\textstyle `
	}
	source := Source(latex, opts)
	if strings.TrimSpace(source) == "" {
		return "", syntaxError("empty equation", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("mathjax engine panicked", fmt.Errorf("%v", p))
			svg, err = "", unavailableError(fmt.Sprintf("mathjax engine failed: %v", p), nil)
		}
	}()

	out, renderErr := d2latex.Render(style + source)
	if renderErr != nil {
		return "", syntaxError(renderErr.Error(), renderErr)
	}
	if m := mathJaxErrorPattern.FindStringSubmatch(out); m != nil {
		return "", syntaxError(m[1], nil)
	}
	if !strings.Contains(out, "<svg") {
		return "", unavailableError("mathjax returned no svg", nil)
	}
	return out, nil
}
