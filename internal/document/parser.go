package document

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"latex-equations/internal/logger"
)

// section is a maximal run of lines between separators. start and end are a
// half-open line interval; prevSep and nextSep are the bounding separator
// lines or -1 at the document edges.
type section struct {
	index   int
	start   int
	end     int
	prevSep int
	nextSep int
}

// contentBounds returns the first and last non-blank line of the section.
func (s section) contentBounds(lines []string) (int, int, bool) {
	first, last := -1, -1
	for i := s.start; i < s.end; i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last, first >= 0
}

func (s section) body(lines []string) string {
	return strings.Join(lines[s.start:s.end], "\n")
}

// splitLines splits text into lines, treating CRLF as LF.
func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func scanSections(lines []string) []section {
	var sections []section
	cur := section{start: 0, prevSep: -1}
	for i, line := range lines {
		if !IsSeparator(line) {
			continue
		}
		cur.end = i
		cur.nextSep = i
		cur.index = len(sections)
		sections = append(sections, cur)
		cur = section{start: i + 1, prevSep: i}
	}
	cur.end = len(lines)
	cur.nextSep = -1
	cur.index = len(sections)
	return append(sections, cur)
}

// Parser turns document text into equations. The zero value is not usable;
// construct one with NewParser.
type Parser struct {
	newID func() string
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithIDGenerator replaces the UUID generator used for new equation ids.
func WithIDGenerator(fn func() string) ParserOption {
	return func(p *Parser) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewParser creates a Parser that assigns random UUIDs to new equations.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{newID: uuid.NewString}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Parse parses text with the default parser. previous is the last parse of the
// same document, used to carry ids forward; it may be nil.
func Parse(text string, previous []Equation) Result {
	return defaultParser.Parse(text, previous)
}

// Parse splits text into an optional frontmatter block and the ordered
// equation list. It never fails: malformed directives fall back to defaults.
func (p *Parser) Parse(text string, previous []Equation) Result {
	lines := splitLines(text)
	var result Result
	unlabeled := 0

	for _, s := range scanSections(lines) {
		first, last, ok := s.contentBounds(lines)
		if !ok {
			continue
		}

		if s.index == 0 {
			if fm, isFrontmatter := ParseFrontmatter(s.body(lines)); isFrontmatter {
				result.Frontmatter = fm
				continue
			}
		}

		latex := strings.TrimSpace(strings.Join(lines[first:last+1], "\n"))
		eq := Equation{
			Latex:     latex,
			StartLine: first,
			EndLine:   last,
		}
		if label, found := ExtractLabel(latex); found {
			eq.Label = label
			eq.ExplicitLabel = true
		} else {
			unlabeled++
			eq.Label = fmt.Sprintf("eq%d", unlabeled)
		}
		if color, found := ExtractColor(latex); found {
			eq.Color = color
		}
		result.Equations = append(result.Equations, eq)
	}

	result.Equations = AssignIdentities(result.Equations, previous, p.newID)

	logger.Debug("document parsed",
		logger.Int("lines", len(lines)),
		logger.Int("equations", len(result.Equations)),
		logger.Bool("frontmatter", result.Frontmatter != nil))
	return result
}
