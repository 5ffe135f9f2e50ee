package document

import (
	"fmt"
	"strings"

	"latex-equations/internal/logger"
	"latex-equations/internal/types"
)

// Edit is the result of a document mutation.
type Edit struct {
	Text string `json:"text"`
	// CursorLine is where an editor should park the cursor afterwards
	CursorLine int `json:"cursorLine"`
}

// lineBuffer holds document lines without the final newline, which is
// restored on output so mutations keep the file's trailing newline convention.
type lineBuffer struct {
	lines           []string
	trailingNewline bool
}

func newLineBuffer(text string) lineBuffer {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	buf := lineBuffer{trailingNewline: strings.HasSuffix(text, "\n")}
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return buf
	}
	buf.lines = strings.Split(text, "\n")
	return buf
}

func (b lineBuffer) join(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	out := strings.Join(lines, "\n")
	if b.trailingNewline {
		out += "\n"
	}
	return out
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// contentLines prepares section content for insertion.
func contentLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.Split(strings.TrimSpace(content), "\n")
}

// splice returns lines with [from, to) replaced by insert.
func splice(lines []string, from, to int, insert []string) []string {
	out := make([]string, 0, len(lines)-(to-from)+len(insert))
	out = append(out, lines[:from]...)
	out = append(out, insert...)
	return append(out, lines[to:]...)
}

// locate finds the section holding the inclusive line range.
func (b lineBuffer) locate(startLine, endLine int) (section, error) {
	if startLine < 0 || endLine < startLine || endLine >= len(b.lines) {
		return section{}, types.NewAppErrorWithDetails(types.ErrInvalidRange,
			"line range out of bounds",
			fmt.Sprintf("%d-%d of %d lines", startLine, endLine, len(b.lines)), nil)
	}
	for _, s := range scanSections(b.lines) {
		if startLine >= s.start && endLine < s.end {
			return s, nil
		}
	}
	return section{}, types.NewAppErrorWithDetails(types.ErrInvalidRange,
		"line range spans a separator",
		fmt.Sprintf("%d-%d", startLine, endLine), nil)
}

// DeleteSection removes the section holding lines startLine..endLine together
// with exactly one adjacent separator. The separator before the section is
// preferred; the separator after it is used only for the first section. Blank
// lines bordering the consumed separator go with it.
func DeleteSection(text string, startLine, endLine int) (Edit, error) {
	buf := newLineBuffer(text)
	s, err := buf.locate(startLine, endLine)
	if err != nil {
		return Edit{}, err
	}

	from, to := s.start, s.end
	switch {
	case s.prevSep >= 0:
		from = s.prevSep
		if s.nextSep < 0 {
			// last section: the previous section's trailing blanks would dangle
			for from > 0 && isBlank(buf.lines[from-1]) {
				from--
			}
		}
	case s.nextSep >= 0:
		to = s.nextSep + 1
		for to < len(buf.lines) && isBlank(buf.lines[to]) {
			to++
		}
	}

	lines := splice(buf.lines, from, to, nil)
	cursor := from
	if cursor >= len(lines) {
		cursor = len(lines) - 1
	}
	if cursor < 0 {
		cursor = 0
	}

	logger.Debug("section deleted",
		logger.Int("from", from),
		logger.Int("to", to),
		logger.Int("remaining", len(lines)))
	return Edit{Text: buf.join(lines), CursorLine: cursor}, nil
}

// ReplaceSection swaps the body of the section holding startLine..endLine for
// content. The section is rebuilt as one blank line after its separator, the
// content, and one blank line before the following separator. Separators and
// neighbouring sections are untouched.
func ReplaceSection(text string, startLine, endLine int, content string) (Edit, error) {
	buf := newLineBuffer(text)
	s, err := buf.locate(startLine, endLine)
	if err != nil {
		return Edit{}, err
	}

	var insert []string
	if s.prevSep >= 0 {
		insert = append(insert, "")
	}
	cursor := s.start + len(insert)
	insert = append(insert, contentLines(content)...)
	if s.nextSep >= 0 {
		insert = append(insert, "")
	}

	lines := splice(buf.lines, s.start, s.end, insert)
	return Edit{Text: buf.join(lines), CursorLine: cursor}, nil
}

// InsertAfter adds content as a new section directly after the section holding
// startLine..endLine. The new section is written as "---", blank, content,
// blank in front of the following separator; for the last section this is
// the same as Append. Empty content leaves an empty line for the cursor.
func InsertAfter(text string, startLine, endLine int, content string) (Edit, error) {
	buf := newLineBuffer(text)
	s, err := buf.locate(startLine, endLine)
	if err != nil {
		return Edit{}, err
	}
	if s.nextSep < 0 {
		return Append(text, content), nil
	}

	insert := append([]string{"---", ""}, contentLines(content)...)
	insert = append(insert, "")
	lines := splice(buf.lines, s.nextSep, s.nextSep, insert)
	return Edit{Text: buf.join(lines), CursorLine: s.nextSep + 2}, nil
}

// Append adds content as the last section. An empty document gets the content
// alone; a document ending in a bare separator gets it after that separator;
// anything else gets a new separator first.
func Append(text, content string) Edit {
	buf := newLineBuffer(text)
	lines := buf.lines
	last := len(lines) - 1
	for last >= 0 && isBlank(lines[last]) {
		last--
	}
	body := contentLines(content)

	if last < 0 {
		return Edit{Text: buf.join(body), CursorLine: 0}
	}

	kept := append([]string(nil), lines[:last+1]...)
	if IsSeparator(kept[last]) {
		kept = append(kept, "")
	} else {
		kept = append(kept, "", "---", "")
	}
	cursor := len(kept)
	return Edit{Text: buf.join(append(kept, body...)), CursorLine: cursor}
}
