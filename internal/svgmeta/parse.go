package svgmeta

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"latex-equations/internal/logger"
)

var (
	metadataBlockPattern = regexp.MustCompile(`(?s)<metadata\b[^>]*\bid="` + MetadataID + `"[^>]*>(.*?)</metadata>`)
	groupTagPattern      = regexp.MustCompile(`(?s)<g\b[^>]*\bdata-role="` + GroupRole + `"[^>]*>`)
	svgOpenPattern       = regexp.MustCompile(`<svg\b`)
	importedLabelPattern = regexp.MustCompile(`\\label\{([\w:.-]+)\}`)
)

// ImportedEquation is an equation recovered from an SVG file.
type ImportedEquation struct {
	ID          string `json:"id"`
	Latex       string `json:"latex"`
	Label       string `json:"label"`
	DisplayMode string `json:"displayMode"`
	// Markup is the equation's rendered <svg> element when the file has one
	Markup string `json:"markup,omitempty"`
}

// Outcome classifies a ParseResult.
type Outcome int

const (
	// OutcomeFound means at least one equation was recovered
	OutcomeFound Outcome = iota
	// OutcomeEmpty means the file is readable but holds no equations
	OutcomeEmpty
	// OutcomeUnreadable means the input is not SVG or its metadata is corrupt
	// and no fallback data exists
	OutcomeUnreadable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unreadable"
	}
}

// ParseResult is the outcome of ParseSVG. Errors lists diagnostics; the
// equations are best effort and may be empty.
type ParseResult struct {
	HasMetadata bool               `json:"hasMetadata"`
	Metadata    *Metadata          `json:"metadata,omitempty"`
	Equations   []ImportedEquation `json:"equations"`
	Errors      []string           `json:"errors"`

	isSVG           bool
	corruptMetadata bool
}

// Outcome separates "valid SVG, no equations" from "could not read this file".
func (r ParseResult) Outcome() Outcome {
	switch {
	case len(r.Equations) > 0:
		return OutcomeFound
	case !r.isSVG || r.corruptMetadata:
		return OutcomeUnreadable
	default:
		return OutcomeEmpty
	}
}

// group is one data-role="latex-equation" wrapper found in an SVG.
type group struct {
	attrs  map[string]string
	markup string
}

// findGroups returns the equation groups in document order with the nested
// <svg> element each one wraps.
func findGroups(svg string) []group {
	locs := groupTagPattern.FindAllStringIndex(svg, -1)
	groups := make([]group, 0, len(locs))
	for i, loc := range locs {
		regionEnd := len(svg)
		if i+1 < len(locs) {
			regionEnd = locs[i+1][0]
		}
		groups = append(groups, group{
			attrs:  parseAttrs(svg[loc[0]:loc[1]]),
			markup: nestedSVG(svg[loc[1]:regionEnd]),
		})
	}
	return groups
}

// nestedSVG returns the first complete <svg>...</svg> element in region.
func nestedSVG(region string) string {
	start := svgOpenPattern.FindStringIndex(region)
	if start == nil {
		return ""
	}
	depth := 0
	for i := start[0]; i < len(region); {
		rest := region[i:]
		switch {
		case strings.HasPrefix(rest, svgCloseToken):
			depth--
			i += len(svgCloseToken)
			if depth == 0 {
				return region[start[0]:i]
			}
		case svgOpenPattern.MatchString(rest[:min(len(rest), 5)]):
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return ""
			}
			if rest[end-1] != '/' {
				depth++
			} else if depth == 0 {
				return region[start[0] : i+end+1]
			}
			i += end + 1
		default:
			i++
		}
	}
	return ""
}

// ParseSVG recovers equations from an SVG. The metadata block is read first;
// when it is missing or not valid JSON the data-* attributes of the equation
// groups are used instead. ParseSVG never fails: problems are listed in Errors.
func ParseSVG(svg string) ParseResult {
	result := ParseResult{
		Equations: []ImportedEquation{},
		Errors:    []string{},
		isSVG:     svgOpenPattern.MatchString(svg),
	}
	groups := findGroups(svg)
	markupByID := make(map[string]string, len(groups))
	for _, g := range groups {
		if id := Unescape(g.attrs["data-equation-id"]); id != "" && g.markup != "" {
			markupByID[id] = g.markup
		}
	}

	if m := metadataBlockPattern.FindStringSubmatch(svg); m != nil {
		meta, err := DecodeMetadataBlock(m[1])
		if err == nil {
			result.HasMetadata = true
			result.Metadata = meta
			for i, entry := range meta.Equations {
				eq := ImportedEquation{
					ID:          entry.ID,
					Latex:       entry.Latex,
					Label:       entry.Label,
					DisplayMode: entry.DisplayMode,
				}
				if eq.ID == "" {
					eq.ID = uuid.NewString()
				} else {
					eq.Markup = markupByID[eq.ID]
				}
				if eq.Label == "" {
					eq.Label = fmt.Sprintf("imported%d", i+1)
				}
				if eq.DisplayMode == "" {
					eq.DisplayMode = DisplayBlock
				}
				result.Equations = append(result.Equations, eq)
			}
		} else {
			result.corruptMetadata = true
			logger.Warn("svg metadata block is corrupt, trying group attributes", logger.Err(err))
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if len(result.Equations) == 0 {
		for _, g := range groups {
			latex := Unescape(g.attrs["data-latex"])
			if strings.TrimSpace(latex) == "" {
				continue
			}
			eq := ImportedEquation{
				ID:          Unescape(g.attrs["data-equation-id"]),
				Latex:       latex,
				DisplayMode: Unescape(g.attrs["data-display-mode"]),
				Markup:      g.markup,
			}
			if eq.ID == "" {
				eq.ID = uuid.NewString()
			}
			if lm := importedLabelPattern.FindStringSubmatch(latex); lm != nil {
				eq.Label = lm[1]
			} else {
				eq.Label = fmt.Sprintf("imported%d", len(result.Equations)+1)
			}
			if eq.DisplayMode == "" {
				eq.DisplayMode = DisplayBlock
			}
			result.Equations = append(result.Equations, eq)
		}
	}

	if len(result.Equations) == 0 {
		result.Errors = append(result.Errors, NoEquationsError)
	}

	logger.Debug("svg parsed",
		logger.Bool("hasMetadata", result.HasMetadata),
		logger.Int("equations", len(result.Equations)),
		logger.Int("errors", len(result.Errors)),
		logger.String("outcome", result.Outcome().String()))
	return result
}
