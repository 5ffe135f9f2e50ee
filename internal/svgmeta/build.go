package svgmeta

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"latex-equations/internal/types"
)

const (
	// PxPerEx converts MathJax ex units to px
	PxPerEx = 8.0
	// DefaultPadding is the gap around and between equations, in px
	DefaultPadding = 16.0

	placeholderWidth  = 120.0
	placeholderHeight = 24.0

	svgCloseToken = "</svg>"
)

var (
	rootSVGPattern  = regexp.MustCompile(`(?s)<svg\b([^>]*)>`)
	attrPattern     = regexp.MustCompile(`([\w:.-]+)\s*=\s*"([^"]*)"`)
	lengthPattern   = regexp.MustCompile(`^\s*(-?[\d.]+)\s*(px|ex|em|pt)?\s*$`)
	xmlDeclPattern  = regexp.MustCompile(`(?s)^\s*<\?xml[^>]*\?>\s*`)
	defaultGroupDim = Geometry{Width: placeholderWidth, Height: placeholderHeight}
)

// ExportEquation is one equation to place in an export.
type ExportEquation struct {
	ID          string
	Label       string
	Latex       string
	DisplayMode string
	// Color overrides the glyph color; empty keeps the renderer's default
	Color string
	// SVG is the rendered markup; empty exports a blank placeholder box
	SVG              string
	PreambleOverride *string
	CustomData       map[string]interface{}
}

// ExportDocument is the input of BuildSVG.
type ExportDocument struct {
	Equations      []ExportEquation
	GlobalPreamble string
	EngineVersion  string
	EngineOptions  map[string]interface{}
	// Padding defaults to DefaultPadding when zero
	Padding float64
	// GeneratedAt defaults to now
	GeneratedAt time.Time
}

// Geometry is the size and coordinate system of a rendered equation.
type Geometry struct {
	Width   float64
	Height  float64
	ViewBox string
}

// ParseLength converts an SVG length to px. ex and em use PxPerEx and twice
// that; unitless values are px.
func ParseLength(v string) (float64, bool) {
	m := lengthPattern.FindStringSubmatch(v)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "ex":
		n *= PxPerEx
	case "em":
		n *= 2 * PxPerEx
	case "pt":
		n *= 4.0 / 3.0
	}
	return n, true
}

func parseAttrs(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(tag, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// SplitSVG separates a rendered <svg> element into its geometry and inner
// markup. Width and height fall back to the viewBox when absent.
func SplitSVG(markup string) (Geometry, string, bool) {
	markup = xmlDeclPattern.ReplaceAllString(markup, "")
	loc := rootSVGPattern.FindStringSubmatchIndex(markup)
	if loc == nil {
		return Geometry{}, "", false
	}
	attrs := parseAttrs(markup[loc[2]:loc[3]])

	inner := markup[loc[1]:]
	if strings.HasSuffix(strings.TrimSpace(markup[loc[0]:loc[1]]), "/>") {
		inner = ""
	} else if end := strings.LastIndex(inner, svgCloseToken); end >= 0 {
		inner = inner[:end]
	}

	g := Geometry{ViewBox: attrs["viewBox"]}
	var vb []float64
	for _, f := range strings.Fields(strings.ReplaceAll(g.ViewBox, ",", " ")) {
		if n, err := strconv.ParseFloat(f, 64); err == nil {
			vb = append(vb, n)
		}
	}
	if w, ok := ParseLength(attrs["width"]); ok {
		g.Width = w
	} else if len(vb) == 4 {
		g.Width = vb[2]
	}
	if h, ok := ParseLength(attrs["height"]); ok {
		g.Height = h
	} else if len(vb) == 4 {
		g.Height = vb[3]
	}
	if g.ViewBox == "" && g.Width > 0 && g.Height > 0 {
		g.ViewBox = fmt.Sprintf("0 0 %s %s", formatNumber(g.Width), formatNumber(g.Height))
	}
	return g, inner, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// BuildSVG assembles a standalone SVG with the metadata block as the first
// child followed by one group per equation, stacked vertically.
func BuildSVG(doc ExportDocument) (string, error) {
	padding := doc.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	generatedAt := doc.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	meta := Metadata{
		Generator:        types.AppName,
		GeneratorVersion: types.AppVersion,
		GeneratedAt:      generatedAt.UTC().Format(time.RFC3339),
		EngineVersion:    doc.EngineVersion,
		EngineOptions:    doc.EngineOptions,
		Equations:        make([]EquationMetadata, 0, len(doc.Equations)),
	}
	if meta.EngineOptions == nil {
		meta.EngineOptions = map[string]interface{}{}
	}
	if doc.GlobalPreamble != "" {
		preamble := doc.GlobalPreamble
		meta.GlobalPreamble = &preamble
	}

	var groups strings.Builder
	y := padding
	width := 0.0
	for _, eq := range doc.Equations {
		mode := eq.DisplayMode
		if mode != DisplayInline {
			mode = DisplayBlock
		}

		geom, inner, ok := SplitSVG(eq.SVG)
		if !ok || geom.Width <= 0 || geom.Height <= 0 {
			geom, inner = defaultGroupDim, ""
		}
		if geom.ViewBox == "" {
			geom.ViewBox = fmt.Sprintf("0 0 %s %s", formatNumber(geom.Width), formatNumber(geom.Height))
		}

		box := BBox{X: padding, Y: y, Width: geom.Width, Height: geom.Height}
		groups.WriteString("  ")
		groups.WriteString(GroupOpenTag(eq.ID, eq.Latex, mode, eq.Color))
		fmt.Fprintf(&groups, `<svg x="%s" y="%s" width="%s" height="%s" viewBox="%s">`,
			formatNumber(box.X), formatNumber(box.Y), formatNumber(box.Width), formatNumber(box.Height),
			EscapeAttr(geom.ViewBox))
		groups.WriteString(inner)
		groups.WriteString("</svg></g>\n")

		customData := eq.CustomData
		if customData == nil {
			customData = map[string]interface{}{}
		}
		meta.Equations = append(meta.Equations, EquationMetadata{
			ID:               eq.ID,
			Latex:            eq.Latex,
			DisplayMode:      mode,
			Environment:      environmentFor(mode),
			Label:            eq.Label,
			PreambleOverride: eq.PreambleOverride,
			BBox:             &box,
			CustomData:       customData,
		})

		y += geom.Height + padding
		if geom.Width > width {
			width = geom.Width
		}
	}

	totalWidth := width + 2*padding
	totalHeight := y
	if len(doc.Equations) == 0 {
		totalHeight = 2 * padding
	}

	block, err := EncodeMetadataBlock(meta)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%s" height="%s" viewBox="0 0 %s %s">`+"\n",
		formatNumber(totalWidth), formatNumber(totalHeight), formatNumber(totalWidth), formatNumber(totalHeight))
	sb.WriteString(block)
	sb.WriteString(groups.String())
	sb.WriteString("</svg>\n")
	return sb.String(), nil
}
