// Package svgmeta builds self-describing SVG exports of equation documents
// and recovers the equations from such files.
//
// Every export carries the equation sources twice: as a JSON block inside
// <metadata id="latex-equations"> and as data-* attributes on the group that
// wraps each rendered equation. Import reads the metadata block first and
// falls back to the group attributes when the block is missing or corrupt.
package svgmeta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MetadataID is the id of the embedded metadata element
	MetadataID = "latex-equations"
	// GroupRole marks the wrapper group of one equation
	GroupRole = "latex-equation"
	// NoEquationsError is reported when an SVG carries no equations at all
	NoEquationsError = "No LaTeX equations found in SVG"

	DisplayBlock  = "block"
	DisplayInline = "inline"
)

// BBox is an equation's placement inside the exported SVG, in px.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// EquationMetadata describes one equation in the metadata block.
type EquationMetadata struct {
	ID               string                 `json:"id"`
	Latex            string                 `json:"latex"`
	DisplayMode      string                 `json:"displayMode"`
	Environment      string                 `json:"environment"`
	Label            string                 `json:"label"`
	PreambleOverride *string                `json:"preambleOverride"`
	BBox             *BBox                  `json:"bbox"`
	CustomData       map[string]interface{} `json:"customData"`
}

// Metadata is the JSON payload of the metadata block.
type Metadata struct {
	Generator        string                 `json:"generator"`
	GeneratorVersion string                 `json:"generatorVersion"`
	GeneratedAt      string                 `json:"generatedAt"`
	GlobalPreamble   *string                `json:"globalPreamble,omitempty"`
	EngineVersion    string                 `json:"engineVersion"`
	EngineOptions    map[string]interface{} `json:"engineOptions"`
	Equations        []EquationMetadata     `json:"equations"`
}

// environmentFor names the LaTeX environment an equation is typeset in.
func environmentFor(displayMode string) string {
	if displayMode == DisplayInline {
		return "math"
	}
	return "displaymath"
}

// EncodeMetadataBlock renders meta as a <metadata> element. The JSON is
// pretty-printed, text-escaped and indented to sit under the SVG root.
func EncodeMetadataBlock(meta Metadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("failed to encode svg metadata: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`  <metadata id="` + MetadataID + `" data-type="application/json">` + "\n")
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		sb.WriteString("    ")
		sb.WriteString(EscapeText(line))
		sb.WriteString("\n")
	}
	sb.WriteString("  </metadata>\n")
	return sb.String(), nil
}

// DecodeMetadataBlock parses the text content of a metadata element.
func DecodeMetadataBlock(content string) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal([]byte(Unescape(strings.TrimSpace(content))), &meta); err != nil {
		return nil, fmt.Errorf("invalid svg metadata: %w", err)
	}
	return &meta, nil
}

// GroupOpenTag returns the opening <g> tag that wraps an equation's markup.
// The data-* attributes are the fallback import path.
func GroupOpenTag(id, latex, displayMode, color string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<g id="%s-group" data-role="%s" data-equation-id="%s" data-latex="%s" data-display-mode="%s"`,
		EscapeAttr(id), GroupRole, EscapeAttr(id), EscapeAttr(latex), EscapeAttr(displayMode))
	if color != "" {
		fmt.Fprintf(&sb, ` style="color:%s" fill="currentColor"`, EscapeAttr(color))
	}
	sb.WriteString(">")
	return sb.String()
}
