package document

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func TestParse_LabelledAndAutoLabelled(t *testing.T) {
	p := NewParser(WithIDGenerator(sequentialIDs("id")))
	result := p.Parse("E=mc^2\n\\label{eq:einstein}\n\n---\n\nx^2", nil)

	require.Len(t, result.Equations, 2)
	assert.Nil(t, result.Frontmatter)

	first := result.Equations[0]
	assert.Equal(t, "eq:einstein", first.Label)
	assert.Equal(t, "E=mc^2\n\\label{eq:einstein}", first.Latex)
	assert.True(t, first.ExplicitLabel)
	assert.Equal(t, 0, first.StartLine)
	assert.Equal(t, 1, first.EndLine)
	assert.Equal(t, "id1", first.ID)

	second := result.Equations[1]
	assert.Equal(t, "eq1", second.Label)
	assert.Equal(t, "x^2", second.Latex)
	assert.False(t, second.ExplicitLabel)
	assert.Equal(t, 5, second.StartLine)
	assert.Equal(t, 5, second.EndLine)
	assert.Equal(t, "id2", second.ID)
}

func TestParse_AutoLabelsArePositional(t *testing.T) {
	text := "b^2\n---\na\n\\label{named}\n---\nz\n---\ny"
	result := Parse(text, nil)

	labels := make([]string, len(result.Equations))
	for i, eq := range result.Equations {
		labels[i] = eq.Label
	}
	assert.Equal(t, []string{"eq1", "named", "eq2", "eq3"}, labels)
}

func TestParse_Sections(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		latex   []string
		hasMeta bool
	}{
		{"empty document", "", nil, false},
		{"whitespace only", "  \n\t\n", nil, false},
		{"single equation without separators", "x + y", []string{"x + y"}, false},
		{"trailing empty section", "x\n---\n\n", []string{"x"}, false},
		{"leading separator", "---\nx", []string{"x"}, false},
		{"consecutive separators", "a\n---\n---\nb", []string{"a", "b"}, false},
		{"long separator", "a\n-------\nb", []string{"a", "b"}, false},
		{"indented separator", "a\n   ---  \nb", []string{"a", "b"}, false},
		{"separator with text is content", "a\n--- b\nc", []string{"a\n--- b\nc"}, false},
		{"crlf line endings", "a\r\n---\r\nb\r\n", []string{"a", "b"}, false},
		{"frontmatter then equation", "color: red\n---\nx", []string{"x"}, true},
		{"frontmatter with comments", "# defaults\ncolor: red\n% note\n---\nx", []string{"x"}, true},
		{"zero separators frontmatter-like", "title: notes", nil, true},
		{"backslash disqualifies frontmatter", "color: \\red\n---\nx", []string{"color: \\red", "x"}, false},
		{"frontmatter only in first section", "x\n---\ncolor: red", []string{"x", "color: red"}, false},
		{"comments only is an equation", "% just a note\n---\nx", []string{"% just a note", "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.text, nil)
			var got []string
			for _, eq := range result.Equations {
				got = append(got, eq.Latex)
			}
			assert.Equal(t, tt.latex, got)
			assert.Equal(t, tt.hasMeta, result.Frontmatter != nil)
		})
	}
}

func TestParse_RangesExcludePadding(t *testing.T) {
	text := "\n\n  a\n\n---\n\n\nb\nc\n\n"
	result := Parse(text, nil)

	require.Len(t, result.Equations, 2)
	assert.Equal(t, 2, result.Equations[0].StartLine)
	assert.Equal(t, 2, result.Equations[0].EndLine)
	assert.Equal(t, "a", result.Equations[0].Latex)
	assert.Equal(t, 7, result.Equations[1].StartLine)
	assert.Equal(t, 8, result.Equations[1].EndLine)
}

func TestParse_Color(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		color string
	}{
		{"trailing directive", "x^2\n% color: #ff0000", "#ff0000"},
		{"trailing directive before blank lines", "x^2\n% color: blue\n\n\n", "blue"},
		{"directive mid-section is a comment", "x^2\n% color: #ff0000\ny^2", ""},
		{"no space after percent", "x\n%color: red", "red"},
		{"no directive", "x^2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.text, nil)
			require.Len(t, result.Equations, 1)
			assert.Equal(t, tt.color, result.Equations[0].Color)
		})
	}
}

func TestResult_EffectiveColor(t *testing.T) {
	result := Parse("color: #336699\nauthor: me\n---\nx\n---\ny\n% color: red", nil)

	require.NotNil(t, result.Frontmatter)
	assert.Equal(t, "#336699", result.Frontmatter.Color)
	assert.Equal(t, "me", result.Frontmatter.Values["author"])
	require.Len(t, result.Equations, 2)
	assert.Equal(t, "#336699", result.EffectiveColor(result.Equations[0]))
	assert.Equal(t, "red", result.EffectiveColor(result.Equations[1]))
}

func TestResult_Lookup(t *testing.T) {
	p := NewParser(WithIDGenerator(sequentialIDs("e")))
	result := p.Parse("a\n\n---\n\nb\n\n---\n\nc", nil)

	eq, ok := result.Find("e2")
	require.True(t, ok)
	assert.Equal(t, "b", eq.Latex)
	assert.Equal(t, -1, result.IndexOf("missing"))
	assert.Equal(t, []string{"e1", "e2", "e3"}, result.IDs())

	tests := []struct {
		line int
		want string
		ok   bool
	}{
		{0, "a", true},
		{2, "a", true},
		{4, "b", true},
		{7, "b", true},
		{8, "c", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("line %d", tt.line), func(t *testing.T) {
			got, ok := result.EquationAt(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Latex)
		})
	}

	_, ok = p.Parse("\n\nx", nil).EquationAt(0)
	assert.False(t, ok, "cursor before the first equation")
}

func TestParse_CarriesIDsForward(t *testing.T) {
	p := NewParser(WithIDGenerator(sequentialIDs("id")))
	first := p.Parse("a\n---\nb", nil)
	second := p.Parse("a changed\n---\nb\n---\nc", first.Equations)

	assert.Equal(t, []string{"id1", "id2", "id3"}, second.IDs())
	assert.Equal(t, "a changed", second.Equations[0].Latex)
}
