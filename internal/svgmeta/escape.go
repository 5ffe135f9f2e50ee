package svgmeta

import "strings"

var (
	textEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
		"\n", "&#10;",
	)
	// &amp; is last so "&amp;lt;" decodes to "&lt;" rather than "<"
	unescapeOrder = [][2]string{
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&apos;", "'"},
		{"&#10;", "\n"},
		{"&#34;", `"`},
		{"&#39;", "'"},
		{"&amp;", "&"},
	}
)

// EscapeText escapes s for use as element text: & < > only.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// EscapeAttr escapes s for use inside a double-quoted attribute value.
// Newlines are written as &#10; so XML attribute normalization keeps them.
func EscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// Unescape reverses EscapeText and EscapeAttr.
func Unescape(s string) string {
	for _, pair := range unescapeOrder {
		s = strings.ReplaceAll(s, pair[0], pair[1])
	}
	return s
}
