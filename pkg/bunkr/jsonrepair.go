package bunkr

import (
	"regexp"
	"strings"
)

// The embedded album blob is a JavaScript object literal, not strict JSON.
// NormalizeAlbumJSON applies the repairs needed before a strict parse:
// quote bare object keys, drop trailing commas, un-escape single-quote
// escapes, and double any backslash that does not begin a valid escape.

var bareKeyPattern = regexp.MustCompile(`(?m)^(\s*)([A-Za-z0-9_]+):`)
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// NormalizeAlbumJSON repairs a near-JSON album blob into strict JSON.
func NormalizeAlbumJSON(raw string) string {
	out := bareKeyPattern.ReplaceAllString(raw, `$1"$2":`)
	out = trailingCommaPattern.ReplaceAllString(out, `$1`)
	out = strings.ReplaceAll(out, `\'`, `'`)
	return doubleInvalidEscapes(out)
}

// doubleInvalidEscapes doubles every backslash whose next byte does not form
// a valid JSON escape sequence.
func doubleInvalidEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && isValidEscapeChar(s[i+1]) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}

	return b.String()
}

func isValidEscapeChar(c byte) bool {
	switch c {
	case '\\', '"', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}
