// Package sanitize normalizes free-text fields before persistence: NFKC
// normalization, fullwidth punctuation replacement, control and zero-width
// character stripping, whitespace collapsing, and a length cap.
package sanitize

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxLen caps sanitized text to guard against oversized input.
const maxLen = 512

// charReplacements maps fullwidth punctuation and typographic quotes that
// NFKC leaves alone to their ASCII equivalents.
var charReplacements = map[rune]rune{
	'「': '"',
	'」': '"',
	'『': '"',
	'』': '"',
	'“': '"',
	'”': '"',
	'’': '\'',
	'‘': '\'',
}

// Text normalizes a free-text value. The result contains no control
// characters (other than collapsed whitespace), no zero-width characters,
// no fullwidth punctuation, and at most 512 runes.
func Text(s string) string {
	// NFKC folds fullwidth letters, digits, and most punctuation to their
	// compatibility equivalents (e.g. "（" → "(", "　" → " ").
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if rep, ok := charReplacements[r]; ok {
			b.WriteRune(rep)
			continue
		}
		if isZeroWidth(r) {
			continue
		}
		if r != '\t' && r != '\r' && r != '\n' && (unicode.IsControl(r) || r == 0x7f) {
			continue
		}
		b.WriteRune(r)
	}

	s = strings.Join(strings.Fields(b.String()), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		s = string(runes[:maxLen])
	}
	return s
}

// URL sanitizes a URL value, admitting only absolute http/https URLs.
// Anything else yields the empty string.
func URL(s string) string {
	s = Text(s)
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.String()
}

// isZeroWidth reports ZWSP, ZWNJ, ZWJ, and the BOM.
func isZeroWidth(r rune) bool {
	switch r {
	case 0x200B, 0x200C, 0x200D, 0xFEFF:
		return true
	}
	return false
}
