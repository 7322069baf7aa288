// Package textnorm provides the canonicalization helpers applied to
// user-authored text before it is matched against rules or shown to other
// users.
//
// Every function in this package is total: any string in, a string out. None
// of them return errors, and malformed UTF-8 is passed through rather than
// rejected.
//
// Lengths are measured in runes, not bytes, so CJK text and emoji are
// truncated on character boundaries.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Ellipsis is appended by Truncate when input is cut.
const Ellipsis = "…"

// combiningDiacriticals is the Combining Diacritical Marks block (U+0300–U+036F).
var combiningDiacriticals = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
}

// fullWidthPunctuation maps CJK punctuation to ASCII, in evaluation order.
var fullWidthPunctuation = []string{
	"，", ",",
	"。", ".",
	"！", "!",
	"？", "?",
	"；", ";",
	"：", ":",
	"（", "(",
	"）", ")",
	"“", `"`,
	"”", `"`,
}

var (
	punctReplacer = strings.NewReplacer(fullWidthPunctuation...)
	bangRunRE     = regexp.MustCompile(`[!?]{2,}`)
	dotRunRE      = regexp.MustCompile(`\.{2,}`)
)

// StripDiacritics decomposes s (NFKD), drops combining diacritical marks and
// recomposes what is left (NFC) so scripts such as Hangul keep their
// precomposed form. On transform failure the input is returned unchanged.
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(combiningDiacriticals)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizePunctuation folds full-width punctuation to ASCII, collapses runs
// of two or more '!'/'?' to a single '!', and runs of dots to a single '.'.
func NormalizePunctuation(s string) string {
	s = punctReplacer.Replace(s)
	s = bangRunRE.ReplaceAllString(s, "!")
	return dotRunRE.ReplaceAllString(s, ".")
}

// NormalizeWhitespace collapses any run of Unicode whitespace to one ASCII
// space and trims both ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns s unchanged when it has at most max runes. Otherwise it
// keeps the first max-1 runes and appends Ellipsis, so the result is exactly
// max runes long. A max <= 0 yields the empty string.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + Ellipsis
}
