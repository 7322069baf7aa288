// Package depersonalize turns raw user text into the "clean" form that is
// stored alongside a post and is the only version ever shown to other users.
//
// The pipeline runs in a fixed order, each step operating on the output of
// the previous one:
//
//  1. diacritic stripping
//  2. filler-phrase softening (laughter, emoji)
//  3. soft-synonym replacement of informal address terms
//  4. sensitive-pattern redaction (phone, email, handle, link, metadata)
//  5. punctuation normalization
//  6. whitespace normalization
//  7. truncation to MaxLength runes
//
// Redaction replaces a match with a bracketed label instead of deleting it,
// so sentences stay readable. Labels are never re-matched by later rules or
// by a second pass over already clean text.
package depersonalize

import (
	"regexp"
	"strings"

	"github.com/tbourn/go-anon-backend/internal/textnorm"
)

// DefaultMaxLength is the rune cap applied when Options.MaxLength is unset.
const DefaultMaxLength = 2000

// Redaction labels.
const (
	LabelPhone    = "[phone]"
	LabelEmail    = "[email]"
	LabelHandle   = "[@handle]"
	LabelLink     = "[link]"
	LabelMetadata = "[metadata]"
	LabelSmile    = "[smile]"
)

// Options tunes a single Depersonalize call.
type Options struct {
	// MaxLength caps the output in runes. Values <= 0 use DefaultMaxLength.
	MaxLength int
}

// Substitution is a case-insensitive phrase replacement.
type Substitution struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Rule is one ordered redaction step. Every match of Pattern is replaced by
// Label unless it starts inside a label produced earlier, or Accept rejects it.
type Rule struct {
	Label   string
	Pattern *regexp.Regexp
	// Accept filters raw matches; nil accepts all.
	Accept func(match string) bool
	// KeepLabels re-emits labels swallowed by a wide match after Label.
	KeepLabels bool
}

func literal(source, target string) Substitution {
	return Substitution{
		Pattern:     regexp.MustCompile(`(?i)` + regexp.QuoteMeta(source)),
		Replacement: target,
	}
}

// FillerReplacements soften laughter variants and collapse emoji to tags.
// "233" only matches as a standalone token so digit runs stay intact for the
// phone rules.
var FillerReplacements = []Substitution{
	literal("哈哈哈", "哈哈"),
	{Pattern: regexp.MustCompile(`\b233\b`), Replacement: "哈哈"},
	literal("orz", "加油"),
	literal("😊", LabelSmile),
	literal("😂", LabelSmile),
}

// SoftSynonyms neutralize informal address terms that leak relationships.
var SoftSynonyms = []Substitution{
	literal("老铁", "朋友"),
	literal("宝贝", "朋友"),
	literal("兄弟", "朋友"),
}

// SensitivePatterns is the ordered redaction table.
var SensitivePatterns = []Rule{
	{
		Label:   LabelPhone,
		Pattern: regexp.MustCompile(`\d+`),
		Accept:  func(m string) bool { return len(m) == 11 },
	},
	{Label: LabelPhone, Pattern: regexp.MustCompile(`\b\d{3}[-\s]*\d{3,4}[-\s]*\d{4}\b`)},
	{Label: LabelEmail, Pattern: regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)},
	{Label: LabelHandle, Pattern: regexp.MustCompile(`@\w+`)},
	{Label: LabelLink, Pattern: regexp.MustCompile(`(?i)(?:https?://|www\.)[\w-]+(?:\.[\w-]+)+[^\s\[\]]*`)},
	{Label: LabelMetadata, Pattern: regexp.MustCompile(`(?i)exif\s*[:=][^\n]*`), KeepLabels: true},
}

var labelRE = regexp.MustCompile(
	`\[(?:phone|email|@handle|link|metadata|smile)\]`,
)

// Depersonalize runs the full pipeline over text. It never fails; the worst
// case is a truncated, heavily redacted string.
func Depersonalize(text string, opts Options) string {
	max := opts.MaxLength
	if max <= 0 {
		max = DefaultMaxLength
	}

	out := textnorm.StripDiacritics(text)
	out = substitute(out, FillerReplacements)
	out = substitute(out, SoftSynonyms)
	out = Redact(out)
	out = textnorm.NormalizePunctuation(out)
	out = textnorm.NormalizeWhitespace(out)
	return textnorm.Truncate(out, max)
}

// Redact applies only the SensitivePatterns table. It is also used to scrub
// request metadata before it reaches the logs.
func Redact(text string) string {
	for _, r := range SensitivePatterns {
		text = r.apply(text)
	}
	return text
}

// Depersonalizer binds Options so the pipeline can be injected as a
// collaborator.
type Depersonalizer struct {
	MaxLength int
}

// Clean implements the cleaning contract used by the post pipeline.
func (d Depersonalizer) Clean(text string) string {
	return Depersonalize(text, Options{MaxLength: d.MaxLength})
}

func substitute(s string, subs []Substitution) string {
	for _, sub := range subs {
		s = sub.Pattern.ReplaceAllLiteralString(s, sub.Replacement)
	}
	return s
}

func (r Rule) apply(s string) string {
	matches := r.Pattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	labels := labelRE.FindAllStringIndex(s, -1)

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if insideLabel(labels, start) {
			continue
		}
		match := s[start:end]
		if r.Accept != nil && !r.Accept(match) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(r.Label)
		if r.KeepLabels {
			for _, kept := range labelRE.FindAllString(match, -1) {
				b.WriteString(kept)
			}
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func insideLabel(labels [][]int, pos int) bool {
	for _, l := range labels {
		if pos >= l[0] && pos < l[1] {
			return true
		}
	}
	return false
}
