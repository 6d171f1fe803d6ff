package text

import (
	"strings"
	"unicode"
)

// TokenSpan is a contiguous run of letters and digits within a string.
// Offsets are in runes, End is exclusive.
type TokenSpan struct {
	Text  string
	Start int
	End   int
}

// Tokenize splits text into letter/digit runs. Any script counts, not just
// ASCII. Everything between runs (spaces, punctuation) is skipped.
func Tokenize(in string) []TokenSpan {
	var (
		out   []TokenSpan
		start = -1
		word  strings.Builder
		pos   int
	)
	flush := func() {
		if start >= 0 {
			out = append(out, TokenSpan{Text: word.String(), Start: start, End: pos})
			word.Reset()
			start = -1
		}
	}
	for _, r := range in {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = pos
			}
			word.WriteRune(r)
		} else {
			flush()
		}
		pos++
	}
	flush()
	return out
}

var apostropheReplacer = strings.NewReplacer(
	"’", "'", // right single quotation mark
	"‘", "'", // left single quotation mark
	"ʼ", "'", // modifier letter apostrophe
	"`", "'", // grave accent
	"´", "'", // acute accent
)

// NormalizeApostrophes folds typographic apostrophe variants into the plain
// ASCII apostrophe so karaoke timing words match rendered text.
func NormalizeApostrophes(in string) string {
	return apostropheReplacer.Replace(in)
}
