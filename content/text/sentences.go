package text

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Splitter locates sentence boundaries in plain text. A nil Splitter is
// valid and falls back to a punctuation scan.
type Splitter struct {
	tok *sentences.DefaultSentenceTokenizer
}

// NewSplitter returns sentence splitter for the requested language. When no
// trained tokenizer model is available the returned value is nil and boundary
// detection degrades to a terminal punctuation scan.
func NewSplitter(lang language.Tag, log *zap.Logger) *Splitter {
	base, confidence := lang.Base()
	if confidence == language.No {
		log.Warn("Unable to determine language base", zap.Stringer("tag", lang))
		return nil
	}
	if strings.ToLower(base.String()) == "en" {
		tok, err := english.NewSentenceTokenizer(nil)
		if err != nil {
			log.Warn("Unable to load sentences tokenizer data", zap.Stringer("tag", lang), zap.Error(err))
			return nil
		}
		return &Splitter{tok: tok}
	}
	log.Warn("No sentence tokenizer model for language, using punctuation scan", zap.Stringer("language", lang))
	return nil
}

// boundaryRe matches a sentence break: terminal punctuation, optional closing
// quotes or brackets, whitespace, then an uppercase letter opening the next
// sentence.
var boundaryRe = regexp.MustCompile(`[.!?…][)\]"'»”’]*[ \t\r\n]+[\p{Lu}]`)

// Boundaries returns byte offsets at which a new sentence begins, in
// increasing order, always terminated by len(in). A prefix in[:b] for any
// returned b consists of whole sentences.
func (s *Splitter) Boundaries(in string) []int {
	var out []int

	if s == nil || s.tok == nil {
		for _, loc := range boundaryRe.FindAllStringIndex(in, -1) {
			// the match ends right after the first rune of the next sentence
			_, size := lastRune(in[loc[0]:loc[1]])
			out = append(out, loc[1]-size)
		}
		return append(out, len(in))
	}

	sents := s.tok.Tokenize(in)
	pos := 0
	for i := 0; i < len(sents)-1; i++ {
		idx := strings.Index(in[pos:], sents[i].Text)
		if idx < 0 {
			// tokenizer rewrote the text in a way we cannot map back,
			// stop early and let the caller use what we have
			break
		}
		end := pos + idx + len(sents[i].Text)
		// sentence trailing whitespace belongs to the prefix
		for end < len(in) {
			r, size := firstRune(in[end:])
			if !unicode.IsSpace(r) {
				break
			}
			end += size
		}
		if end < len(in) {
			out = append(out, end)
		}
		pos = end
	}
	return append(out, len(in))
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}

func lastRune(s string) (rune, int) {
	var (
		r    rune
		size int
	)
	for _, c := range s {
		r = c
		size = len(string(c))
	}
	return r, size
}

// IsSentenceTerminal reports whether the rune ends a sentence. Used by the
// word-level bisection to refuse boundaries right after sentence punctuation.
func IsSentenceTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}
