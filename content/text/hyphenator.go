// TeX-style hyphenation (forked from github.com/AlanQuatermain/go-hyphenator
// and modified).
package text

import (
	"bufio"
	"io"
	"os"
	"strings"
	"text/scanner"
	"unicode/utf8"

	"go.uber.org/zap"
)

// SoftHyphen is inserted at discovered hyphenation points.
const SoftHyphen = "­"

// Hyphenator inserts soft hyphens into words using TeX hyphenation patterns.
// A nil Hyphenator is valid and leaves text unmodified.
type Hyphenator struct {
	*hyph
}

// NewHyphenator loads TeX hyphenation patterns from the file at patternsPath.
// An exceptions file with the same name and ".hyp" extension is picked up when
// present. Returns nil (hyphenation off) when the dictionary cannot be read.
func NewHyphenator(patternsPath string, log *zap.Logger) *Hyphenator {
	if patternsPath == "" {
		return nil
	}
	pf, err := os.Open(patternsPath)
	if err != nil {
		log.Warn("Unable to read hyphenation patterns, turning off hyphenation", zap.String("path", patternsPath), zap.Error(err))
		return nil
	}
	defer pf.Close()

	var exceptions io.Reader = strings.NewReader("")
	if ef, err := os.Open(strings.TrimSuffix(patternsPath, ".pat") + ".hyp"); err == nil {
		defer ef.Close()
		exceptions = ef
	}

	h := &hyph{}
	if err := h.loadDictionary(patternsPath, pf, exceptions); err != nil {
		log.Warn("Unable to load hyphenation dictionary", zap.String("path", patternsPath), zap.Error(err))
		return nil
	}
	return &Hyphenator{h}
}

// Hyphenate inserts soft hyphens into words in string. Words that already
// carry a soft hyphen are left alone, so applying Hyphenate twice equals
// applying it once.
func (h *Hyphenator) Hyphenate(in string) string {
	if h == nil {
		return in
	}
	if strings.Contains(in, SoftHyphen) {
		return in
	}
	return h.hyphString(in, SoftHyphen)
}

// hyph struct wraps actual implementation.
type hyph struct {
	patterns   *trie
	exceptions map[string]string
	source     string
}

// loadDictionary imports hyphenation patterns and exceptions from provided input streams.
func (h *hyph) loadDictionary(source string, patterns, exceptions io.Reader) error {

	if h.source != source {
		h.patterns = nil
		h.exceptions = nil
		h.source = source
	}

	if h.patterns != nil && h.patterns.size() != 0 {
		// looks like it's already been set up
		return nil
	}

	h.patterns = newTrie()
	h.exceptions = make(map[string]string, 20)

	if err := h.loadPatterns(patterns); err != nil {
		return err
	}
	return h.loadExceptions(exceptions)
}

func (h *hyph) loadPatterns(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		h.patterns.addPatternString(line)
	}
	return scanner.Err()
}

func (h *hyph) loadExceptions(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		str := strings.TrimSpace(scanner.Text())
		if str == "" {
			continue
		}
		key := strings.ReplaceAll(str, `-`, ``)
		h.exceptions[key] = str
	}
	return scanner.Err()
}

func (h *hyph) hyphenateWord(s, hyphen string) string {

	testStr := `.` + strings.ToLower(s) + `.`
	v := make([]int, utf8.RuneCountInString(testStr))

	vIndex := 0
	for pos := range testStr {
		t := testStr[pos:]
		strs, values := h.patterns.allSubstringsAndValues(t)
		for i := range len(values) {
			str := strs[i]
			val := values[i].([]int)

			diff := len(val) - utf8.RuneCountInString(str)
			vs := v[vIndex-diff:]

			for i := range len(val) {
				if val[i] > vs[i] {
					vs[i] = val[i]
				}
			}
		}
		vIndex++
	}

	var outstr strings.Builder

	// trim the values for the beginning and ending dots
	markers := v[1 : len(v)-1]
	mIndex := 0
	for _, ch := range s {
		outstr.WriteRune(ch)
		// don't hyphenate between (or after) first two and the last two characters of a string
		if 1 <= mIndex && mIndex < len(markers)-2 {
			// hyphens are inserted on odd values, skipped on even ones
			if markers[mIndex]%2 != 0 {
				outstr.WriteString(hyphen)
			}
		}
		mIndex++
	}

	return outstr.String()
}

// hyphenate string.
func (h *hyph) hyphString(s, hyphen string) string {

	var sc scanner.Scanner
	sc.Init(strings.NewReader(s))
	sc.Mode = scanner.ScanIdents
	sc.Whitespace = 0

	var outstr strings.Builder

	tok := sc.Scan()
	for tok != scanner.EOF {
		switch tok {
		case scanner.Ident:
			// a word (or part thereof) to hyphenate
			t := sc.TokenText()

			// try the exceptions first
			exc := h.exceptions[t]
			if len(exc) != 0 {
				if hyphen != `-` {
					exc = strings.ReplaceAll(exc, `-`, hyphen)
				}
				outstr.WriteString(exc)
			} else {
				// not an exception, hyphenate normally
				outstr.WriteString(h.hyphenateWord(t, hyphen))
			}
		default:
			// A Unicode rune to append to the output
			outstr.WriteRune(tok)
		}

		tok = sc.Scan()
	}
	return outstr.String()
}
