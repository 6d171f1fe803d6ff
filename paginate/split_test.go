package paginate

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"folio/css"
)

// fakeMeasurer models a layout surface with fixed-width characters: a line
// holds lineChars characters and costs lineHeight pixels. Deterministic and
// monotonic, which is all the bisection relies on.
type fakeMeasurer struct {
	lineChars  int
	lineHeight float64
	headingOn  bool
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func (m *fakeMeasurer) Measure(fragment string, _ *css.Profile) (float64, error) {
	txt := strings.Join(strings.Fields(tagRe.ReplaceAllString(fragment, " ")), " ")
	n := utf8.RuneCountInString(txt)
	if n == 0 {
		return m.lineHeight, nil
	}
	lines := (n + m.lineChars - 1) / m.lineChars
	return float64(lines) * m.lineHeight, nil
}

func (m *fakeMeasurer) SetHeadingMode(on bool) { m.headingOn = on }
func (m *fakeMeasurer) Destroy()               {}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
}

func newTestSplitter(t *testing.T, m Measurer) *splitter {
	t.Helper()
	return &splitter{m: m, profile: css.DefaultProfile(), log: testLogger(t)}
}

func plainText(t *testing.T, html string) string {
	t.Helper()
	if html == "" {
		return ""
	}
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString(html); err != nil {
		t.Fatalf("fragment does not parse: %v\n%s", err, html)
	}
	return elementText(doc.Root())
}

func joinedWords(t *testing.T, parts ...string) string {
	t.Helper()
	var words []string
	for _, p := range parts {
		words = append(words, strings.Fields(plainText(t, p))...)
	}
	return strings.Join(words, " ")
}

func TestSplit(t *testing.T) {
	m := &fakeMeasurer{lineChars: 10, lineHeight: 10}

	t.Run("whole_element_fits", func(t *testing.T) {
		s := newTestSplitter(t, m)
		in := `<p>short text</p>`
		out, err := s.split(in, 100)
		if err != nil {
			t.Fatalf("split failed: %v", err)
		}
		if out.First != in || out.Second != "" {
			t.Fatalf("expected whole element to fit: %+v", out)
		}
	})

	t.Run("splits_at_sentence_boundary", func(t *testing.T) {
		s := newTestSplitter(t, m)
		in := `<p>First sentence is right here. Second sentence follows it. Third one closes things.</p>`
		out, err := s.split(in, 45)
		if err != nil {
			t.Fatalf("split failed: %v", err)
		}
		if out.First == "" || out.Second == "" {
			t.Fatalf("expected a two-way split: %+v", out)
		}
		first := strings.TrimSpace(plainText(t, out.First))
		if !strings.HasSuffix(first, ".") {
			t.Fatalf("first part does not end at a sentence boundary: %q", first)
		}
		h, err := m.Measure(out.First, nil)
		if err != nil {
			t.Fatalf("measure failed: %v", err)
		}
		if h > 45+heightTolerance {
			t.Fatalf("first part overflows: %v > %v", h, 45.0)
		}
		if got, want := joinedWords(t, out.First, out.Second), joinedWords(t, in); got != want {
			t.Fatalf("text lost in split:\n got %q\nwant %q", got, want)
		}
	})

	t.Run("falls_back_to_word_boundary", func(t *testing.T) {
		s := newTestSplitter(t, m)
		// a single long sentence offers no sentence boundaries
		in := `<p>one two three four five six seven eight nine ten eleven twelve</p>`
		out, err := s.split(in, 30)
		if err != nil {
			t.Fatalf("split failed: %v", err)
		}
		if out.First == "" || out.Second == "" {
			t.Fatalf("expected a two-way split: %+v", out)
		}
		firstWords := strings.Fields(plainText(t, out.First))
		allWords := strings.Fields(plainText(t, in))
		for i, w := range firstWords {
			if w != allWords[i] {
				t.Fatalf("word %d broken by split: %q vs %q", i, w, allWords[i])
			}
		}
		if got, want := joinedWords(t, out.First, out.Second), joinedWords(t, in); got != want {
			t.Fatalf("text lost in split:\n got %q\nwant %q", got, want)
		}
	})

	t.Run("nothing_fits", func(t *testing.T) {
		s := newTestSplitter(t, m)
		in := `<p>every single word here is far too tall for the given budget</p>`
		out, err := s.split(in, 5)
		if err != nil {
			t.Fatalf("split failed: %v", err)
		}
		if out.First != "" {
			t.Fatalf("expected empty first part, got %q", out.First)
		}
		if got, want := joinedWords(t, out.Second), joinedWords(t, in); got != want {
			t.Fatalf("second part must carry the whole element:\n got %q\nwant %q", got, want)
		}
	})

	t.Run("preserves_nested_markup", func(t *testing.T) {
		s := newTestSplitter(t, m)
		in := `<p>plain start <em>emphasised middle words here</em> trailing tail words</p>`
		out, err := s.split(in, 30)
		if err != nil {
			t.Fatalf("split failed: %v", err)
		}
		if out.First == "" || out.Second == "" {
			t.Fatalf("expected a two-way split: %+v", out)
		}
		// both parts must be well-formed and reconstruct the text
		if got, want := joinedWords(t, out.First, out.Second), joinedWords(t, in); got != want {
			t.Fatalf("text lost in split:\n got %q\nwant %q", got, want)
		}
		if !strings.HasPrefix(out.First, "<p>") || !strings.HasPrefix(out.Second, "<p>") {
			t.Fatalf("wrapper element not preserved on both sides: %+v", out)
		}
	})

	t.Run("remainder_resplits_to_completion", func(t *testing.T) {
		s := newTestSplitter(t, m)
		in := `<p>alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi</p>`
		var words []string
		rest := in
		for range 20 {
			out, err := s.split(rest, 20)
			if err != nil {
				t.Fatalf("split failed: %v", err)
			}
			if out.First != "" {
				words = append(words, strings.Fields(plainText(t, out.First))...)
			}
			if out.Second == "" {
				break
			}
			if out.First == "" {
				t.Fatalf("no progress splitting %q", rest)
			}
			rest = out.Second
		}
		if got, want := strings.Join(words, " "), joinedWords(t, in); got != want {
			t.Fatalf("iterated split lost text:\n got %q\nwant %q", got, want)
		}
	})
}

func TestWordBoundaries(t *testing.T) {
	t.Run("no_boundary_after_sentence_terminal", func(t *testing.T) {
		bounds := wordBoundaries("one two. three")
		for _, b := range bounds {
			if b == 8 {
				t.Fatalf("boundary right after sentence terminal: %v", bounds)
			}
		}
		if len(bounds) != 1 {
			t.Fatalf("expected a single word boundary, got %v", bounds)
		}
	})

	t.Run("ascending_offsets", func(t *testing.T) {
		bounds := wordBoundaries("a b c d e")
		for i := 1; i < len(bounds); i++ {
			if bounds[i] <= bounds[i-1] {
				t.Fatalf("boundaries not ascending: %v", bounds)
			}
		}
	})
}
