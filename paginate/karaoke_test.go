package paginate

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/beevik/etree"

	"folio/content"
)

const karaokeElement = `<div class="karaoke" data-karaoke-id="k1" data-timings='[{"word":"Hello","start":0,"end":500},{"word":"brave","start":500,"end":800},{"word":"new","start":800,"end":1100},{"word":"world","start":1100,"end":1600}]'>Hello brave new world</div>`

func TestBuildKaraokeSource(t *testing.T) {
	log := testLogger(t)

	t.Run("letter_timings_cover_matched_words", func(t *testing.T) {
		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: karaokeElement}, log)
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		src := entry.src
		if src.ID != "k1" {
			t.Fatalf("wrong id: %q", src.ID)
		}
		if src.NormalizedText != "Hello brave new world" {
			t.Fatalf("wrong normalized text: %q", src.NormalizedText)
		}
		if len(src.LetterTimings) != len([]rune(src.NormalizedText)) {
			t.Fatalf("timings length %d, text length %d", len(src.LetterTimings), len([]rune(src.NormalizedText)))
		}
		// "Hello": 5 letters, 500ms -> 100ms per letter
		for i := 0; i < 5; i++ {
			tm := src.LetterTimings[i]
			if tm == nil {
				t.Fatalf("letter %d has no timing", i)
			}
			if tm.Start != float64(i)*100 || tm.End != float64(i+1)*100 {
				t.Fatalf("letter %d timing %+v", i, tm)
			}
		}
		// the space between words carries no timing
		if src.LetterTimings[5] != nil {
			t.Fatalf("space should have nil timing, got %+v", src.LetterTimings[5])
		}
		if len(src.WordCharRanges) != 4 {
			t.Fatalf("expected 4 word ranges, got %+v", src.WordCharRanges)
		}
	})

	t.Run("unmatched_words_left_nil_without_backtracking", func(t *testing.T) {
		el := `<div data-karaoke-id="k2" data-timings='[{"word":"zeta","start":0,"end":100},{"word":"alpha","start":100,"end":200}]'>alpha beta</div>`
		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		// "zeta" never matches; "alpha" must still match at the cursor
		src := entry.src
		if src.LetterTimings[0] == nil {
			t.Fatal("alpha should have timings")
		}
		for i := 6; i < 10; i++ {
			if src.LetterTimings[i] != nil {
				t.Fatalf("beta should have nil timings, letter %d has %+v", i, src.LetterTimings[i])
			}
		}
	})

	t.Run("case_and_punctuation_fold_for_matching", func(t *testing.T) {
		el := `<div data-karaoke-id="k3" data-timings='[{"word":"HELLO,","start":0,"end":300}]'>hello there</div>`
		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if entry.src.LetterTimings[0] == nil {
			t.Fatal("folded word should match despite case and punctuation")
		}
	})

	t.Run("markers_extracted_with_offsets", func(t *testing.T) {
		el := `<div data-karaoke-id="k4" data-timings='[]'>start [[a note]]middle end</div>`
		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if entry.src.NormalizedText != "start middle end" {
			t.Fatalf("markers not stripped: %q", entry.src.NormalizedText)
		}
		if len(entry.markers) != 1 || entry.markers[0].Content != "a note" || entry.markers[0].Offset != 6 {
			t.Fatalf("unexpected markers: %+v", entry.markers)
		}
	})

	t.Run("malformed_timings", func(t *testing.T) {
		el := `<div data-karaoke-id="k5" data-timings='not json'>text</div>`
		_, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if !errors.Is(err, ErrMalformedKaraoke) {
			t.Fatalf("expected ErrMalformedKaraoke, got %v", err)
		}
	})

	t.Run("missing_id", func(t *testing.T) {
		el := `<div class="karaoke" data-timings='[]'>text</div>`
		_, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if !errors.Is(err, ErrMalformedKaraoke) {
			t.Fatalf("expected ErrMalformedKaraoke, got %v", err)
		}
	})
}

func TestSliceKaraoke(t *testing.T) {
	newKaraokePaginator := func(t *testing.T, m Measurer, pageHeight float64) (*Paginator, *chapterState, *[]*Page) {
		t.Helper()
		p, err := New(Options{
			Measurer:   m,
			PageWidth:  400,
			PageHeight: int(pageHeight),
			Log:        testLogger(t),
		})
		if err != nil {
			t.Fatalf("unable to build paginator: %v", err)
		}
		p.registry = content.BuildFootnotes(nil, testLogger(t))
		pages := &[]*Page{}
		st := &chapterState{
			chapterID: "c1",
			noteSeen:  make(map[string]bool),
			bgVideo:   make(map[int]string),
			pages:     pages,
		}
		return p, st, pages
	}

	t.Run("slices_across_pages_contiguously", func(t *testing.T) {
		words := strings.Repeat("word ", 80)
		el := `<div data-karaoke-id="kk" data-timings='[]'>` + strings.TrimSpace(words) + `</div>`
		m := &fakeMeasurer{lineChars: 10, lineHeight: 10}
		// karaoke budget = 300 - 40 = 260 -> 26 lines -> 260 chars per page
		p, st, pages := newKaraokePaginator(t, m, 300)

		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if err := p.sliceKaraoke(st, entry); err != nil {
			t.Fatalf("slice failed: %v", err)
		}
		if err := p.flush(st); err != nil {
			t.Fatalf("flush failed: %v", err)
		}

		if len(*pages) < 2 {
			t.Fatalf("expected multiple pages, got %d", len(*pages))
		}
		// slice ranges must be contiguous and cover the whole text
		total := len([]rune(entry.src.NormalizedText))
		next := 0
		for _, pg := range *pages {
			start, end := sliceRange(t, pg.Content)
			if start != next {
				t.Fatalf("slice starts at %d, expected %d", start, next)
			}
			if end <= start {
				t.Fatalf("empty slice [%d,%d)", start, end)
			}
			next = end
		}
		if next != total {
			t.Fatalf("slices cover %d of %d characters", next, total)
		}
	})

	t.Run("forces_minimal_progress_on_empty_page", func(t *testing.T) {
		text := strings.Repeat("x", 200)
		el := `<div data-karaoke-id="kx" data-timings='[]'>` + text + `</div>`
		// nothing ever fits: a single line costs more than any page
		m := &fakeMeasurer{lineChars: 1000, lineHeight: 1e6}
		p, st, pages := newKaraokePaginator(t, m, 300)

		entry, err := buildKaraokeSource(content.Element{Tag: "div", HTML: el}, testLogger(t))
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if err := p.sliceKaraoke(st, entry); err != nil {
			t.Fatalf("slice failed: %v", err)
		}
		if err := p.flush(st); err != nil {
			t.Fatalf("flush failed: %v", err)
		}

		start, end := sliceRange(t, (*pages)[0].Content)
		if start != 0 || end != karaokeMinChars {
			t.Fatalf("expected forced slice [0,%d), got [%d,%d)", karaokeMinChars, start, end)
		}
	})
}

func sliceRange(t *testing.T, pageContent string) (int, int) {
	t.Helper()
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString("<root>" + pageContent + "</root>"); err != nil {
		t.Fatalf("unparseable page content: %v", err)
	}
	el := doc.FindElement("//div[@data-karaoke-id]")
	if el == nil {
		t.Fatalf("no karaoke slice in page content: %q", pageContent)
	}
	start, err := strconv.Atoi(el.SelectAttrValue("data-start", ""))
	if err != nil {
		t.Fatalf("bad data-start: %v", err)
	}
	end, err := strconv.Atoi(el.SelectAttrValue("data-end", ""))
	if err != nil {
		t.Fatalf("bad data-end: %v", err)
	}
	return start, end
}

func TestRenderKaraokeSlice(t *testing.T) {
	src := &KaraokeSource{ID: "k9", NormalizedText: "ab & cd"}
	runes := []rune(src.NormalizedText)
	out := renderKaraokeSlice(src, runes, 0, len(runes), []noteMarker{{Offset: 2, Content: `see "notes"`}})
	if !strings.Contains(out, `data-karaoke-id="k9" data-start="0" data-end="7"`) {
		t.Fatalf("unexpected slice attributes: %q", out)
	}
	if !strings.Contains(out, `data-note="see &quot;notes&quot;"`) {
		t.Fatalf("marker attribute not escaped: %q", out)
	}
	if !strings.Contains(out, "&amp;") {
		t.Fatalf("text not escaped: %q", out)
	}
}

func TestMalformedKaraokeFallsBackToSplitting(t *testing.T) {
	m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
	p, err := New(Options{Measurer: m, PageWidth: 400, PageHeight: 300, Log: testLogger(t)})
	if err != nil {
		t.Fatalf("unable to build paginator: %v", err)
	}
	p.registry = content.BuildFootnotes(nil, testLogger(t))
	pages := &[]*Page{}
	st := &chapterState{chapterID: "c1", noteSeen: make(map[string]bool), bgVideo: make(map[int]string), pages: pages}

	el := content.Element{Tag: "div", HTML: `<div class="karaoke" data-karaoke-id="bad" data-timings='{oops'>plain text here</div>`}
	if err := p.routeElement(st, el); err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if err := p.flush(st); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(*pages) != 1 || !strings.Contains((*pages)[0].Content, "plain text here") {
		t.Fatalf("element lost in fallback: %+v", *pages)
	}
}
