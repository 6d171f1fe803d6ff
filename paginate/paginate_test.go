package paginate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"folio/content"
	"folio/content/text"
)

func newTestPaginator(t *testing.T, m Measurer, width, height int) *Paginator {
	t.Helper()
	p, err := New(Options{
		Measurer:   m,
		PageWidth:  width,
		PageHeight: height,
		Log:        testLogger(t),
	})
	if err != nil {
		t.Fatalf("unable to build paginator: %v", err)
	}
	return p
}

func TestCalculatePages(t *testing.T) {
	ctx := context.Background()

	t.Run("orders_special_chapters_first", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{
			{ID: "a", Order: 200, HTML: "<p>alpha</p>"},
			{ID: "front", Order: 500, IsFirstPage: true, HTML: "<p>front</p>"},
			{ID: "cov", Order: 300, IsCover: true, HTML: "<p>cover</p>", BackgroundImageURL: "img/c.jpg"},
			{ID: "b", Order: 100, HTML: "<p>beta</p>"},
		}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 4 {
			t.Fatalf("expected 4 pages, got %d", len(res.Pages))
		}

		wantIDs := []string{"front", "cov", "b", "a"}
		wantIdx := []int{ChapterIndexFirstPage, ChapterIndexCover, 0, 1}
		for i, pg := range res.Pages {
			if pg.ChapterID != wantIDs[i] || pg.ChapterIndex != wantIdx[i] {
				t.Fatalf("page %d is %s/%d, expected %s/%d", i, pg.ChapterID, pg.ChapterIndex, wantIDs[i], wantIdx[i])
			}
		}

		// totals are per chapter; specials carry none
		for _, pg := range res.Pages {
			want := 1
			if pg.IsFirstPage || pg.IsCover {
				want = 0
			}
			if pg.TotalPages != want {
				t.Fatalf("page %s has totalPages %d, expected %d", pg.ChapterID, pg.TotalPages, want)
			}
		}

		if res.Pages[1].BackgroundImageURL != "img/c.jpg" {
			t.Fatalf("cover lost its background: %+v", res.Pages[1])
		}
		if res.Position.ChapterID != "front" || res.Position.PageIndex != 0 {
			t.Fatalf("default position should be the first page, got %+v", res.Position)
		}
	})

	t.Run("splittable_content_flows_across_pages", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 10, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 150)
		body := "<p>" + strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet ", 8)) + "</p>"
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: body}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) < 2 {
			t.Fatalf("expected content to spill over, got %d pages", len(res.Pages))
		}
		var parts []string
		for i, pg := range res.Pages {
			if pg.PageIndex != i || pg.ChapterIndex != 0 {
				t.Fatalf("page %d has index %d/%d", i, pg.ChapterIndex, pg.PageIndex)
			}
			if pg.TotalPages != len(res.Pages) {
				t.Fatalf("page %d has totalPages %d, expected %d", i, pg.TotalPages, len(res.Pages))
			}
			parts = append(parts, pg.Content)
		}
		if got, want := joinedWords(t, parts...), joinedWords(t, body); got != want {
			t.Fatalf("text dropped while paging:\n%q\n%q", got, want)
		}
	})

	t.Run("epigraph_gets_its_own_page", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: "<p>body</p>", Epigraph: "words to live by"}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 2 {
			t.Fatalf("expected epigraph page plus body page, got %d", len(res.Pages))
		}
		if !res.Pages[0].IsEpigraph || !strings.Contains(res.Pages[0].Content, `class="epigraph"`) {
			t.Fatalf("first page is not the epigraph: %+v", res.Pages[0])
		}
		if res.Pages[1].IsEpigraph || !strings.Contains(res.Pages[1].Content, "body") {
			t.Fatalf("second page is not the body: %+v", res.Pages[1])
		}
	})

	t.Run("footnotes_collected_per_page", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: "<p>claim [[supporting source]] made</p>"}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 {
			t.Fatalf("expected a single page, got %d", len(res.Pages))
		}
		pg := res.Pages[0]
		if len(pg.Footnotes) != 1 || pg.Footnotes[0].Number != 1 || pg.Footnotes[0].Content != "supporting source" {
			t.Fatalf("unexpected footnotes: %+v", pg.Footnotes)
		}
		if !strings.Contains(pg.Content, `<sup class="footnote-ref" data-note="supporting source" data-footnote="1">1</sup>`) {
			t.Fatalf("marker not rewritten: %q", pg.Content)
		}
		if !strings.Contains(pg.Content, `<aside class="footnotes">`) {
			t.Fatalf("footnote section missing: %q", pg.Content)
		}
		if pg.BottomPadding <= 0 {
			t.Fatalf("footnote section height not reserved: %+v", pg)
		}
	})

	t.Run("oversized_atomic_ships_standalone", func(t *testing.T) {
		// every element measures a full page on its own
		m := &fakeMeasurer{lineChars: 10, lineHeight: 200}
		p := newTestPaginator(t, m, 400, 200)
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: "<hr/><hr/>"}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 2 {
			t.Fatalf("expected one page per rule, got %d", len(res.Pages))
		}
		for i, pg := range res.Pages {
			if !strings.Contains(pg.Content, "<hr") {
				t.Fatalf("page %d lost its element: %q", i, pg.Content)
			}
		}
	})

	t.Run("subordinate_heading_marks_page", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: "<h2>Part One</h2><p>text</p>"}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 || !res.Pages[0].HasHeading {
			t.Fatalf("heading not recorded: %+v", res.Pages)
		}
	})

	t.Run("chapter_title_heading_does_not_mark_page", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{{ID: "c1", Order: 100, HTML: "<h1>Book Title</h1><p>text</p>"}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 || res.Pages[0].HasHeading {
			t.Fatalf("chapter title should not flip heading state: %+v", res.Pages)
		}
	})

	t.Run("empty_first_page_chapter_yields_one_blank_page", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{{ID: "front", Order: 100, IsFirstPage: true}}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 {
			t.Fatalf("expected exactly one page, got %d", len(res.Pages))
		}
		pg := res.Pages[0]
		if !pg.IsFirstPage || pg.PageIndex != 0 || pg.ChapterIndex != ChapterIndexFirstPage || pg.Content != "" {
			t.Fatalf("unexpected blank first page: %+v", pg)
		}
	})

	t.Run("empty_chapter_skipped_empty_cover_kept", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{
			{ID: "empty", Order: 100, HTML: "   "},
			{ID: "cov", Order: 200, IsCover: true, BackgroundImageURL: "x.png"},
		}

		res, err := p.CalculatePages(ctx, chapters, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 {
			t.Fatalf("expected only the dedicated cover page, got %d", len(res.Pages))
		}
		pg := res.Pages[0]
		if !pg.IsCover || pg.BackgroundImageURL != "x.png" {
			t.Fatalf("unexpected cover page: %+v", pg)
		}
		if res.Position.ChapterID != "cov" {
			t.Fatalf("position should fall back to the cover, got %+v", res.Position)
		}
	})

	t.Run("resume_position_honored_when_it_exists", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{
			{ID: "b", Order: 100, HTML: "<p>one</p>"},
			{ID: "a", Order: 200, HTML: "<p>two</p>"},
		}

		res, err := p.CalculatePages(ctx, chapters, &Position{ChapterID: "a", PageIndex: 0})
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if res.Position != (Position{ChapterID: "a", PageIndex: 0}) {
			t.Fatalf("stored position dropped: %+v", res.Position)
		}
	})

	t.Run("stale_resume_falls_back_to_beginning", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		chapters := []content.Chapter{
			{ID: "b", Order: 100, HTML: "<p>one</p>"},
			{ID: "a", Order: 200, HTML: "<p>two</p>"},
		}

		res, err := p.CalculatePages(ctx, chapters, &Position{ChapterID: "gone", PageIndex: 7})
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if res.Position != (Position{ChapterID: "b", PageIndex: 0}) {
			t.Fatalf("expected fallback to the first ordinary page, got %+v", res.Position)
		}
	})

	t.Run("canceled_context_stops_the_run", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := p.CalculatePages(canceled, []content.Chapter{{ID: "c", Order: 100, HTML: "<p>x</p>"}}, nil); err == nil {
			t.Fatal("expected context error")
		}
	})
}

func TestBottomReservations(t *testing.T) {
	ctx := context.Background()

	paddingFor := func(t *testing.T, ch content.Chapter) float64 {
		t.Helper()
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		res, err := p.CalculatePages(ctx, []content.Chapter{ch}, nil)
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		if len(res.Pages) != 1 {
			t.Fatalf("expected a single page, got %d", len(res.Pages))
		}
		return res.Pages[0].BottomPadding
	}

	t.Run("first_page_and_karaoke_sit_lower_than_default", func(t *testing.T) {
		ordinary := paddingFor(t, content.Chapter{ID: "c", Order: 100, HTML: "<p>text</p>"})
		first := paddingFor(t, content.Chapter{ID: "front", Order: 100, IsFirstPage: true, HTML: "<p>text</p>"})
		karaoke := paddingFor(t, content.Chapter{ID: "k", Order: 100,
			HTML: `<div class="karaoke" data-karaoke-id="k1" data-timings='[]'>timed text</div>`})

		if first >= ordinary {
			t.Fatalf("first page padding %v should be below the default %v", first, ordinary)
		}
		if karaoke >= ordinary {
			t.Fatalf("karaoke padding %v should be below the default %v", karaoke, ordinary)
		}
	})

	t.Run("karaoke_budget_exceeds_standard_budget", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		p.registry = content.BuildFootnotes(nil, testLogger(t))
		st := &chapterState{noteSeen: make(map[string]bool)}

		if k, a := p.karaokeBudget(st), p.available(st); k <= a {
			t.Fatalf("karaoke budget %v should exceed the standard budget %v", k, a)
		}
	})
}

func TestFixPageOrder(t *testing.T) {
	pages := []*Page{
		{ChapterIndex: 1, PageIndex: 0, ChapterID: "a"},
		{ChapterIndex: ChapterIndexCover, PageIndex: 0, ChapterID: "cov"},
		{ChapterIndex: 0, PageIndex: 1, ChapterID: "b"},
		{ChapterIndex: 0, PageIndex: 0, ChapterID: "b"},
		{ChapterIndex: ChapterIndexFirstPage, PageIndex: 0, ChapterID: "front"},
	}
	fixPageOrder(pages)

	want := []struct {
		chapter int
		page    int
	}{
		{ChapterIndexFirstPage, 0},
		{ChapterIndexCover, 0},
		{0, 0},
		{0, 1},
		{1, 0},
	}
	for i, pg := range pages {
		if pg.ChapterIndex != want[i].chapter || pg.PageIndex != want[i].page {
			t.Fatalf("page %d is %d/%d, expected %d/%d", i, pg.ChapterIndex, pg.PageIndex, want[i].chapter, want[i].page)
		}
	}
}

// a minimal pattern set hyphenating before every inner "na"
const hyphenTestPatterns = "1na\n"

func writeHyphenDictionary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pat")
	if err := os.WriteFile(path, []byte(hyphenTestPatterns), 0644); err != nil {
		t.Fatalf("unable to write patterns: %v", err)
	}
	return path
}

func TestHyphenatePages(t *testing.T) {
	newHyphenatingPaginator := func(t *testing.T) *Paginator {
		t.Helper()
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p, err := New(Options{
			Measurer:   m,
			Hyphenator: text.NewHyphenator(writeHyphenDictionary(t), testLogger(t)),
			PageWidth:  400,
			PageHeight: 300,
			Log:        testLogger(t),
		})
		if err != nil {
			t.Fatalf("unable to build paginator: %v", err)
		}
		return p
	}

	t.Run("inserts_soft_hyphens_outside_karaoke", func(t *testing.T) {
		p := newHyphenatingPaginator(t)
		res := &Result{Pages: []*Page{{
			Content: "<p>banana</p>\n" + `<div class="karaoke" data-karaoke-id="k" data-start="0" data-end="6">banana</div>`,
		}}}

		p.HyphenatePages(res)

		got := res.Pages[0].Content
		if !strings.Contains(got, text.SoftHyphen) {
			t.Fatalf("no soft hyphens inserted: %q", got)
		}
		if !strings.Contains(got, ">banana</div>") {
			t.Fatalf("karaoke slice text shifted: %q", got)
		}
	})

	t.Run("cover_epigraph_and_video_pages_left_alone", func(t *testing.T) {
		p := newHyphenatingPaginator(t)
		res := &Result{Pages: []*Page{
			{IsCover: true, Content: "<p>banana</p>"},
			{IsEpigraph: true, Content: "<p>banana</p>"},
			{IsVideo: true, Content: "<p>banana</p>"},
		}}

		p.HyphenatePages(res)

		for i, pg := range res.Pages {
			if strings.Contains(pg.Content, text.SoftHyphen) {
				t.Fatalf("page %d should be untouched: %q", i, pg.Content)
			}
		}
	})

	t.Run("second_pass_changes_nothing", func(t *testing.T) {
		p := newHyphenatingPaginator(t)
		res := &Result{Pages: []*Page{{Content: "<p>banana</p>"}}}

		p.HyphenatePages(res)
		once := res.Pages[0].Content
		p.HyphenatePages(res)
		if res.Pages[0].Content != once {
			t.Fatalf("pass is not idempotent:\n%q\n%q", once, res.Pages[0].Content)
		}
	})

	t.Run("nil_hyphenator_is_noop", func(t *testing.T) {
		m := &fakeMeasurer{lineChars: 100, lineHeight: 10}
		p := newTestPaginator(t, m, 400, 300)
		res := &Result{Pages: []*Page{{Content: "<p>banana</p>"}}}

		p.HyphenatePages(res)
		if res.Pages[0].Content != "<p>banana</p>" {
			t.Fatalf("content modified without a hyphenator: %q", res.Pages[0].Content)
		}
	})
}
