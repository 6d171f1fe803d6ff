package book

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"folio/content"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
}

func TestParseResume(t *testing.T) {
	log := testLogger(t)

	t.Run("well_formed", func(t *testing.T) {
		pos := parseResume("chapter-7:12", log)
		if pos == nil || pos.ChapterID != "chapter-7" || pos.PageIndex != 12 {
			t.Fatalf("unexpected position: %+v", pos)
		}
	})

	t.Run("empty_spec", func(t *testing.T) {
		if pos := parseResume("", log); pos != nil {
			t.Fatalf("expected nil for empty spec, got %+v", pos)
		}
	})

	for _, spec := range []string{"chapter-7", ":12", "chapter:x", "chapter:-1"} {
		t.Run("malformed_"+spec, func(t *testing.T) {
			if pos := parseResume(spec, log); pos != nil {
				t.Fatalf("expected nil for %q, got %+v", spec, pos)
			}
		})
	}
}

func TestBookTitle(t *testing.T) {
	t.Run("first_page_title_wins", func(t *testing.T) {
		chapters := []content.Chapter{
			{ID: "a", Title: "Chapter A"},
			{ID: "front", Title: "The Book", IsFirstPage: true},
		}
		if got := bookTitle(chapters, "fallback"); got != "The Book" {
			t.Fatalf("wrong title: %q", got)
		}
	})

	t.Run("first_nonempty_title_otherwise", func(t *testing.T) {
		chapters := []content.Chapter{
			{ID: "a"},
			{ID: "b", Title: "Chapter B"},
		}
		if got := bookTitle(chapters, "fallback"); got != "Chapter B" {
			t.Fatalf("wrong title: %q", got)
		}
	})

	t.Run("falls_back_to_book_id", func(t *testing.T) {
		if got := bookTitle([]content.Chapter{{ID: "a"}}, "my-book"); got != "my-book" {
			t.Fatalf("wrong title: %q", got)
		}
	})
}
