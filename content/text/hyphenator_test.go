package text

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// a minimal pattern set: "1na" hyphenates before every "na" that is not at a
// word edge
const testPatterns = `
% comment line to be skipped
1na
`

func writeTestDictionary(t *testing.T, patterns, exceptions string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pat")
	if err := os.WriteFile(path, []byte(patterns), 0644); err != nil {
		t.Fatalf("unable to write patterns: %v", err)
	}
	if exceptions != "" {
		if err := os.WriteFile(filepath.Join(dir, "test.hyp"), []byte(exceptions), 0644); err != nil {
			t.Fatalf("unable to write exceptions: %v", err)
		}
	}
	return path
}

func TestHyphenate(t *testing.T) {
	log := zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))

	t.Run("nil_hyphenator_passthrough", func(t *testing.T) {
		var h *Hyphenator
		if got := h.Hyphenate("banana"); got != "banana" {
			t.Fatalf("nil hyphenator modified text: %q", got)
		}
	})

	t.Run("missing_dictionary_turns_off", func(t *testing.T) {
		if h := NewHyphenator(filepath.Join(t.TempDir(), "missing.pat"), log); h != nil {
			t.Fatal("expected nil hyphenator for missing dictionary")
		}
	})

	t.Run("empty_path_turns_off", func(t *testing.T) {
		if h := NewHyphenator("", log); h != nil {
			t.Fatal("expected nil hyphenator for empty path")
		}
	})

	t.Run("inserts_soft_hyphens", func(t *testing.T) {
		h := NewHyphenator(writeTestDictionary(t, testPatterns, ""), log)
		if h == nil {
			t.Fatal("unable to build hyphenator")
		}
		got := h.Hyphenate("banana")
		if !strings.Contains(got, SoftHyphen) {
			t.Fatalf("no soft hyphen inserted: %q", got)
		}
		if strings.ReplaceAll(got, SoftHyphen, "") != "banana" {
			t.Fatalf("hyphenation changed the word: %q", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		h := NewHyphenator(writeTestDictionary(t, testPatterns, ""), log)
		if h == nil {
			t.Fatal("unable to build hyphenator")
		}
		once := h.Hyphenate("banana")
		twice := h.Hyphenate(once)
		if once != twice {
			t.Fatalf("second pass changed text: %q vs %q", once, twice)
		}
	})

	t.Run("exceptions_win_over_patterns", func(t *testing.T) {
		h := NewHyphenator(writeTestDictionary(t, testPatterns, "ba-nana\n"), log)
		if h == nil {
			t.Fatal("unable to build hyphenator")
		}
		got := h.Hyphenate("banana")
		if got != "ba"+SoftHyphen+"nana" {
			t.Fatalf("exception not applied: %q", got)
		}
	})

	t.Run("non_word_text_untouched", func(t *testing.T) {
		h := NewHyphenator(writeTestDictionary(t, testPatterns, ""), log)
		if h == nil {
			t.Fatal("unable to build hyphenator")
		}
		if got := h.Hyphenate("12 + 34"); got != "12 + 34" {
			t.Fatalf("non-word text modified: %q", got)
		}
	})
}
