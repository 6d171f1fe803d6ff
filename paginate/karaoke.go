package paginate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"folio/content"
	"folio/content/text"
)

// karaokeMinChars guarantees forward progress: when nothing fits even on an
// empty page this many characters are forced onto it.
const karaokeMinChars = 80

// wordTiming is one entry of the karaoke timing payload, times in
// milliseconds.
type wordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// noteMarker is a footnote marker lifted out of karaoke text, anchored at a
// rune offset of the normalized text.
type noteMarker struct {
	Offset  int
	Content string
}

// karaokeEntry caches everything derived from one karaoke element: the
// timing source plus extracted footnote markers. Built once per id per run.
type karaokeEntry struct {
	src     *KaraokeSource
	markers []noteMarker
}

// buildKaraokeSource parses a karaoke element into a timing source.
// An unparseable timing payload yields ErrMalformedKaraoke so the caller can
// fall back to ordinary splitting.
func buildKaraokeSource(el content.Element, log *zap.Logger) (*karaokeEntry, error) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString(el.HTML); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKaraoke, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: empty element", ErrMalformedKaraoke)
	}
	id := root.SelectAttrValue("data-karaoke-id", "")
	if id == "" {
		return nil, fmt.Errorf("%w: missing karaoke id", ErrMalformedKaraoke)
	}

	var timings []wordTiming
	payload := root.SelectAttrValue("data-timings", "")
	if err := json.Unmarshal([]byte(payload), &timings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKaraoke, err)
	}

	raw := elementText(root)
	stripped, markers := extractNoteMarkers(raw)
	normalized := text.NormalizeApostrophes(stripped)

	tokens := text.Tokenize(normalized)
	ranges := make([]CharRange, 0, len(tokens))
	for _, t := range tokens {
		ranges = append(ranges, CharRange{Start: t.Start, End: t.End})
	}

	src := &KaraokeSource{
		ID:             id,
		NormalizedText: normalized,
		LetterTimings:  make([]*Timing, len([]rune(normalized))),
		WordCharRanges: ranges,
	}
	distributeTimings(src, tokens, timings, log)
	return &karaokeEntry{src: src, markers: markers}, nil
}

// distributeTimings spreads each timing entry's duration evenly across the
// characters of its matched token. Matching uses a single forward-advancing
// cursor: unmatched or out-of-order words simply leave nil timings, there is
// no backtracking.
func distributeTimings(src *KaraokeSource, tokens []text.TokenSpan, timings []wordTiming, log *zap.Logger) {
	cursor := 0
	misses := 0
	for _, tm := range timings {
		want := foldWord(tm.Word)
		if want == "" {
			continue
		}
		found := -1
		for i := cursor; i < len(tokens); i++ {
			if foldWord(tokens[i].Text) == want {
				found = i
				break
			}
		}
		if found < 0 {
			misses++
			continue
		}
		tok := tokens[found]
		n := tok.End - tok.Start
		step := (tm.End - tm.Start) / float64(n)
		for k := 0; k < n; k++ {
			src.LetterTimings[tok.Start+k] = &Timing{
				Start: tm.Start + float64(k)*step,
				End:   tm.Start + float64(k+1)*step,
			}
		}
		cursor = found + 1
	}
	if misses > 0 {
		log.Debug("Karaoke timing words left unmatched", zap.String("id", src.ID), zap.Int("count", misses))
	}
}

// foldWord reduces a word to its letter/digit runs, case folded, apostrophe
// variants normalized away.
func foldWord(w string) string {
	w = text.NormalizeApostrophes(w)
	var b strings.Builder
	for _, t := range text.Tokenize(w) {
		b.WriteString(strings.ToLower(t.Text))
	}
	return b.String()
}

// extractNoteMarkers removes legacy [[note]] markers from plain text and
// records their contents at rune offsets of the remaining text.
func extractNoteMarkers(raw string) (string, []noteMarker) {
	var (
		out     strings.Builder
		markers []noteMarker
		pos     int // rune offset in output
	)
	rest := raw
	for {
		loc := legacyNoteIndex(rest)
		if loc == nil {
			out.WriteString(rest)
			break
		}
		before := rest[:loc[0]]
		out.WriteString(before)
		pos += len([]rune(before))
		markers = append(markers, noteMarker{Offset: pos, Content: strings.TrimSpace(rest[loc[2]:loc[3]])})
		rest = rest[loc[1]:]
	}
	return out.String(), markers
}

func legacyNoteIndex(s string) []int {
	start := strings.Index(s, "[[")
	if start < 0 {
		return nil
	}
	end := strings.Index(s[start:], "]]")
	if end < 0 {
		return nil
	}
	return []int{start, start + end + 2, start + 2, start + end}
}

// sliceKaraoke consumes a karaoke element across as many pages as required.
// Completed pages are flushed, the last (possibly partial) one is left open
// in the running state.
func (p *Paginator) sliceKaraoke(st *chapterState, entry *karaokeEntry) error {
	src := entry.src
	runes := []rune(src.NormalizedText)
	total := len(runes)
	pos := 0

	for pos < total {
		budget := p.karaokeBudget(st)
		end, err := p.fitKaraokeSlice(src, runes, pos, budget)
		if err != nil {
			return err
		}
		if end <= pos {
			if st.hasContent() {
				// retry on a fresh page
				if err := p.flush(st); err != nil {
					return err
				}
				continue
			}
			// empty page and still nothing fits: force minimal progress
			end = min(pos+karaokeMinChars, total)
		}

		fragment := renderKaraokeSlice(src, runes, pos, end, entry.markers)
		h, err := p.m.Measure(fragment, p.profile)
		if err != nil {
			return fmt.Errorf("measure karaoke slice: %w", err)
		}
		st.appendFragment(fragment, h)
		st.hasKaraoke = true
		for _, m := range entry.markers {
			if m.Offset >= pos && m.Offset < end {
				st.addNote(m.Content)
			}
		}

		pos = end
		if pos < total {
			if err := p.flush(st); err != nil {
				return err
			}
		}
	}
	return nil
}

// fitKaraokeSlice bisects over word boundaries for the longest slice
// starting at pos that fits into budget. Returns pos when nothing fits.
func (p *Paginator) fitKaraokeSlice(src *KaraokeSource, runes []rune, pos int, budget float64) (int, error) {
	total := len(runes)
	var cands []int
	for _, r := range src.WordCharRanges {
		if r.End > pos && r.End < total {
			cands = append(cands, r.End)
		}
	}
	cands = append(cands, total)

	best := pos
	lo, hi := 0, len(cands)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		fragment := renderKaraokeSlice(src, runes, pos, cands[mid], nil)
		h, err := p.m.Measure(fragment, p.profile)
		if err != nil {
			return 0, fmt.Errorf("measure karaoke slice: %w", err)
		}
		if h <= budget+heightTolerance {
			best = cands[mid]
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

// renderKaraokeSlice produces the page fragment for characters [start,end).
// Footnote markers anchored inside the range come along as structured
// references for the assembler to number.
func renderKaraokeSlice(src *KaraokeSource, runes []rune, start, end int, markers []noteMarker) string {
	var b strings.Builder
	b.WriteString(`<div class="karaoke" data-karaoke-id="`)
	b.WriteString(src.ID)
	b.WriteString(`" data-start="`)
	b.WriteString(strconv.Itoa(start))
	b.WriteString(`" data-end="`)
	b.WriteString(strconv.Itoa(end))
	b.WriteString(`">`)

	cursor := start
	for _, m := range markers {
		if m.Offset < start || m.Offset >= end {
			continue
		}
		b.WriteString(escapeKaraokeText(string(runes[cursor:m.Offset])))
		b.WriteString(`<span class="footnote" data-note="`)
		b.WriteString(escapeKaraokeAttr(m.Content))
		b.WriteString(`"></span>`)
		cursor = m.Offset
	}
	b.WriteString(escapeKaraokeText(string(runes[cursor:end])))
	b.WriteString(`</div>`)
	return b.String()
}

var (
	karaokeTextEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	karaokeAttrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func escapeKaraokeText(s string) string { return karaokeTextEscaper.Replace(s) }
func escapeKaraokeAttr(s string) string { return karaokeAttrEscaper.Replace(s) }
