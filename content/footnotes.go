package content

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Footnote is a globally numbered note. Numbering happens once per pagination
// run, in first-appearance document order, and identical trimmed content
// always maps to the same number.
type Footnote struct {
	Number    int
	Content   string
	ChapterID string
}

// Registry assigns stable global numbers to footnote markers.
type Registry struct {
	notes     []Footnote
	byContent map[string]int
}

// legacyNoteRe matches inline double-bracket footnote markers: [[note text]].
var legacyNoteRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// structuredNoteRe matches structured footnote references carrying the note
// text in a data attribute.
var structuredNoteRe = regexp.MustCompile(`<(?:span|sup|a)[^>]*\bdata-note="([^"]*)"[^>]*>`)

// structuredNoteElemRe matches the whole reference element, open tag through
// close tag, for rewriting. Markers never nest.
var structuredNoteElemRe = regexp.MustCompile(`<(?:span|sup|a)\b[^>]*\bdata-note="([^"]*)"[^>]*>.*?</(?:span|sup|a)>`)

// BuildFootnotes scans all blocks in document order (not pagination order) and
// numbers every distinct footnote. The trimmed note content is the dedup key.
func BuildFootnotes(blocks []Block, log *zap.Logger) *Registry {
	r := &Registry{byContent: make(map[string]int)}
	for i := range blocks {
		b := &blocks[i]
		for _, src := range []string{b.Epigraph, b.HTML} {
			for _, m := range scanMarkers(src) {
				r.add(m, b.ChapterID)
			}
		}
	}
	if len(r.notes) > 0 {
		log.Debug("Footnote registry built", zap.Int("count", len(r.notes)))
	}
	return r
}

// scanMarkers returns marker contents in order of appearance. Legacy and
// structured markers are collected in a single left-to-right pass so global
// numbering follows the document, whatever markup style is used.
func scanMarkers(html string) []string {
	type hit struct {
		pos     int
		content string
	}
	var hits []hit
	for _, loc := range legacyNoteRe.FindAllStringSubmatchIndex(html, -1) {
		hits = append(hits, hit{pos: loc[0], content: html[loc[2]:loc[3]]})
	}
	for _, loc := range structuredNoteRe.FindAllStringSubmatchIndex(html, -1) {
		hits = append(hits, hit{pos: loc[0], content: unescapeAttr(html[loc[2]:loc[3]])})
	}
	// both scans walk left to right, merge keeps document order
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.content)
	}
	return out
}

func (r *Registry) add(content, chapterID string) {
	key := strings.TrimSpace(content)
	if key == "" {
		return
	}
	if _, ok := r.byContent[key]; ok {
		return
	}
	n := len(r.notes) + 1
	r.byContent[key] = n
	r.notes = append(r.notes, Footnote{Number: n, Content: key, ChapterID: chapterID})
}

// Markers returns the note contents of every footnote marker in the fragment,
// in order of appearance.
func Markers(html string) []string {
	return scanMarkers(html)
}

// RewriteMarkers replaces every footnote marker in the fragment with a
// numbered superscript reference. A marker whose content is unknown to the
// registry renders an asterisk placeholder instead of a number.
func (r *Registry) RewriteMarkers(html string) string {
	html = legacyNoteRe.ReplaceAllStringFunc(html, func(m string) string {
		return r.ref(legacyNoteRe.FindStringSubmatch(m)[1])
	})
	html = structuredNoteElemRe.ReplaceAllStringFunc(html, func(m string) string {
		return r.ref(unescapeAttr(structuredNoteElemRe.FindStringSubmatch(m)[1]))
	})
	return html
}

// ref renders a numbered reference. The original note text rides along in
// data-note so readers can match the reference back to its footnote.
func (r *Registry) ref(content string) string {
	key := escapeAttr(strings.TrimSpace(content))
	n, ok := r.Lookup(content)
	if !ok {
		return `<sup class="footnote-ref" data-note="` + key + `">*</sup>`
	}
	return `<sup class="footnote-ref" data-note="` + key + `" data-footnote="` + strconv.Itoa(n) + `">` + strconv.Itoa(n) + `</sup>`
}

// Lookup resolves trimmed note content to its global number.
func (r *Registry) Lookup(content string) (int, bool) {
	n, ok := r.byContent[strings.TrimSpace(content)]
	return n, ok
}

// Note returns the registered footnote for trimmed content.
func (r *Registry) Note(content string) (Footnote, bool) {
	n, ok := r.byContent[strings.TrimSpace(content)]
	if !ok {
		return Footnote{}, false
	}
	return r.notes[n-1], true
}

// All returns every registered footnote in numbering order.
func (r *Registry) All() []Footnote {
	return r.notes
}

var (
	attrUnescaper = strings.NewReplacer("&quot;", `"`, "&#34;", `"`, "&amp;", "&", "&lt;", "<", "&gt;", ">")
	attrEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func unescapeAttr(s string) string {
	return attrUnescaper.Replace(s)
}

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
