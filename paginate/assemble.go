package paginate

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"folio/content"
)

// Render-time bottom reservations, applied when a page carries no footnote
// section. A standalone first page and a karaoke page each keep a smaller
// reservation than the ordinary default. These are distinct from the split
// budget margins in paginate.go: the splitter decides how much text a page
// takes, these decide how it sits.
const (
	paddingDefault   = 96.0
	paddingFirstPage = 48.0
	paddingKaraoke   = 64.0
)

// emptyParagraphRe matches a paragraph carrying no visible content.
var emptyParagraphRe = regexp.MustCompile(`^\s*<p[^>]*>(?:\s|&nbsp;|<br\s*/?>)*</p>`)

// assemble turns the accumulated state into a finished page, or nil when the
// state holds no content.
func (p *Paginator) assemble(st *chapterState) *Page {
	if len(st.elements) == 0 {
		return nil
	}

	body := strings.Join(st.elements, "\n")
	body = p.registry.RewriteMarkers(body)

	if st.isFirstPage {
		body = stripLeadingEmptyParagraphs(body, p.emptyParagraphCap())
	}

	pg := &Page{
		ChapterIndex: st.chapterIndex,
		ChapterID:    st.chapterID,
		SubchapterID: st.subchapterID,
		PageIndex:    st.pageIndex,
		HasHeading:   st.hasHeading,
		IsFirstPage:  st.isFirstPage,
		IsCover:      st.isCover,
	}

	if notes := st.pageNotes(p.registry); len(notes) > 0 {
		section := renderFootnoteSection(notes)
		pg.Footnotes = notes
		pg.BottomPadding = p.footnoteSectionHeight(section)
		body += "\n" + section
	} else {
		switch {
		case st.hasKaraoke:
			pg.BottomPadding = paddingKaraoke
		case st.isFirstPage:
			pg.BottomPadding = paddingFirstPage
		default:
			pg.BottomPadding = paddingDefault
		}
	}
	pg.Content = body

	if src, ok := st.bgVideo[st.pageIndex+1]; ok {
		pg.BackgroundVideo = src
	}
	return pg
}

// pageNotes resolves the note contents collected on this page to registered
// footnotes, in the order their markers appeared.
func (st *chapterState) pageNotes(r *content.Registry) []content.Footnote {
	var notes []content.Footnote
	for _, c := range st.noteOrder {
		if fn, ok := r.Note(c); ok {
			notes = append(notes, fn)
		}
	}
	return notes
}

// renderFootnoteSection produces the note list pinned to the page bottom.
func renderFootnoteSection(notes []content.Footnote) string {
	var b strings.Builder
	b.WriteString(`<aside class="footnotes"><ol>`)
	for _, n := range notes {
		b.WriteString(`<li value="`)
		b.WriteString(strconv.Itoa(n.Number))
		b.WriteString(`">`)
		b.WriteString(escapeKaraokeText(n.Content))
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ol></aside>`)
	return b.String()
}

// footnoteSectionHeight measures the rendered section so the reader can
// reserve exactly that much space. Falls back to the default padding when the
// measurement surface refuses the fragment.
func (p *Paginator) footnoteSectionHeight(section string) float64 {
	h, err := p.m.Measure(section, p.profile)
	if err != nil {
		p.log.Warn("Footnote section measurement failed, using default padding", zap.Error(err))
		return paddingDefault
	}
	return h
}

// stripLeadingEmptyParagraphs drops blank paragraphs from the top of a
// standalone first page, at most maxStrip of them.
func stripLeadingEmptyParagraphs(body string, maxStrip int) string {
	for i := 0; i < maxStrip; i++ {
		loc := emptyParagraphRe.FindStringIndex(body)
		if loc == nil {
			break
		}
		body = strings.TrimLeft(body[loc[1]:], " \t\r\n")
	}
	return body
}

// emptyParagraphCap scales the strip limit with the page: tall viewports
// tolerate a few more blanks before the content visibly sinks.
func (p *Paginator) emptyParagraphCap() int {
	return int(p.pageHeight/300) + 1
}
