package paginate

import (
	"sort"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// finalize repairs page order, fills per-chapter page totals and resolves the
// resume position. It runs once at the end of every pagination run.
func (p *Paginator) finalize(res *Result, resume *Position) {
	fixPageOrder(res.Pages)

	totals := make(map[int]int)
	for _, pg := range res.Pages {
		if !pg.IsFirstPage && !pg.IsCover {
			totals[pg.ChapterIndex]++
		}
	}
	for _, pg := range res.Pages {
		if !pg.IsFirstPage && !pg.IsCover {
			pg.TotalPages = totals[pg.ChapterIndex]
		}
	}

	res.Position = p.resolveResume(res.Pages, resume)
}

// fixPageOrder relocates pages violating the ordering invariant (first page,
// cover, then chapters ascending, page index ascending within each). Pages
// are moved, never rebuilt, so a stable sort preserves everything else.
func fixPageOrder(pages []*Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].ChapterIndex != pages[j].ChapterIndex {
			return pages[i].ChapterIndex < pages[j].ChapterIndex
		}
		return pages[i].PageIndex < pages[j].PageIndex
	})
}

// resolveResume finds the page to reopen the book at: the exact stored
// position when it still exists, otherwise the first page, otherwise the
// cover, otherwise the very beginning.
func (p *Paginator) resolveResume(pages []*Page, resume *Position) Position {
	if len(pages) == 0 {
		return Position{}
	}
	if resume != nil {
		for _, pg := range pages {
			if pg.ChapterID == resume.ChapterID && pg.PageIndex == resume.PageIndex {
				return *resume
			}
		}
		p.log.Debug("Stored resume position no longer exists",
			zap.String("chapter", resume.ChapterID), zap.Int("page", resume.PageIndex))
	}
	for _, pg := range pages {
		if pg.IsFirstPage {
			return Position{ChapterID: pg.ChapterID, PageIndex: pg.PageIndex}
		}
	}
	for _, pg := range pages {
		if pg.IsCover {
			return Position{ChapterID: pg.ChapterID, PageIndex: pg.PageIndex}
		}
	}
	return Position{ChapterID: pages[0].ChapterID, PageIndex: pages[0].PageIndex}
}

// HyphenatePages inserts soft hyphens into page text as a deferred pass, so
// readers get pages before the dictionary work finishes. The pass is
// idempotent and commits nothing when the result drifted under it.
func (p *Paginator) HyphenatePages(res *Result) {
	if p.hyph == nil || res == nil {
		return
	}

	type key struct{ chapter, page int }
	snapshot := make([]key, len(res.Pages))
	for i, pg := range res.Pages {
		snapshot[i] = key{pg.ChapterIndex, pg.PageIndex}
	}

	rewritten := make(map[int]string)
	for i, pg := range res.Pages {
		if pg.IsCover || pg.IsEpigraph || pg.IsVideo || pg.hyphenated {
			continue
		}
		out, ok := p.hyphenateContent(pg.Content)
		if ok {
			rewritten[i] = out
		}
	}

	// the run may have been re-paginated while we worked; never commit
	// hyphens onto pages we did not read
	if len(res.Pages) != len(snapshot) {
		p.log.Warn("Page set changed during hyphenation, discarding pass")
		return
	}
	for i, pg := range res.Pages {
		if snapshot[i] != (key{pg.ChapterIndex, pg.PageIndex}) {
			p.log.Warn("Page order changed during hyphenation, discarding pass")
			return
		}
	}

	for i, out := range rewritten {
		res.Pages[i].Content = out
	}
	for _, pg := range res.Pages {
		if pg.IsCover || pg.IsEpigraph || pg.IsVideo {
			continue
		}
		pg.hyphenated = true
	}
}

// hyphenateContent rewrites every text node of the page markup, leaving
// karaoke slices alone: their timings index characters and must not shift.
func (p *Paginator) hyphenateContent(html string) (string, bool) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString("<root>" + html + "</root>"); err != nil {
		p.log.Debug("Skipping unparseable page during hyphenation", zap.Error(err))
		return "", false
	}
	root := doc.Root()
	if root == nil {
		return "", false
	}

	changed := false
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		if isKaraokeElement(el) {
			return
		}
		for _, tok := range el.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				if out := p.hyph.Hyphenate(t.Data); out != t.Data {
					t.Data = out
					changed = true
				}
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(root)
	if !changed {
		return "", false
	}

	var b strings.Builder
	for _, child := range root.ChildElements() {
		part := etree.NewDocument()
		part.WriteSettings = etree.WriteSettings{CanonicalText: true, CanonicalAttrVal: true}
		part.SetRoot(child.Copy())
		s, err := part.WriteToString()
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(s))
	}
	return b.String(), true
}

func isKaraokeElement(el *etree.Element) bool {
	for _, c := range strings.Fields(el.SelectAttrValue("class", "")) {
		if c == "karaoke" {
			return true
		}
	}
	return el.SelectAttr("data-karaoke-id") != nil
}
