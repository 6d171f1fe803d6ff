package paginate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"folio/content"
	"folio/content/text"
	"folio/css"
)

// Split budget margins, subtracted from the page height before any content is
// offered to the measurement surface. Karaoke pages run a reduced reserve:
// the timed text is the page's whole purpose and may sit closer to the
// bottom edge. Render-time paddings live in assemble.go and are a separate
// set on purpose: changing how much a page takes must not silently change
// how it is drawn.
const (
	splitBudgetMargin  = 64.0
	karaokeSplitMargin = 40.0
	headingBandHeight  = 72.0
)

// Options configures a Paginator. Measurer is the only required field.
type Options struct {
	Measurer   Measurer
	Profile    *css.Profile
	Sentences  *text.Splitter
	Hyphenator *text.Hyphenator
	Prober     *content.ImageProber
	PageWidth  int
	PageHeight int
	Log        *zap.Logger
}

// Paginator drives a full pagination run: preprocess, classify, split,
// assemble, post-process.
type Paginator struct {
	m          Measurer
	profile    *css.Profile
	split      *splitter
	hyph       *text.Hyphenator
	prep       *content.Preprocessor
	prober     *content.ImageProber
	registry   *content.Registry
	log        *zap.Logger
	pageWidth  float64
	pageHeight float64
	karaoke    map[string]*karaokeEntry
}

// New builds a Paginator. A missing measurement surface is fatal: no run can
// produce even a partial result without one.
func New(opts Options) (*Paginator, error) {
	if opts.Measurer == nil {
		return nil, ErrMeasurementUnavailable
	}
	if opts.PageWidth <= 0 || opts.PageHeight <= 0 {
		return nil, fmt.Errorf("bad page dimensions %dx%d", opts.PageWidth, opts.PageHeight)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	profile := opts.Profile
	if profile == nil {
		profile = css.DefaultProfile()
	}
	return &Paginator{
		m:          opts.Measurer,
		profile:    profile,
		split:      &splitter{m: opts.Measurer, profile: profile, sentences: opts.Sentences, log: log.Named("split")},
		hyph:       opts.Hyphenator,
		prep:       content.NewPreprocessor(opts.Prober, log),
		prober:     opts.Prober,
		log:        log.Named("paginate"),
		pageWidth:  float64(opts.PageWidth),
		pageHeight: float64(opts.PageHeight),
		karaoke:    make(map[string]*karaokeEntry),
	}, nil
}

// chapterState is the running accumulation for the page being built.
type chapterState struct {
	chapterIndex int
	chapterID    string
	subchapterID string
	curSub       string
	isFirstPage  bool
	isCover      bool
	isEpigraph   bool
	bgImage      string

	elements   []string
	usedHeight float64
	hasHeading bool
	hasKaraoke bool
	noteSeen   map[string]bool
	noteOrder  []string

	pageIndex int
	bgVideo   map[int]string
	pages     *[]*Page
}

func (st *chapterState) hasContent() bool { return len(st.elements) > 0 }

// appendFragment adds a measured fragment to the open page. The first
// fragment stamps the page with the current block's subchapter.
func (st *chapterState) appendFragment(fragment string, height float64) {
	if len(st.elements) == 0 {
		st.subchapterID = st.curSub
	}
	st.elements = append(st.elements, fragment)
	st.usedHeight += height
}

func (st *chapterState) addNote(c string) {
	if c == "" || st.noteSeen[c] {
		return
	}
	st.noteSeen[c] = true
	st.noteOrder = append(st.noteOrder, c)
}

func (st *chapterState) reset() {
	st.elements = nil
	st.usedHeight = 0
	st.hasHeading = false
	st.hasKaraoke = false
	st.isEpigraph = false
	st.noteSeen = make(map[string]bool)
	st.noteOrder = nil
	st.subchapterID = ""
}

// flush closes the open page, if any, and starts a fresh one.
func (p *Paginator) flush(st *chapterState) error {
	pg := p.assemble(st)
	if pg != nil {
		pg.IsEpigraph = st.isEpigraph
		pg.BackgroundImageURL = st.bgImage
		*st.pages = append(*st.pages, pg)
		st.pageIndex++
	}
	st.reset()
	p.m.SetHeadingMode(false)
	return nil
}

// available is the split budget left on the open page.
func (p *Paginator) available(st *chapterState) float64 {
	h := p.pageHeight - splitBudgetMargin - st.usedHeight - p.noteReservation(st)
	if st.hasHeading {
		h -= headingBandHeight
	}
	return h
}

// karaokeBudget is the karaoke variant of available: a reduced bottom
// reserve, so timed text gets more of the page than ordinary content.
func (p *Paginator) karaokeBudget(st *chapterState) float64 {
	h := p.pageHeight - karaokeSplitMargin - st.usedHeight - p.noteReservation(st)
	if st.hasHeading {
		h -= headingBandHeight
	}
	return h
}

// noteReservation is the height the footnote section collected so far will
// occupy on this page.
func (p *Paginator) noteReservation(st *chapterState) float64 {
	notes := st.pageNotes(p.registry)
	if len(notes) == 0 {
		return 0
	}
	return p.footnoteSectionHeight(renderFootnoteSection(notes))
}

// CalculatePages runs a complete pagination over the chapters. Pages are
// returned synchronously; hyphenation is a separate, deferred pass (see
// HyphenatePages). resume may be nil.
func (p *Paginator) CalculatePages(ctx context.Context, chapters []content.Chapter, resume *Position) (*Result, error) {
	ordered := sortChapters(chapters)

	// global footnote numbering follows document order, not page order
	var all []content.Block
	for i := range ordered {
		all = append(all, content.BuildBlocks(&ordered[i])...)
	}
	p.registry = content.BuildFootnotes(all, p.log)

	var pages []*Page
	ordinary := 0
	for i := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch := &ordered[i]
		idx := ordinary
		switch {
		case ch.IsFirstPage:
			idx = ChapterIndexFirstPage
		case ch.IsCover:
			idx = ChapterIndexCover
		default:
			ordinary++
		}
		if err := p.paginateChapter(ctx, ch, idx, &pages); err != nil {
			return nil, fmt.Errorf("chapter %q: %w", ch.ID, err)
		}
	}

	res := &Result{
		Pages:          pages,
		KaraokeSources: make(map[string]*KaraokeSource, len(p.karaoke)),
	}
	for id, e := range p.karaoke {
		res.KaraokeSources[id] = e.src
	}
	p.finalize(res, resume)
	p.log.Info("Pagination finished",
		zap.Int("chapters", len(ordered)),
		zap.Int("pages", len(res.Pages)),
		zap.Int("karaoke", len(res.KaraokeSources)))
	return res, nil
}

// sortChapters puts the first page first, the cover second, then everything
// else by stored order. The input slice stays untouched.
func sortChapters(chapters []content.Chapter) []content.Chapter {
	out := make([]content.Chapter, len(chapters))
	copy(out, chapters)
	sort.SliceStable(out, func(i, j int) bool {
		return chapterRank(&out[i]) < chapterRank(&out[j]) ||
			(chapterRank(&out[i]) == chapterRank(&out[j]) && out[i].Order < out[j].Order)
	})
	return out
}

func chapterRank(ch *content.Chapter) int {
	switch {
	case ch.IsFirstPage:
		return 0
	case ch.IsCover:
		return 1
	default:
		return 2
	}
}

func (p *Paginator) paginateChapter(ctx context.Context, ch *content.Chapter, idx int, pages *[]*Page) error {
	st := &chapterState{
		chapterIndex: idx,
		chapterID:    ch.ID,
		isFirstPage:  ch.IsFirstPage,
		isCover:      ch.IsCover,
		bgImage:      p.coverImage(ch),
		noteSeen:     make(map[string]bool),
		bgVideo:      make(map[int]string),
		pages:        pages,
	}

	blocks := content.BuildBlocks(ch)
	if len(blocks) == 0 {
		// only the special chapters earn an empty page
		if ch.IsFirstPage || ch.IsCover {
			p.emitDedicated(st, func(pg *Page) {})
		} else {
			p.log.Debug("Skipping empty chapter", zap.String("id", ch.ID))
		}
		return nil
	}

	for bi := range blocks {
		if err := p.paginateBlock(ctx, st, &blocks[bi]); err != nil {
			return err
		}
	}
	if err := p.flush(st); err != nil {
		return err
	}
	p.log.Debug("Chapter paginated",
		zap.String("id", ch.ID),
		zap.Int("blocks", len(blocks)),
		zap.Int("pages", st.pageIndex))
	return nil
}

func (p *Paginator) paginateBlock(ctx context.Context, st *chapterState, b *content.Block) error {
	st.curSub = b.SubchapterID

	prep, err := p.prep.Prepare(ctx, b)
	if err != nil {
		return err
	}
	for pos, src := range prep.BackgroundVideo {
		st.bgVideo[pos] = src
	}

	if b.Epigraph != "" {
		if err := p.emitEpigraph(st, b.Epigraph); err != nil {
			return err
		}
	}
	for _, src := range prep.PageVideos {
		if err := p.flush(st); err != nil {
			return err
		}
		p.emitDedicated(st, func(pg *Page) {
			pg.IsVideo = true
			pg.BackgroundVideo = src
		})
	}

	for _, el := range prep.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.routeElement(st, el); err != nil {
			return err
		}
	}
	return nil
}

// emitDedicated appends a standalone page outside the normal accumulation.
// The open page, if any, must have been flushed by the caller.
func (p *Paginator) emitDedicated(st *chapterState, fill func(*Page)) {
	pg := &Page{
		ChapterIndex:       st.chapterIndex,
		ChapterID:          st.chapterID,
		PageIndex:          st.pageIndex,
		IsFirstPage:        st.isFirstPage,
		IsCover:            st.isCover,
		BackgroundImageURL: st.bgImage,
		BottomPadding:      paddingDefault,
	}
	fill(pg)
	*st.pages = append(*st.pages, pg)
	st.pageIndex++
}

// emitEpigraph gives the epigraph its own page before the block content.
func (p *Paginator) emitEpigraph(st *chapterState, epigraph string) error {
	if err := p.flush(st); err != nil {
		return err
	}
	fragment := `<div class="epigraph">` + epigraph + `</div>`
	h, err := p.m.Measure(fragment, p.profile)
	if err != nil {
		return fmt.Errorf("measure epigraph: %w", err)
	}
	st.appendFragment(fragment, h)
	for _, c := range content.Markers(epigraph) {
		st.addNote(c)
	}
	st.isEpigraph = true
	return p.flush(st)
}

func (p *Paginator) routeElement(st *chapterState, el content.Element) error {
	switch Classify(el) {
	case ClassKaraoke:
		entry, err := p.karaokeEntryFor(el)
		if err != nil {
			if errors.Is(err, ErrMalformedKaraoke) {
				p.log.Warn("Malformed karaoke element, paginating as plain text", zap.Error(err))
				return p.routeSplittable(st, el)
			}
			return err
		}
		return p.sliceKaraoke(st, entry)
	case ClassAtomic:
		return p.routeAtomic(st, el)
	default:
		return p.routeSplittable(st, el)
	}
}

// noteHeading flips the heading state of the open page. It only widens the
// reserve, a flushed page resets it.
func (p *Paginator) noteHeading(st *chapterState) {
	st.hasHeading = true
	p.m.SetHeadingMode(true)
}

// routeAtomic places an indivisible element: on the open page when it fits,
// on a fresh page otherwise, and as a standalone oversized page when not even
// a fresh page can hold it. Headings travel this route (they classify
// atomic); a subordinate one flips the heading state before measuring, which
// shrinks the height available to everything after it.
func (p *Paginator) routeAtomic(st *chapterState, el content.Element) error {
	if IsSubordinateHeading(el) {
		p.noteHeading(st)
	}
	h, err := p.m.Measure(el.HTML, p.profile)
	if err != nil {
		return fmt.Errorf("measure atomic element: %w", err)
	}
	if h <= p.available(st)+heightTolerance {
		p.appendElement(st, el.HTML, h)
		return nil
	}
	if st.hasContent() {
		if err := p.flush(st); err != nil {
			return err
		}
		if IsSubordinateHeading(el) {
			p.noteHeading(st)
		}
	}
	oversized := h > p.available(st)+heightTolerance
	p.appendElement(st, el.HTML, h)
	if oversized {
		// does not fit even alone, ship it as its own page
		return p.flush(st)
	}
	return nil
}

// routeSplittable feeds an element through the boundary splitter, flushing
// full pages until the remainder fits.
func (p *Paginator) routeSplittable(st *chapterState, el content.Element) error {
	rest := el.HTML
	for rest != "" {
		out, err := p.split.split(rest, p.available(st))
		if err != nil {
			return err
		}
		if out.First != "" {
			h, err := p.m.Measure(out.First, p.profile)
			if err != nil {
				return fmt.Errorf("measure fragment: %w", err)
			}
			p.appendElement(st, out.First, h)
		}
		if out.Second == "" {
			return nil
		}
		if out.First == "" && !st.hasContent() {
			// nothing fits even on an empty page: take the element whole
			// rather than loop forever
			h, err := p.m.Measure(out.Second, p.profile)
			if err != nil {
				return fmt.Errorf("measure fragment: %w", err)
			}
			p.appendElement(st, out.Second, h)
			return p.flush(st)
		}
		if err := p.flush(st); err != nil {
			return err
		}
		rest = out.Second
	}
	return nil
}

// appendElement records a fragment on the open page along with the footnotes
// its markers pull in.
func (p *Paginator) appendElement(st *chapterState, fragment string, height float64) {
	st.appendFragment(fragment, height)
	for _, c := range content.Markers(fragment) {
		st.addNote(c)
	}
}

var karaokeIDRe = regexp.MustCompile(`\bdata-karaoke-id="([^"]+)"`)

// karaokeEntryFor returns the cached timing source for the element's karaoke
// id, building it on first sight.
func (p *Paginator) karaokeEntryFor(el content.Element) (*karaokeEntry, error) {
	m := karaokeIDRe.FindStringSubmatch(el.HTML)
	if m != nil {
		if e, ok := p.karaoke[m[1]]; ok {
			return e, nil
		}
	}
	entry, err := buildKaraokeSource(el, p.log)
	if err != nil {
		return nil, err
	}
	p.karaoke[entry.src.ID] = entry
	return entry, nil
}

// coverImage resolves a chapter background image, fitting cover art to the
// page when an image prober is wired in.
func (p *Paginator) coverImage(ch *content.Chapter) string {
	if ch.BackgroundImageURL == "" {
		return ""
	}
	if ch.IsCover && p.prober != nil {
		return p.prober.FitCover(ch.BackgroundImageURL, int(p.pageWidth), int(p.pageHeight))
	}
	return ch.BackgroundImageURL
}
