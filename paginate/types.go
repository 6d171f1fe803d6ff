// Package paginate splits book chapters into viewport sized pages by
// repeatedly measuring candidate fragments on an external layout surface.
package paginate

import (
	"errors"

	"folio/content"
)

// Special chapter indices. A first page (when present) sorts before
// everything else, a cover right after it.
const (
	ChapterIndexFirstPage = -2
	ChapterIndexCover     = -1
)

// Page is one finished viewport sized unit of content.
type Page struct {
	ChapterIndex int    `json:"chapterIndex"`
	ChapterID    string `json:"chapterId"`
	SubchapterID string `json:"subchapterId,omitempty"`
	// PageIndex is 0-based and scoped to the page's chapter.
	PageIndex  int                `json:"pageIndex"`
	HasHeading bool               `json:"hasHeading"`
	Content    string             `json:"content"`
	Footnotes  []content.Footnote `json:"footnotes,omitempty"`
	// TotalPages is filled by the post-processor for ordinary pages only.
	TotalPages int `json:"totalPages,omitempty"`

	IsFirstPage bool `json:"isFirstPage,omitempty"`
	IsCover     bool `json:"isCover,omitempty"`
	IsEpigraph  bool `json:"isEpigraph,omitempty"`
	IsVideo     bool `json:"isVideo,omitempty"`

	BackgroundVideo    string `json:"backgroundVideo,omitempty"`
	BackgroundImageURL string `json:"backgroundImageUrl,omitempty"`

	// BottomPadding is the render-time reservation below the content, either
	// the measured footnote section height or a fixed margin.
	BottomPadding float64 `json:"bottomPadding"`

	hyphenated bool
}

// Timing is one character highlight interval in milliseconds.
type Timing struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// CharRange is a half-open rune offset range.
type CharRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// KaraokeSource holds per-character timing for one audio synced text. It is
// built once per karaoke id per pagination run and shared by all its slices.
// LetterTimings has exactly one entry per rune of NormalizedText, nil where
// timing data never matched.
type KaraokeSource struct {
	ID             string      `json:"id"`
	NormalizedText string      `json:"normalizedText"`
	LetterTimings  []*Timing   `json:"letterTimings"`
	WordCharRanges []CharRange `json:"wordCharRanges"`
}

// Position identifies a page for resume purposes.
type Position struct {
	ChapterID string `json:"chapterId"`
	PageIndex int    `json:"pageIndex"`
}

// Result is a complete pagination run output. Pages are delivered
// synchronously; the deferred hyphenation pass updates their content in
// place afterwards.
type Result struct {
	Pages          []*Page                   `json:"pages"`
	KaraokeSources map[string]*KaraokeSource `json:"karaokeSources"`
	Position       Position                  `json:"position"`
}

// ErrMeasurementUnavailable is fatal for a pagination run: without a working
// measurement surface no partial result is produced.
var ErrMeasurementUnavailable = errors.New("measurement surface unavailable")

// ErrMalformedKaraoke marks an unparseable karaoke timing payload. The
// element is paginated as ordinary splittable content instead.
var ErrMalformedKaraoke = errors.New("malformed karaoke timing data")
