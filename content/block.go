// Package content builds ordered layout blocks from stored chapters and
// prepares their markup for measurement driven pagination.
package content

import "strings"

// Chapter is the pagination input: one stored chapter with its subchapters,
// already ordered.
type Chapter struct {
	ID                 string
	Title              string
	Order              int64
	HTML               string
	Epigraph           string
	IsFirstPage        bool
	IsCover            bool
	IncludeTitle       bool
	BackgroundImageURL string
	Subchapters        []Subchapter
}

// Subchapter is a nested content unit inside a chapter.
type Subchapter struct {
	ID       string
	Title    string
	Order    int64
	HTML     string
	Epigraph string
}

// BlockType distinguishes chapter level blocks from subchapter ones.
type BlockType int

const (
	BlockChapter BlockType = iota
	BlockSubchapter
)

// Block is one chapter's or subchapter's content treated as a layout unit.
type Block struct {
	Type                BlockType
	Title               string
	HTML                string
	Epigraph            string
	ChapterID           string
	SubchapterID        string
	IncludeChapterTitle bool
}

// BuildBlocks returns blocks for a chapter in canonical order: the chapter's
// own content first, then each subchapter. Blocks without content are
// dropped.
func BuildBlocks(ch *Chapter) []Block {
	var out []Block
	if strings.TrimSpace(ch.HTML) != "" {
		out = append(out, Block{
			Type:                BlockChapter,
			Title:               ch.Title,
			HTML:                ch.HTML,
			Epigraph:            ch.Epigraph,
			ChapterID:           ch.ID,
			IncludeChapterTitle: ch.IncludeTitle,
		})
	}
	for i := range ch.Subchapters {
		sub := &ch.Subchapters[i]
		if strings.TrimSpace(sub.HTML) == "" {
			continue
		}
		out = append(out, Block{
			Type:         BlockSubchapter,
			Title:        sub.Title,
			HTML:         sub.HTML,
			Epigraph:     sub.Epigraph,
			ChapterID:    ch.ID,
			SubchapterID: sub.ID,
		})
	}
	return out
}
