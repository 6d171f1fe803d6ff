package content

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is one top-level content unit of a prepared block, ready for
// classification and measurement.
type Element struct {
	Tag  string
	HTML string
}

// Prepared is the preprocessor output for a single block.
type Prepared struct {
	Elements []Element
	// BackgroundVideo maps a 1-indexed page position within the block's
	// chapter to a video source. These videos never occupy content flow.
	BackgroundVideo map[int]string
	// PageVideos are blank-page-mode videos, each producing a dedicated page.
	PageVideos []string
}

// Preprocessor normalizes per-block markup into ordered elements: well-formed
// XHTML, punctuation cleanup, resolved image dimensions, extracted videos.
type Preprocessor struct {
	prober *ImageProber
	log    *zap.Logger
}

func NewPreprocessor(prober *ImageProber, log *zap.Logger) *Preprocessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preprocessor{prober: prober, log: log.Named("preprocess")}
}

// Prepare normalizes one block. Image probing may block on IO and suspends
// the whole pagination run, honoring ctx.
func (p *Preprocessor) Prepare(ctx context.Context, block *Block) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	wrapped := "<root>" + normalizeHTML(block.HTML) + "</root>"
	if err := doc.ReadFromString(wrapped); err != nil {
		return nil, fmt.Errorf("unable to parse block markup: %w", err)
	}
	root := doc.Root()

	prep := &Prepared{BackgroundVideo: make(map[int]string)}

	p.extractVideos(root, prep)
	normalizePunctuation(root)
	if p.prober != nil {
		if err := p.prober.ProbeAll(ctx, doc); err != nil {
			return nil, err
		}
	}

	// block titles become heading elements so pagination sees them in flow
	var headings []Element
	if block.Type == BlockChapter && block.IncludeChapterTitle && strings.TrimSpace(block.Title) != "" {
		headings = append(headings, Element{Tag: "h1", HTML: "<h1>" + escapeText(block.Title) + "</h1>"})
	}
	if block.Type == BlockSubchapter && strings.TrimSpace(block.Title) != "" {
		headings = append(headings, Element{Tag: "h2", HTML: "<h2>" + escapeText(block.Title) + "</h2>"})
	}
	prep.Elements = append(prep.Elements, headings...)

	for _, tok := range root.Child {
		switch t := tok.(type) {
		case *etree.Element:
			h, err := serializeElement(t)
			if err != nil {
				return nil, err
			}
			prep.Elements = append(prep.Elements, Element{Tag: t.Tag, HTML: h})
		case *etree.CharData:
			// stray top-level text becomes a paragraph
			if txt := strings.TrimSpace(t.Data); txt != "" {
				prep.Elements = append(prep.Elements, Element{Tag: "p", HTML: "<p>" + escapeText(txt) + "</p>"})
			}
		}
	}
	return prep, nil
}

// extractVideos removes background-mode and blank-page-mode videos from the
// content flow before classification.
func (p *Preprocessor) extractVideos(root *etree.Element, prep *Prepared) {
	for _, v := range root.FindElements("//video") {
		mode := v.SelectAttrValue("data-mode", "")
		if mode != "background" && mode != "page" {
			continue
		}
		src := v.SelectAttrValue("src", "")
		if src == "" {
			if s := v.FindElement("source"); s != nil {
				src = s.SelectAttrValue("src", "")
			}
		}
		switch mode {
		case "background":
			pos, err := strconv.Atoi(v.SelectAttrValue("data-page", ""))
			if err != nil || pos < 1 {
				p.log.Warn("Background video without valid page position, dropping", zap.String("src", src))
			} else if src != "" {
				prep.BackgroundVideo[pos] = src
			}
		case "page":
			if src != "" {
				prep.PageVideos = append(prep.PageVideos, src)
			}
		}
		if parent := v.Parent(); parent != nil {
			parent.RemoveChild(v)
		}
	}
}

var (
	ellipsisReplacer = strings.NewReplacer("...", "…", "--", "—")
)

func normalizePunctuation(el *etree.Element) {
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			t.Data = ellipsisReplacer.Replace(t.Data)
		case *etree.Element:
			normalizePunctuation(t)
		}
	}
}

// voidTagRe closes HTML void elements so the markup parses as XML.
var voidTagRe = regexp.MustCompile(`<(img|br|hr|source|wbr|input|col|embed)((?:[^>"]|"[^"]*")*?)\s*/?>`)

// normalizeHTML runs raw chapter markup through the HTML5 parser and
// serializes it back, fixing unclosed tags and stray markup the permissive
// way a browser would.
func normalizeHTML(src string) string {
	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), bodyCtx)
	if err != nil {
		// keep original, etree permissive parse is the next line of defense
		return voidTagRe.ReplaceAllString(src, "<$1$2/>")
	}
	var b strings.Builder
	for _, n := range nodes {
		_ = html.Render(&b, n)
	}
	return voidTagRe.ReplaceAllString(b.String(), "<$1$2/>")
}

func serializeElement(el *etree.Element) (string, error) {
	d := etree.NewDocument()
	d.SetRoot(el.Copy())
	d.WriteSettings = etree.WriteSettings{CanonicalText: true, CanonicalAttrVal: true}
	out, err := d.WriteToString()
	if err != nil {
		return "", fmt.Errorf("unable to serialize element: %w", err)
	}
	return strings.TrimSpace(out), nil
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
