// Package epub extracts chapter content from EPUB files so books can be
// imported into the chapter store.
package epub

import (
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/beevik/etree"
	fixzip "github.com/hidez8891/zip"
	"github.com/maruel/natural"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Book is the import-ready view of an EPUB: ordered chapter sources plus the
// metadata needed to register them.
type Book struct {
	Title    string
	Language string
	Chapters []ChapterSource
}

// ChapterSource is one spine document reduced to chapter material.
type ChapterSource struct {
	Title string
	HTML  string
	Path  string
}

// Read opens an EPUB and extracts its spine documents in reading order. Files
// the spine does not reference are ignored; when the package document is
// missing or unusable every content document is taken in natural name order
// instead.
func Read(fname string, log *zap.Logger) (*Book, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("epub")

	r, err := fixzip.OpenReader(fname)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !isSafePath(f.Name) {
			return nil, fmt.Errorf("epub entry %q: unsafe path (absolute or contains path traversal)", f.Name)
		}
	}

	book := &Book{}
	docs, err := spineDocuments(&r.Reader, book, log)
	if err != nil {
		log.Warn("Unusable package document, falling back to natural file order", zap.Error(err))
		docs = contentDocuments(&r.Reader)
	}

	for _, name := range docs {
		f := findFile(&r.Reader, name)
		if f == nil {
			log.Warn("Spine references missing file", zap.String("file", name))
			continue
		}
		src, err := extractChapter(f)
		if err != nil {
			return nil, fmt.Errorf("chapter %q: %w", name, err)
		}
		if strings.TrimSpace(src.HTML) == "" {
			log.Debug("Skipping empty spine document", zap.String("file", name))
			continue
		}
		book.Chapters = append(book.Chapters, *src)
	}
	log.Debug("EPUB read", zap.String("title", book.Title), zap.Int("chapters", len(book.Chapters)))
	return book, nil
}

// spineDocuments resolves the OPF package document and returns spine item
// paths in reading order. Book metadata is filled along the way.
func spineDocuments(r *fixzip.Reader, book *Book, log *zap.Logger) ([]string, error) {
	container := findFile(r, "META-INF/container.xml")
	if container == nil {
		return nil, fmt.Errorf("no META-INF/container.xml")
	}
	doc, err := parseEntry(container)
	if err != nil {
		return nil, err
	}
	rootfile := doc.FindElement("//rootfile")
	if rootfile == nil {
		return nil, fmt.Errorf("container has no rootfile")
	}
	opfPath := rootfile.SelectAttrValue("full-path", "")
	if opfPath == "" {
		return nil, fmt.Errorf("rootfile has no full-path")
	}

	opfFile := findFile(r, opfPath)
	if opfFile == nil {
		return nil, fmt.Errorf("package document %q missing", opfPath)
	}
	opf, err := parseEntry(opfFile)
	if err != nil {
		return nil, err
	}

	if t := opf.FindElement("//metadata/title"); t != nil {
		book.Title = strings.TrimSpace(t.Text())
	}
	if l := opf.FindElement("//metadata/language"); l != nil {
		book.Language = strings.TrimSpace(l.Text())
	}

	hrefs := make(map[string]string)
	types := make(map[string]string)
	for _, item := range opf.FindElements("//manifest/item") {
		id := item.SelectAttrValue("id", "")
		hrefs[id] = item.SelectAttrValue("href", "")
		types[id] = item.SelectAttrValue("media-type", "")
	}

	base := path.Dir(opfPath)
	var out []string
	for _, ref := range opf.FindElements("//spine/itemref") {
		id := ref.SelectAttrValue("idref", "")
		href, ok := hrefs[id]
		if !ok || href == "" {
			log.Warn("Spine itemref without manifest entry", zap.String("idref", id))
			continue
		}
		if mt := types[id]; mt != "" && !strings.Contains(mt, "html") {
			continue
		}
		if base != "." {
			href = path.Join(base, href)
		}
		out = append(out, href)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty spine")
	}
	return out, nil
}

// contentDocuments is the spine fallback: every content document in the
// archive, naturally ordered so chapter2 precedes chapter10.
func contentDocuments(r *fixzip.Reader) []string {
	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
			out = append(out, f.Name)
		}
	}
	sort.Sort(natural.StringSlice(out))
	return out
}

var anchorTagRe = regexp.MustCompile(`</?(?:html|head|body)[^>]*>`)

// extractChapter pulls the body of a content document. The document title
// comes from the first heading, falling back to the head title.
func extractChapter(f *fixzip.File) (*ChapterSource, error) {
	doc, err := parseEntry(f)
	if err != nil {
		return nil, err
	}

	src := &ChapterSource{Path: f.Name}
	if h := doc.FindElement("//h1"); h != nil {
		src.Title = strings.TrimSpace(flattenText(h))
	} else if t := doc.FindElement("//head/title"); t != nil {
		src.Title = strings.TrimSpace(t.Text())
	}

	body := doc.FindElement("//body")
	if body == nil {
		return src, nil
	}
	var b strings.Builder
	for _, child := range body.ChildElements() {
		// the injected heading would double the extracted title
		if src.Title != "" && strings.EqualFold(child.Tag, "h1") {
			continue
		}
		part := etree.NewDocument()
		part.WriteSettings = etree.WriteSettings{CanonicalText: true, CanonicalAttrVal: true}
		part.SetRoot(child.Copy())
		s, err := part.WriteToString()
		if err != nil {
			return nil, fmt.Errorf("serialize element: %w", err)
		}
		b.WriteString(strings.TrimSpace(s))
		b.WriteString("\n")
	}
	src.HTML = anchorTagRe.ReplaceAllString(strings.TrimSpace(b.String()), "")
	return src, nil
}

func parseEntry(f *fixzip.File) (*etree.Document, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()
	// entries are not guaranteed to be UTF-8, sniff and convert
	cr, err := charset.NewReader(rc, "")
	if err != nil {
		return nil, fmt.Errorf("detect charset of zip entry %q: %w", f.Name, err)
	}
	data, err := io.ReadAll(cr)
	if err != nil {
		return nil, fmt.Errorf("read zip entry %q: %w", f.Name, err)
	}
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromBytes(stripDoctype(data)); err != nil {
		return nil, fmt.Errorf("parse zip entry %q: %w", f.Name, err)
	}
	return doc, nil
}

var doctypeRe = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*>`)

func stripDoctype(data []byte) []byte {
	return doctypeRe.ReplaceAll(data, nil)
}

func findFile(r *fixzip.Reader, name string) *fixzip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func flattenText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			b.WriteString(flattenText(t))
		}
	}
	return b.String()
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
