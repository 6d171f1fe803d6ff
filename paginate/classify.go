package paginate

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"folio/content"
)

// Class labels an element for routing.
type Class int

const (
	// ClassSplittable content may be divided across pages at sentence or
	// word boundaries.
	ClassSplittable Class = iota
	// ClassAtomic content must appear whole on one page.
	ClassAtomic
	// ClassKaraoke content carries audio timing and is sliced by character
	// offset instead.
	ClassKaraoke
)

func (c Class) String() string {
	switch c {
	case ClassAtomic:
		return "atomic"
	case ClassKaraoke:
		return "karaoke"
	default:
		return "splittable"
	}
}

var headingTagRe = regexp.MustCompile(`^h[1-6]$`)

var karaokeAttrRe = regexp.MustCompile(`\bdata-karaoke-id="[^"]+"`)

// Classify labels an element. Karaoke detection takes precedence over
// everything else, then atomic media and structure, the rest is splittable.
func Classify(el content.Element) Class {
	if karaokeAttrRe.MatchString(el.HTML) {
		return ClassKaraoke
	}
	if isAtomicHTML(el) {
		return ClassAtomic
	}
	return ClassSplittable
}

func isAtomicHTML(el content.Element) bool {
	tag := strings.ToLower(el.Tag)
	if atomicTag(tag, "") {
		return true
	}
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString(el.HTML); err != nil {
		return false
	}
	root := doc.Root()
	if root == nil {
		return false
	}
	return isAtomicElement(root)
}

// isAtomicElement reports whether the element is inherently atomic or is a
// container holding only atomic content.
func isAtomicElement(el *etree.Element) bool {
	tag := strings.ToLower(el.Tag)
	if atomicTag(tag, el.SelectAttrValue("class", "")) {
		return true
	}
	if tag != "div" && tag != "section" && tag != "figure" {
		return false
	}
	sawChild := false
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return false
			}
		case *etree.Element:
			sawChild = true
			if !isAtomicElement(t) {
				return false
			}
		}
	}
	return sawChild
}

func atomicTag(tag, class string) bool {
	switch tag {
	case "img", "video", "hr":
		return true
	}
	if headingTagRe.MatchString(tag) {
		return true
	}
	for _, c := range strings.Fields(class) {
		if c == "poem" || c == "dinkus" {
			return true
		}
	}
	return false
}

// IsSubordinateHeading reports whether the element is a heading below the
// chapter title level. Encountering one changes the heading state and with it
// the available height for what follows.
func IsSubordinateHeading(el content.Element) bool {
	tag := strings.ToLower(el.Tag)
	return headingTagRe.MatchString(tag) && tag != "h1"
}
