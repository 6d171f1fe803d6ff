package paginate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"folio/content/text"
	"folio/css"
)

// heightTolerance absorbs sub-pixel rounding of the measurement surface.
const heightTolerance = 2.0

// splitOutcome carries the two fragments of a divided element. An empty
// First means nothing fit, an empty Second means the whole element fit.
type splitOutcome struct {
	First  string
	Second string
}

// splitter bisects oversized splittable elements at sentence or word
// boundaries, preserving nested markup on both sides of the cut.
type splitter struct {
	m         Measurer
	profile   *css.Profile
	sentences *text.Splitter
	log       *zap.Logger
}

// split returns the element whole when it fits into available height, else
// the maximal fitting prefix plus the remainder. When not even a minimal
// prefix fits, First is empty and Second carries the whole element.
func (s *splitter) split(elementHTML string, available float64) (splitOutcome, error) {
	whole, err := s.m.Measure(elementHTML, s.profile)
	if err != nil {
		return splitOutcome{}, fmt.Errorf("measure element: %w", err)
	}
	if whole <= available+heightTolerance {
		return splitOutcome{First: elementHTML}, nil
	}

	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString(elementHTML); err != nil {
		return splitOutcome{}, fmt.Errorf("parse element for splitting: %w", err)
	}
	el := doc.Root()
	if el == nil {
		return splitOutcome{Second: elementHTML}, nil
	}
	plain := elementText(el)

	// sentence pass: maximal fitting prefix of whole sentences
	bounds := s.sentences.Boundaries(plain)
	if len(bounds) > 0 && bounds[len(bounds)-1] == len(plain) {
		bounds = bounds[:len(bounds)-1] // whole element already failed
	}
	if cut, ok, err := s.bisect(el, bounds, available); err != nil {
		return splitOutcome{}, err
	} else if ok {
		return s.outcomeAt(el, cut)
	}

	// word pass: binary search over snapped word boundaries
	cands := wordBoundaries(plain)
	if cut, ok, err := s.bisect(el, cands, available); err != nil {
		return splitOutcome{}, err
	} else if ok {
		return s.outcomeAt(el, cut)
	}

	// not even the minimal candidate fits
	return splitOutcome{Second: elementHTML}, nil
}

// bisect finds the largest offset in cands whose prefix fits, measuring
// O(log n) candidates. Fit of each prefix is monotonic in the offset.
func (s *splitter) bisect(el *etree.Element, cands []int, available float64) (int, bool, error) {
	if len(cands) == 0 {
		return 0, false, nil
	}
	var (
		best    = -1
		lo, hi  = 0, len(cands) - 1
		measure = func(offset int) (bool, error) {
			prefix, _ := splitElementAt(el, offset)
			if prefix == "" {
				return false, nil
			}
			h, err := s.m.Measure(prefix, s.profile)
			if err != nil {
				return false, fmt.Errorf("measure prefix: %w", err)
			}
			return h <= available+heightTolerance, nil
		}
	)
	for lo <= hi {
		mid := (lo + hi) / 2
		fits, err := measure(cands[mid])
		if err != nil {
			return 0, false, err
		}
		if fits {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		return 0, false, nil
	}
	return cands[best], true, nil
}

func (s *splitter) outcomeAt(el *etree.Element, offset int) (splitOutcome, error) {
	first, second := splitElementAt(el, offset)
	return splitOutcome{First: first, Second: second}, nil
}

// wordBoundaries returns byte offsets of whitespace positions where the text
// may be cut between words, skipping boundaries right after sentence
// punctuation - those belong to the sentence pass and are walked past.
func wordBoundaries(plain string) []int {
	var (
		out     []int
		lastSym rune
		sawWord bool
	)
	for i, r := range plain {
		if unicode.IsSpace(r) {
			if sawWord && !text.IsSentenceTerminal(lastSym) {
				out = append(out, i)
			}
			sawWord = false
			continue
		}
		lastSym = r
		sawWord = true
	}
	return out
}

// elementText concatenates all character data of the element in document
// order. Split offsets index into this string.
func elementText(el *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return b.String()
}

// splitElementAt divides an element at a plain-text byte offset, cloning the
// structural markup on both sides so nested formatting survives the cut. The
// remainder is trimmed of leading whitespace.
func splitElementAt(el *etree.Element, offset int) (string, string) {
	budget := offset
	first := copyPart(el, &budget, true)
	budget = offset
	second := copyPart(el, &budget, false)

	if second != nil {
		trimLeadingSpace(second)
	}
	return renderPart(first), renderPart(second)
}

// copyPart clones the subtree keeping either the first `budget` bytes of
// character data (prefix) or everything after them (suffix). Childless
// inline elements (br and friends) go with whichever side is being filled at
// their position.
func copyPart(src *etree.Element, budget *int, prefix bool) *etree.Element {
	dst := etree.NewElement(src.Tag)
	for _, a := range src.Attr {
		dst.CreateAttr(a.Key, a.Value)
	}
	hasPayload := false
	for _, tok := range src.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			n := len(t.Data)
			if prefix {
				if *budget <= 0 {
					continue
				}
				take := min(n, *budget)
				dst.CreateText(t.Data[:take])
				*budget -= take
				hasPayload = true
			} else {
				if *budget >= n {
					*budget -= n
					continue
				}
				dst.CreateText(t.Data[*budget:])
				*budget = 0
				hasPayload = true
			}
		case *etree.Element:
			if len(t.Child) == 0 {
				// positional inline element, keep on the active side
				if prefix == (*budget > 0) {
					dst.AddChild(t.Copy())
					hasPayload = true
				}
				continue
			}
			if child := copyPart(t, budget, prefix); child != nil {
				dst.AddChild(child)
				hasPayload = true
			}
		}
	}
	if !hasPayload {
		return nil
	}
	return dst
}

func trimLeadingSpace(el *etree.Element) {
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			t.Data = strings.TrimLeftFunc(t.Data, unicode.IsSpace)
			if t.Data != "" {
				return
			}
		case *etree.Element:
			trimLeadingSpace(t)
			if strings.TrimSpace(elementText(t)) != "" {
				return
			}
		}
	}
}

func renderPart(el *etree.Element) string {
	if el == nil {
		return ""
	}
	d := etree.NewDocument()
	d.SetRoot(el)
	d.WriteSettings = etree.WriteSettings{CanonicalText: true, CanonicalAttrVal: true}
	out, err := d.WriteToString()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
