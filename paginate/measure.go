package paginate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"folio/css"
)

// avgAdvanceFactor approximates the mean glyph advance as a fraction of the
// font size for proportional text faces.
const avgAdvanceFactor = 0.52

// defaultMediaHeight is used for images and videos without resolved
// dimensions.
const defaultMediaHeight = 240.0

// blockTags lays out on its own line(s); everything else is inline.
var blockTags = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "ul": true, "ol": true, "li": true,
	"blockquote": true, "section": true, "aside": true, "figure": true,
	"table": true, "tr": true, "pre": true, "hr": true,
}

// TextMeasurer is an approximate layout surface: a line-metrics model over
// the parsed style profile. It trades typographic fidelity for determinism,
// which is what the bisection in the splitter needs - the engine itself is
// oracle agnostic.
type TextMeasurer struct {
	contentWidth float64
	log          *zap.Logger
}

// NewTextMeasurer builds a measurement surface for the given content width in
// pixels. Construction failure is fatal for a pagination run.
func NewTextMeasurer(contentWidth int, log *zap.Logger) (*TextMeasurer, error) {
	if contentWidth <= 0 {
		return nil, fmt.Errorf("%w: content width %d", ErrMeasurementUnavailable, contentWidth)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TextMeasurer{contentWidth: float64(contentWidth), log: log.Named("measure")}, nil
}

// SetHeadingMode is a no-op for this surface: the line-metrics model has no
// chapter-opening typography, the orchestrator's heading band reserve covers
// the reduced height instead.
func (m *TextMeasurer) SetHeadingMode(bool) {}

func (m *TextMeasurer) Destroy() {}

// Measure lays out an HTML fragment and reports its pixel height.
func (m *TextMeasurer) Measure(fragment string, profile *css.Profile) (float64, error) {
	if profile == nil {
		profile = css.DefaultProfile()
	}
	if strings.TrimSpace(fragment) == "" {
		return 0, nil
	}
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{Permissive: true}
	if err := doc.ReadFromString("<root>" + fragment + "</root>"); err != nil {
		return 0, fmt.Errorf("unable to parse fragment for measurement: %w", err)
	}

	var total float64
	for _, tok := range doc.Root().Child {
		switch t := tok.(type) {
		case *etree.Element:
			total += m.elementHeight(t, profile)
		case *etree.CharData:
			if txt := strings.TrimSpace(t.Data); txt != "" {
				total += m.textHeight(txt, profile.Base)
			}
		}
	}
	return total, nil
}

func (m *TextMeasurer) elementHeight(el *etree.Element, profile *css.Profile) float64 {
	tag := strings.ToLower(el.Tag)
	metrics := profile.MetricsFor(tag)

	switch tag {
	case "img", "video":
		return m.mediaHeight(el) + metrics.MarginTop + metrics.MarginBottom
	case "hr":
		return metrics.LineHeight + metrics.MarginTop + metrics.MarginBottom
	}

	// inline text directly inside this element, block children measured
	// separately below
	var (
		inline   strings.Builder
		children float64
	)
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			inline.WriteString(t.Data)
		case *etree.Element:
			if blockTags[strings.ToLower(t.Tag)] || t.Tag == "img" || t.Tag == "video" {
				children += m.elementHeight(t, profile)
			} else {
				inline.WriteString(inlineText(t))
			}
		}
	}

	h := children
	if txt := collapseSpace(inline.String()); txt != "" {
		h += m.textHeightWith(txt, metrics)
	} else if children == 0 && blockTags[tag] {
		// an empty paragraph still occupies one line
		h += metrics.LineHeight
	}
	return h + metrics.MarginTop + metrics.MarginBottom
}

func (m *TextMeasurer) mediaHeight(el *etree.Element) float64 {
	height, _ := strconv.ParseFloat(el.SelectAttrValue("height", ""), 64)
	width, _ := strconv.ParseFloat(el.SelectAttrValue("width", ""), 64)
	if height <= 0 {
		return defaultMediaHeight
	}
	if width > m.contentWidth {
		// scaled down proportionally by the renderer
		return height * m.contentWidth / width
	}
	return height
}

func (m *TextMeasurer) textHeight(txt string, metrics css.Metrics) float64 {
	return m.textHeightWith(collapseSpace(txt), metrics)
}

func (m *TextMeasurer) textHeightWith(txt string, metrics css.Metrics) float64 {
	if txt == "" {
		return 0
	}
	advance := metrics.FontSize * avgAdvanceFactor
	perLine := math.Max(1, math.Floor(m.contentWidth/advance))
	lines := math.Ceil(float64(len([]rune(txt))) / perLine)
	return lines * metrics.LineHeight
}

func inlineText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			b.WriteString(inlineText(t))
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
