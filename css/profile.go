// Package css parses the style profile handed to the measurement surface.
// Only the small subset of CSS that affects vertical text metrics is
// understood: font-size, line-height and vertical margins per element
// selector.
package css

import (
	"bytes"
	"strconv"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Metrics holds resolved vertical metrics for one element kind, in pixels.
type Metrics struct {
	FontSize     float64
	LineHeight   float64
	MarginTop    float64
	MarginBottom float64
}

// Profile is a parsed style profile: base (body) metrics plus per-tag
// overrides.
type Profile struct {
	Base Metrics
	Tags map[string]Metrics
}

// DefaultProfile mirrors the reader's built-in stylesheet.
func DefaultProfile() *Profile {
	base := Metrics{FontSize: 18, LineHeight: 27, MarginBottom: 12}
	return &Profile{
		Base: base,
		Tags: map[string]Metrics{
			"h1": {FontSize: 36, LineHeight: 46, MarginTop: 24, MarginBottom: 24},
			"h2": {FontSize: 30, LineHeight: 39, MarginTop: 20, MarginBottom: 20},
			"h3": {FontSize: 24, LineHeight: 32, MarginTop: 16, MarginBottom: 16},
			"h4": {FontSize: 21, LineHeight: 28, MarginTop: 14, MarginBottom: 14},
			"h5": {FontSize: 18, LineHeight: 27, MarginTop: 12, MarginBottom: 12},
			"h6": {FontSize: 18, LineHeight: 27, MarginTop: 12, MarginBottom: 12},
		},
	}
}

// MetricsFor resolves metrics for a tag, falling back to base metrics for
// anything without an override.
func (p *Profile) MetricsFor(tag string) Metrics {
	if m, ok := p.Tags[strings.ToLower(tag)]; ok {
		if m.FontSize == 0 {
			m.FontSize = p.Base.FontSize
		}
		if m.LineHeight == 0 {
			m.LineHeight = defaultLineHeight(m.FontSize)
		}
		return m
	}
	return p.Base
}

// Parse reads a stylesheet and overlays recognized declarations on top of the
// default profile. Unparseable constructs are skipped, never fatal.
func Parse(data []byte, log *zap.Logger) *Profile {
	if log == nil {
		log = zap.NewNop()
	}
	profile := DefaultProfile()

	input := parse.NewInput(bytes.NewReader(data))
	parser := css.NewParser(input, false)

	var selectors []string

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar:
			if err := parser.Err(); err != nil && err.Error() != "EOF" {
				log.Debug("Style profile parse stopped", zap.Error(err))
			}
			return profile

		case css.BeginRulesetGrammar, css.QualifiedRuleGrammar:
			selectors = selectorNames(data, parser.Values())

		case css.DeclarationGrammar:
			prop := strings.ToLower(string(data))
			value := tokensText(parser.Values())
			for _, sel := range selectors {
				applyDeclaration(profile, sel, prop, value, log)
			}

		case css.EndRulesetGrammar:
			selectors = nil

		case css.BeginAtRuleGrammar, css.AtRuleGrammar:
			// @media, @font-face and friends do not contribute to the
			// height model
		}
	}
}

func selectorNames(first []byte, tokens []css.Token) []string {
	var b strings.Builder
	b.Write(first)
	for _, t := range tokens {
		b.Write(t.Data)
	}
	var out []string
	for _, sel := range strings.Split(b.String(), ",") {
		sel = strings.ToLower(strings.TrimSpace(sel))
		if sel == "" {
			continue
		}
		// only plain element selectors participate
		if strings.ContainsAny(sel, " .#:>[+~") {
			continue
		}
		out = append(out, sel)
	}
	return out
}

func tokensText(tokens []css.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.Write(t.Data)
	}
	return strings.TrimSpace(b.String())
}

func applyDeclaration(p *Profile, sel, prop, value string, log *zap.Logger) {
	update := func(m *Metrics) bool {
		switch prop {
		case "font-size":
			px, ok := lengthPx(value, p.Base.FontSize)
			if !ok {
				return false
			}
			m.FontSize = px
			if m.LineHeight == 0 {
				m.LineHeight = defaultLineHeight(px)
			}
		case "line-height":
			if mult, err := strconv.ParseFloat(value, 64); err == nil {
				base := m.FontSize
				if base == 0 {
					base = p.Base.FontSize
				}
				m.LineHeight = mult * base
				return true
			}
			px, ok := lengthPx(value, m.FontSize)
			if !ok {
				return false
			}
			m.LineHeight = px
		case "margin-top":
			px, ok := lengthPx(value, m.FontSize)
			if !ok {
				return false
			}
			m.MarginTop = px
		case "margin-bottom":
			px, ok := lengthPx(value, m.FontSize)
			if !ok {
				return false
			}
			m.MarginBottom = px
		default:
			return false
		}
		return true
	}

	if sel == "body" || sel == "html" {
		if !update(&p.Base) {
			log.Debug("Ignoring style profile declaration", zap.String("selector", sel), zap.String("property", prop), zap.String("value", value))
		}
		return
	}
	m := p.Tags[sel]
	if update(&m) {
		p.Tags[sel] = m
	} else {
		log.Debug("Ignoring style profile declaration", zap.String("selector", sel), zap.String("property", prop), zap.String("value", value))
	}
}

// lengthPx converts a CSS length to pixels. Only px, em and pt units are
// understood, em is relative to the passed font size.
func lengthPx(value string, em float64) (float64, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.HasSuffix(value, "px"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(value, "px"), 64)
		return v, err == nil
	case strings.HasSuffix(value, "em"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(value, "em"), 64)
		if err != nil {
			return 0, false
		}
		if em == 0 {
			em = 16
		}
		return v * em, true
	case strings.HasSuffix(value, "pt"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(value, "pt"), 64)
		if err != nil {
			return 0, false
		}
		return v * 96 / 72, true
	}
	return 0, false
}

func defaultLineHeight(fontSize float64) float64 {
	return fontSize * 1.5
}
