package text

import (
	"strings"
	"unicode"
)

// addPatternString stores one TeX hyphenation pattern such as ".hy2p". The
// letters form the trie key; each digit is a break weight for the position
// right after the preceding letter (a leading digit weighs the position
// before the first letter). Letters without a trailing digit weigh zero.
func (p *trie) addPatternString(s string) {
	runes := []rune(s)
	weights := make([]int, 0, len(runes))
	var letters strings.Builder

	for i, r := range runes {
		if unicode.IsDigit(r) {
			if i == 0 {
				weights = append(weights, int(r-'0'))
			}
			// digits after a letter are consumed by the lookahead below
			continue
		}
		letters.WriteRune(r)
		if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			weights = append(weights, int(runes[i+1]-'0'))
		} else {
			weights = append(weights, 0)
		}
	}

	if leaf := p.addRunes(strings.NewReader(letters.String())); leaf != nil {
		leaf.value = weights
	}
}
