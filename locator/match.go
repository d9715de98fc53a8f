package locator

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokenize upper-cases s, strips accents and splits it on anything that is
// not a letter or a digit.
func Tokenize(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.FieldsFunc(strings.ToUpper(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TargetTokens normalizes a group name and prefixes the keyword when the
// caller left it out: "a" and "Groupe A" both become [GROUPE A].
func TargetTokens(keyword, group string) []string {
	tokens := Tokenize(group)
	kw := Tokenize(keyword)
	if len(kw) == 0 {
		return tokens
	}
	if len(tokens) >= len(kw) && strings.Join(tokens[:len(kw)], "") == strings.Join(kw, "") {
		return tokens
	}
	if len(tokens) > 0 && strings.HasPrefix(tokens[0], strings.Join(kw, "")) {
		return tokens
	}
	return append(kw, tokens...)
}

// matchTokens reports whether target appears in tokens starting and ending on
// token boundaries. Spacing is ignored, so OCR that splits or merges words
// ("GROUPEA", "GRO UPE A") still matches, while "GROUPE AB" does not match
// "GROUPE A".
func matchTokens(tokens, target []string) bool {
	want := strings.Join(target, "")
	if want == "" {
		return false
	}
	for i := range tokens {
		var sb strings.Builder
		for j := i; j < len(tokens); j++ {
			sb.WriteString(tokens[j])
			got := sb.String()
			if got == want {
				return true
			}
			if len(got) >= len(want) || !strings.HasPrefix(want, got) {
				break
			}
		}
	}
	return false
}
