package contentfilter

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText puts free-form text into the form matchers run against: NFC and lower case.
func NormalizeText(text string) string {
	return strings.ToLower(norm.NFC.String(text))
}

// NormalizeKeyword is NormalizeText plus trimming and collapsing of interior whitespace.
func NormalizeKeyword(kw string) string {
	return strings.Join(strings.Fields(NormalizeText(kw)), " ")
}

func isWordSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '-' || r == '_'
}

// Reports whether the keyword is made only of ASCII letters and digits, optionally
// split by spaces, hyphens or underscores. Those get word-boundary phrase matching.
func isASCIIPhrase(kw string) bool {
	hasWord := false
	for _, r := range kw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			hasWord = true
		case r == ' ' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return hasWord
}
