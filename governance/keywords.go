package governance

import (
	"github.com/bluesky-social/agora/contentfilter"

	"github.com/rivo/uniseg"
)

const (
	MaxBallotKeywords = 20
	MaxKeywordLength  = 50
)

func graphemeLen(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n++
	}
	return n
}

// ValidateKeyword normalizes a single keyword and checks its length.
func ValidateKeyword(kw string) (string, error) {
	n := contentfilter.NormalizeKeyword(kw)
	if n == "" {
		return "", errorf(CodeInvalidKeyword, "keyword must not be empty")
	}
	if graphemeLen(n) > MaxKeywordLength {
		return "", errorf(CodeInvalidKeyword, "keyword longer than %d characters: %q", MaxKeywordLength, n)
	}
	return n, nil
}

// ValidateKeywords normalizes and deduplicates a ballot keyword list, keeping first-seen order.
func ValidateKeywords(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, kw := range list {
		n, err := ValidateKeyword(kw)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) > MaxBallotKeywords {
		return nil, errorf(CodeInvalidBallot, "at most %d keywords per list", MaxBallotKeywords)
	}
	return out, nil
}
