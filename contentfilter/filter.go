package contentfilter

import (
	"strings"
)

// Rules is the include/exclude keyword set of a governance epoch.
type Rules struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

func (r Rules) Empty() bool {
	return len(r.Include) == 0 && len(r.Exclude) == 0
}

// Normalized returns a copy with every keyword normalized and empties dropped.
func (r Rules) Normalized() Rules {
	return Rules{
		Include: normalizeList(r.Include),
		Exclude: normalizeList(r.Exclude),
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if n := NormalizeKeyword(kw); n != "" {
			out = append(out, n)
		}
	}
	return out
}

const (
	ReasonNoRules          = "no content rules"
	ReasonExcluded         = "matched exclude keyword"
	ReasonNoTextInclude    = "no text with include filter"
	ReasonIncluded         = "matched include keyword"
	ReasonNoIncludeMatch   = "no include keyword matched"
	ReasonNoExcludeMatched = "no exclude keyword matched"
)

type Result struct {
	Passes         bool   `json:"passes"`
	Reason         string `json:"reason"`
	MatchedKeyword string `json:"matchedKeyword,omitempty"`
}

// Filter classifies post text against content rules, reusing compiled matchers across calls.
type Filter struct {
	matchers *MatcherCache
}

func NewFilter() *Filter {
	return &Filter{matchers: NewMatcherCache()}
}

// Check applies exclude rules first; an exclude match always rejects. Posts
// without text pass only when there are no include rules. Keywords are
// normalized here, so callers may pass them in any case.
func (f *Filter) Check(text string, rules Rules) Result {
	rules = rules.Normalized()
	if rules.Empty() {
		return Result{Passes: true, Reason: ReasonNoRules}
	}

	if strings.TrimSpace(text) == "" {
		if len(rules.Include) > 0 {
			return Result{Passes: false, Reason: ReasonNoTextInclude}
		}
		return Result{Passes: true, Reason: ReasonNoExcludeMatched}
	}

	nt := NormalizeText(text)
	for _, kw := range rules.Exclude {
		if f.matchers.Matches(nt, kw) {
			return Result{Passes: false, Reason: ReasonExcluded, MatchedKeyword: kw}
		}
	}

	if len(rules.Include) == 0 {
		return Result{Passes: true, Reason: ReasonNoExcludeMatched}
	}
	for _, kw := range rules.Include {
		if f.matchers.Matches(nt, kw) {
			return Result{Passes: true, Reason: ReasonIncluded, MatchedKeyword: kw}
		}
	}
	return Result{Passes: false, Reason: ReasonNoIncludeMatch}
}

var defaultFilter = NewFilter()

// CheckContentRules runs Check against a process-wide matcher cache.
func CheckContentRules(text string, rules Rules) Result {
	return defaultFilter.Check(text, rules)
}
