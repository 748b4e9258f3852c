package contentfilter

import (
	"regexp"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

type matcher struct {
	keyword string
	re      *regexp.Regexp
}

func (m *matcher) match(normText string) bool {
	if m.re != nil {
		return m.re.MatchString(normText)
	}
	return strings.Contains(normText, m.keyword)
}

// letters and digits from any script count as part of a word
const boundary = `[^\p{L}\p{N}]`

func compileMatcher(kw string) *matcher {
	if !isASCIIPhrase(kw) {
		return &matcher{keyword: kw}
	}
	words := strings.FieldsFunc(kw, isWordSeparator)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	pattern := `(?:^|` + boundary + `)` + strings.Join(quoted, `[\s_-]+`) + `(?:$|` + boundary + `)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		// quoted ASCII words always compile; substring matching is the safe fallback
		return &matcher{keyword: kw}
	}
	return &matcher{keyword: kw, re: re}
}

// MatcherCache holds compiled keyword matchers. It is safe for concurrent use.
type MatcherCache struct {
	matchers *xsync.MapOf[string, *matcher]
}

func NewMatcherCache() *MatcherCache {
	return &MatcherCache{
		matchers: xsync.NewMapOf[string, *matcher](),
	}
}

func (c *MatcherCache) get(kw string) *matcher {
	m, _ := c.matchers.LoadOrCompute(kw, func() *matcher {
		return compileMatcher(kw)
	})
	return m
}

func (c *MatcherCache) Len() int {
	return c.matchers.Size()
}

// Matches reports whether an already-normalized keyword occurs in already-normalized text.
func (c *MatcherCache) Matches(normText, normKeyword string) bool {
	if normKeyword == "" {
		return false
	}
	return c.get(normKeyword).match(normText)
}
