package afya

import (
	"regexp"
	"strings"
)

// contentFilter masks denylisted words in place rather than blocking the
// submission. Matching is case-insensitive and whole-word.
type contentFilter struct {
	patterns []*regexp.Regexp
}

const maskedWarning = "Some words in your message were masked by the content filter."

func newContentFilter(words []string) *contentFilter {
	f := &contentFilter{}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		f.patterns = append(f.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return f
}

// Mask replaces every rune of each denylisted match with '*' and reports
// whether anything was masked.
func (f *contentFilter) Mask(text string) (string, bool) {
	masked := false
	for _, p := range f.patterns {
		text = p.ReplaceAllStringFunc(text, func(match string) string {
			masked = true
			return strings.Repeat("*", len([]rune(match)))
		})
	}
	return text, masked
}
