// Package match extracts supported platform links from free-form
// message text.
package match

import (
	"regexp"
	"strings"
)

// SkipToken disables auto-detection for links inside the same command
// word, e.g. "!ignore https://...".
const SkipToken = "!ignore"

// Pattern associates a platform name with its link regexp.
type Pattern struct {
	Platform string
	Regexp   *regexp.Regexp
}

// Matcher finds and canonicalizes supported URLs in raw text.
type Matcher struct {
	patterns []Pattern
}

// New creates a Matcher over the given patterns. Pattern order is
// match-priority order.
func New(patterns ...Pattern) *Matcher {
	return &Matcher{patterns: patterns}
}

// Add registers another pattern.
func (m *Matcher) Add(p Pattern) {
	m.patterns = append(m.patterns, p)
}

// Extract returns the distinct, normalized URLs found in text, in
// first-seen order. An empty result is a valid non-error outcome.
func (m *Matcher) Extract(text string) []string {
	skipped := skipRanges(text)

	var out []string
	seen := make(map[string]struct{})

	for _, p := range m.patterns {
		for _, loc := range p.Regexp.FindAllStringIndex(text, -1) {
			if inRanges(loc[0], skipped) {
				continue
			}
			u := NormalizeScheme(text[loc[0]:loc[1]])
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}

	return out
}

// NormalizeScheme rewrites scheme-relative and bare-host URLs to https.
func NormalizeScheme(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		return s
	case strings.HasPrefix(s, "//"):
		return "https:" + s
	default:
		return "https://" + s
	}
}

// skipRanges returns the [start,end) spans of tokens that follow a
// SkipToken prefix, i.e. links the user explicitly opted out of. The
// span covers the command and the one whitespace-delimited token after
// it; other links in the same message stay detectable.
func skipRanges(text string) [][2]int {
	var ranges [][2]int
	idx := 0
	for {
		i := strings.Index(text[idx:], SkipToken)
		if i < 0 {
			break
		}
		start := idx + i
		end := start + len(SkipToken)
		for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
			end++
		}
		for end < len(text) && !isSpace(text[end]) {
			end++
		}
		ranges = append(ranges, [2]int{start, end})
		idx = end
		if idx >= len(text) {
			break
		}
	}
	return ranges
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func inRanges(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
