// Package caption renders the post caption in the host platform's
// HTML dialect.
package caption

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/vportnov/linkpost/internal/domain"
)

const ellipsis = " [...]"

// Build renders `<b>author (handle)</b>`, the post text in italics,
// and an open-in link, keeping the whole caption within limit. A text
// that does not fit is truncated at the largest prefix that does; when
// even an empty prefix is too much, the caption degrades to title and
// link only.
func Build(post *domain.Post, limit int) string {
	title := fmt.Sprintf("<b>%s (%s)</b>", html.EscapeString(post.AuthorName), html.EscapeString(post.AuthorHandle))
	link := ""
	if post.URL != "" {
		link = fmt.Sprintf(`<a href="%s">Open in %s</a>`, post.URL, html.EscapeString(post.Website))
	}

	text := strings.TrimSpace(post.Text)
	if text == "" {
		return assemble(title, "", link)
	}

	full := assemble(title, "<i>"+html.EscapeString(text)+"</i>", link)
	if limit <= 0 || utf8.RuneCountInString(full) <= limit {
		return full
	}

	// Binary search the longest rune prefix that still fits with the
	// truncation mark attached.
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fits(title, runes[:mid], link, limit) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if lo == 0 {
		return assemble(title, "", link)
	}
	trimmed := strings.TrimSpace(string(runes[:lo]))
	return assemble(title, "<i>"+html.EscapeString(trimmed)+ellipsis+"</i>", link)
}

func fits(title string, prefix []rune, link string, limit int) bool {
	body := "<i>" + html.EscapeString(strings.TrimSpace(string(prefix))) + ellipsis + "</i>"
	return utf8.RuneCountInString(assemble(title, body, link)) <= limit
}

func assemble(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
