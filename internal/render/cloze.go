package render

import (
	"regexp"
	"strconv"
	"strings"
)

// Markers are 1-indexed, so 0 means "no active index": every marker is
// treated as active, matching the single-template cloze behaviour.
const AllClozesActive = 0

var clozeRe = regexp.MustCompile(`(?is)\{\{c(\d+)::(.*?)(?:::(.*?))?\}\}`)

// RenderCloze substitutes every {{cN::content::hint}} marker in html.
//
// A marker is active when its N equals activeIndex (or when activeIndex is
// AllClozesActive). Active markers render as a masked placeholder (the hint
// when present, an ellipsis otherwise) or, when reveal is set, as the raw
// content wrapped in a <mark> element. Inactive markers always render their
// bare content: on multi-cloze notes each card tests one deletion and shows
// the rest as context. Content passes through verbatim, HTML included.
func RenderCloze(html string, reveal bool, activeIndex int) string {
	matches := clozeRe.FindAllStringSubmatchIndex(html, -1)
	if matches == nil {
		return html
	}

	var b strings.Builder
	b.Grow(len(html))
	last := 0
	for _, m := range matches {
		b.WriteString(html[last:m[0]])
		last = m[1]

		num := html[m[2]:m[3]]
		content := html[m[4]:m[5]]
		hint := ""
		if m[6] >= 0 {
			hint = html[m[6]:m[7]]
		}

		parsed, _ := strconv.Atoi(num)
		active := activeIndex == AllClozesActive || parsed == activeIndex
		switch {
		case !active:
			b.WriteString(content)
		case reveal:
			b.WriteString(`<mark class="cloze" data-cloze="`)
			b.WriteString(num)
			b.WriteString(`">`)
			b.WriteString(content)
			b.WriteString(`</mark>`)
		case hint != "":
			b.WriteString(`<span class="cloze hint" data-cloze="`)
			b.WriteString(num)
			b.WriteString(`">`)
			b.WriteString(hint)
			b.WriteString(`</span>`)
		default:
			b.WriteString(`<span class="cloze" data-cloze="`)
			b.WriteString(num)
			b.WriteString(`">[&hellip;]</span>`)
		}
	}
	b.WriteString(html[last:])
	return b.String()
}

// HasClozeMarker reports whether text contains at least one cloze marker.
func HasClozeMarker(text string) bool {
	return clozeRe.MatchString(text)
}
