// Package render implements the two text transforms applied to Anki note
// content: the subset of the Anki template language used by note models, and
// the cloze-deletion substitution applied to cloze notes.
package render

import "strings"

// RenderTemplate evaluates the Anki template subset against a field map.
//
// Supported tokens: {{Field}} substitution, {{#Field}}...{{/Field}} sections,
// {{^Field}}...{{/Field}} inverted sections and {{!comment}}. Keys carrying
// Anki field modifiers ("cloze:Text") are matched by their last colon-separated
// segment. Malformed input never fails: unresolvable tokens render empty,
// stray closing tags are dropped and an unterminated section leaves the rest
// of the template as literal text.
func RenderTemplate(tmpl string, fields map[string]string) string {
	tokens := lexTemplate(tmpl)
	var b strings.Builder
	b.Grow(len(tmpl))
	renderTokens(tokens, 0, len(tokens), fields, &b)
	return b.String()
}

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenVariable
	tokenSection
	tokenInverted
	tokenClose
	tokenComment
)

type token struct {
	kind tokenKind
	// key is the normalized field name for tag tokens, text the literal
	// content for text tokens, raw the original source of the token.
	key  string
	text string
	raw  string
}

func lexTemplate(tmpl string) []token {
	var tokens []token
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			break
		}
		if open > 0 {
			tokens = append(tokens, token{kind: tokenText, text: rest[:open], raw: rest[:open]})
		}
		inner := rest[open+2 : open+2+end]
		raw := rest[open : open+2+end+2]
		tokens = append(tokens, lexTag(inner, raw))
		rest = rest[open+2+end+2:]
	}
	if rest != "" {
		tokens = append(tokens, token{kind: tokenText, text: rest, raw: rest})
	}
	return tokens
}

func lexTag(inner, raw string) token {
	if inner == "" {
		return token{kind: tokenVariable, key: "", raw: raw}
	}
	switch inner[0] {
	case '!':
		return token{kind: tokenComment, raw: raw}
	case '#':
		return token{kind: tokenSection, key: NormalizeKey(inner[1:]), raw: raw}
	case '^':
		return token{kind: tokenInverted, key: NormalizeKey(inner[1:]), raw: raw}
	case '/':
		return token{kind: tokenClose, key: NormalizeKey(inner[1:]), raw: raw}
	}
	return token{kind: tokenVariable, key: NormalizeKey(inner), raw: raw}
}

func renderTokens(tokens []token, start, end int, fields map[string]string, b *strings.Builder) {
	i := start
	for i < end {
		tok := tokens[i]
		switch tok.kind {
		case tokenText:
			b.WriteString(tok.text)
			i++
		case tokenComment:
			i++
		case tokenClose:
			// Closing tag with no open section is ignored.
			i++
		case tokenVariable:
			b.WriteString(fields[tok.key])
			i++
		case tokenSection, tokenInverted:
			closeIdx := findSectionClose(tokens, i+1, end, tok.key)
			if closeIdx < 0 {
				// No matching close: the section tag and everything
				// after it degrade to literal text.
				for j := i; j < end; j++ {
					b.WriteString(tokens[j].raw)
				}
				return
			}
			truthy := strings.TrimSpace(fields[tok.key]) != ""
			if truthy == (tok.kind == tokenSection) {
				renderTokens(tokens, i+1, closeIdx, fields, b)
			}
			i = closeIdx + 1
		}
	}
}

// findSectionClose locates the close tag matching an open section with the
// given key, tracking nesting depth for same-named inner sections.
func findSectionClose(tokens []token, start, end int, key string) int {
	depth := 1
	for i := start; i < end; i++ {
		switch tokens[i].kind {
		case tokenSection, tokenInverted:
			if tokens[i].key == key {
				depth++
			}
		case tokenClose:
			if tokens[i].key == key {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// NormalizeKey reduces an Anki template key to the field name it refers to.
// Field modifiers are written as "modifier:Field", so the last colon-separated
// segment is the name; surrounding whitespace is insignificant.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if idx := strings.LastIndexByte(key, ':'); idx >= 0 {
		key = key[idx+1:]
	}
	return strings.TrimSpace(key)
}
