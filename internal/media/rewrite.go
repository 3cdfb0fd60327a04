package media

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Go's regexp has no backreferences, so quoted src attributes are matched
// per quote style instead of capturing the opening quote.
var (
	dquotedImgSrcRe  = regexp.MustCompile(`(?i)(<img[^>]*\bsrc\s*=\s*)"([^"]*)"`)
	squotedImgSrcRe  = regexp.MustCompile(`(?i)(<img[^>]*\bsrc\s*=\s*)'([^']*)'`)
	unquotedImgSrcRe = regexp.MustCompile(`(?i)(<img[^>]*\bsrc\s*=\s*)([^'"\s>]+)`)
)

// Rewrite replaces <img src> references that resolve through the alias map
// with their public URL under urlPrefix. Quoted and unquoted attributes are
// handled; references that do not resolve are left exactly as written.
func Rewrite(html string, aliases map[string]string, urlPrefix string) string {
	if html == "" || len(aliases) == 0 {
		return html
	}

	html = dquotedImgSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := dquotedImgSrcRe.FindStringSubmatch(tag)
		stored := ResolveAlias(aliases, m[2])
		if stored == "" {
			return tag
		}
		return m[1] + `"` + BuildMediaURL(stored, urlPrefix) + `"`
	})
	html = squotedImgSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := squotedImgSrcRe.FindStringSubmatch(tag)
		stored := ResolveAlias(aliases, m[2])
		if stored == "" {
			return tag
		}
		return m[1] + `'` + BuildMediaURL(stored, urlPrefix) + `'`
	})
	return unquotedImgSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := unquotedImgSrcRe.FindStringSubmatch(tag)
		stored := ResolveAlias(aliases, m[2])
		if stored == "" {
			return tag
		}
		return m[1] + BuildMediaURL(stored, urlPrefix)
	})
}

// ResolveAlias maps a raw src reference to a stored filename, trying the
// exact name, then the case-insensitive name, then the extension-stripped
// stem. Returns "" when nothing matches.
func ResolveAlias(aliases map[string]string, ref string) string {
	name := referenceFilename(ref)
	if name == "" {
		return ""
	}
	if stored, ok := aliases[name]; ok {
		return stored
	}
	if stored, ok := aliases[strings.ToLower(name)]; ok {
		return stored
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stored, ok := aliases[stem]; ok {
		return stored
	}
	if stored, ok := aliases[strings.ToLower(stem)]; ok {
		return stored
	}
	return ""
}

// BuildMediaURL joins a stored filename onto the media URL prefix.
func BuildMediaURL(stored, urlPrefix string) string {
	return strings.TrimRight(urlPrefix, "/") + "/" + stored
}

// referenceFilename URL-decodes a src value and strips any path component.
func referenceFilename(ref string) string {
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}
	return baseName(ref)
}
