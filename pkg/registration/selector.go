package registration

import (
	"strings"

	"github.com/tidwall/match"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DocumentInfo describes the host document a selector is evaluated against
type DocumentInfo struct {
	URI        uri.URI
	LanguageID string
}

// Scheme returns the URI scheme of the document
func (d DocumentInfo) Scheme() string {
	s := string(d.URI)
	if i := strings.Index(s, ":"); i > 0 {
		return s[:i]
	}
	return ""
}

// Path returns the slash separated path used for pattern matching
func (d DocumentInfo) Path() string {
	if d.Scheme() == uri.FileScheme {
		return strings.ReplaceAll(d.URI.Filename(), "\\", "/")
	}
	s := string(d.URI)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			return s[j:]
		}
	}
	return s
}

// Matches reports whether any filter of the selector accepts the document.
// An empty selector matches nothing.
func Matches(selector protocol.DocumentSelector, doc DocumentInfo) bool {
	for _, f := range selector {
		if f != nil && filterMatches(f, doc) {
			return true
		}
	}
	return false
}

func filterMatches(f *protocol.DocumentFilter, doc DocumentInfo) bool {
	if f.Language == "" && f.Scheme == "" && f.Pattern == "" {
		return false
	}
	if f.Language != "" && f.Language != doc.LanguageID {
		return false
	}
	if f.Scheme != "" && f.Scheme != doc.Scheme() {
		return false
	}
	if f.Pattern != "" && !MatchPattern(f.Pattern, doc.Path()) {
		return false
	}
	return true
}

// MatchPattern evaluates a glob pattern with `*`, `?`, `**` and `{a,b}`
// alternatives against a slash separated path. `*` and `?` stay within one
// path segment, only `**` spans segments. Patterns without a slash are
// matched against the last path segment.
func MatchPattern(pattern, path string) bool {
	for _, p := range expandBraces(pattern) {
		target := path
		if !strings.Contains(p, "/") {
			if i := strings.LastIndex(path, "/"); i >= 0 {
				target = path[i+1:]
			}
		}
		if matchSegments(strings.Split(p, "/"), strings.Split(target, "/")) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			// `**` also matches zero segments
			for i := 0; i <= len(path); i++ {
				if matchSegments(rest, path[i:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 || !match.Match(path[0], pattern[0]) {
			return false
		}
		pattern, path = pattern[1:], path[1:]
	}
	return len(path) == 0
}

func expandBraces(pattern string) []string {
	open := strings.Index(pattern, "{")
	if open < 0 {
		return []string{pattern}
	}
	end := strings.Index(pattern[open:], "}")
	if end < 0 {
		return []string{pattern}
	}
	end += open
	var out []string
	for _, alt := range strings.Split(pattern[open+1:end], ",") {
		out = append(out, expandBraces(pattern[:open]+alt+pattern[end+1:])...)
	}
	return out
}

// Overlaps reports whether some document could be matched by both selectors.
// Two filters overlap unless a field set on both disagrees; patterns are
// compared literally since glob intersection is undecidable here.
func Overlaps(a, b protocol.DocumentSelector) bool {
	for _, fa := range a {
		for _, fb := range b {
			if fa != nil && fb != nil && filtersOverlap(fa, fb) {
				return true
			}
		}
	}
	return false
}

func filtersOverlap(a, b *protocol.DocumentFilter) bool {
	if a.Language != "" && b.Language != "" && a.Language != b.Language {
		return false
	}
	if a.Scheme != "" && b.Scheme != "" && a.Scheme != b.Scheme {
		return false
	}
	if a.Pattern != "" && b.Pattern != "" && a.Pattern != b.Pattern {
		return MatchPattern(a.Pattern, b.Pattern) || MatchPattern(b.Pattern, a.Pattern)
	}
	return true
}
