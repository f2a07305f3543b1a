package crawler

import (
	"net/url"
	"path"
	"strings"
)

// MediaMatcher decides by file extension whether a URL is downloaded on the
// media path.
type MediaMatcher struct {
	exts []string
}

// NewMediaMatcher returns a matcher for the given extensions. Extensions are
// compared case-insensitively, with or without a leading dot.
func NewMediaMatcher(exts []string) MediaMatcher {
	m := MediaMatcher{exts: make([]string, 0, len(exts))}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			m.exts = append(m.exts, "."+ext)
		}
	}
	return m
}

// Enabled reports whether any extension is configured.
func (m MediaMatcher) Enabled() bool {
	return len(m.exts) > 0
}

// Match reports whether the last path segment of u ends with a media
// extension. The query string is ignored.
func (m MediaMatcher) Match(u *url.URL) bool {
	if u == nil || len(m.exts) == 0 || strings.HasSuffix(u.Path, "/") {
		return false
	}
	name := strings.ToLower(path.Base(u.Path))
	for _, ext := range m.exts {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return true
		}
	}
	return false
}

// MatchString is Match for a raw URL. Unparsable URLs never match.
func (m MediaMatcher) MatchString(rawURL string) bool {
	if len(m.exts) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.Match(u)
}
