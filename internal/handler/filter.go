package handler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Filter decides whether a discovered link should be enqueued.
// The zero value accepts every http(s) link.
type Filter struct {
	// SameHost restricts links to the host of the page they were found on.
	SameHost bool

	// IgnorePatterns are URL path globs to skip (e.g. "/admin/*", "*.pdf").
	IgnorePatterns []string

	// FollowPatterns, when set, restrict links to paths matching at least
	// one glob.
	FollowPatterns []string
}

// Allow reports whether link, found on page, passes the filter.
// Both are expected to be absolute URLs.
func (f Filter) Allow(page, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if f.SameHost {
		base, err := url.Parse(page)
		if err != nil || !strings.EqualFold(base.Host, u.Host) {
			return false
		}
	}

	return f.matchesPatterns(u.Path)
}

// matchesPatterns applies the ignore list first, then the follow list.
func (f Filter) matchesPatterns(path string) bool {
	if path == "" {
		path = "/"
	}

	for _, pattern := range f.IgnorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(f.FollowPatterns) == 0 {
		return true
	}
	for _, pattern := range f.FollowPatterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern checks if a path matches a glob pattern.
//
//   - "/admin/*" matches "/admin" and anything below it
//   - "*.pdf" matches any path ending in .pdf
//   - other patterns use filepath.Match, so * does not cross "/"
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	// Bare filename globs also match the last path segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}

	return false
}

// resolveHref resolves href against base, dropping the fragment. It returns
// "" for hrefs that do not point at a page: javascript:, mailto:, tel:,
// data: and bare fragments.
func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String()
}
