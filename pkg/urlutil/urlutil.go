// Package urlutil resolves playlist references without re-encoding them.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative reference against the URL of the
// playlist that contains it.
// Uses string manipulation to preserve original URL encoding.
// Go's url.ResolveReference re-encodes special characters which breaks
// URLs for CDNs that use parentheses, brackets, or other special chars.
func ResolveURL(ref string, baseURL string) string {
	if IsAbsolute(ref) {
		return ref
	}

	base := GetBaseDirectory(baseURL)

	switch {
	case strings.HasPrefix(ref, "//"):
		// Scheme-relative: inherit the scheme only
		if scheme, _, ok := strings.Cut(baseURL, "://"); ok {
			return scheme + ":" + ref
		}
		return "https:" + ref

	case strings.HasPrefix(ref, "/"):
		// Absolute path - combine with scheme+host from base
		if sh := GetSchemeHost(baseURL); sh != "" {
			return sh + ref
		}
		return base + strings.TrimPrefix(ref, "/")

	case strings.HasPrefix(ref, "?"):
		// Query only: keep the base document, swap the query
		doc := baseURL
		if idx := strings.IndexAny(doc, "?#"); idx >= 0 {
			doc = doc[:idx]
		}
		return doc + ref
	}

	result := base
	remaining := strings.TrimPrefix(ref, "./")
	for strings.HasPrefix(remaining, "../") {
		remaining = remaining[3:]
		result = parentDirectory(result)
	}
	return result + remaining
}

// IsAbsolute reports whether ref carries its own scheme.
func IsAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// parentDirectory drops the last directory of a base directory, never walking
// above the host.
func parentDirectory(dir string) string {
	trimmed := strings.TrimSuffix(dir, "/")
	hostEnd := 0
	if i := strings.Index(trimmed, "://"); i >= 0 {
		hostEnd = i + 3
		if j := strings.Index(trimmed[hostEnd:], "/"); j >= 0 {
			hostEnd += j
		} else {
			return dir
		}
	}
	if lastSlash := strings.LastIndex(trimmed, "/"); lastSlash >= hostEnd && lastSlash > 0 {
		return trimmed[:lastSlash+1]
	}
	return dir
}

// GetBaseDirectory returns the directory portion of a URL (without the filename).
// Preserves original encoding.
func GetBaseDirectory(urlStr string) string {
	// Remove query string and fragment
	if idx := strings.IndexAny(urlStr, "?#"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	// A bare host has an implicit root path
	if i := strings.Index(urlStr, "://"); i >= 0 && !strings.Contains(urlStr[i+3:], "/") {
		return urlStr + "/"
	}
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash > 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
