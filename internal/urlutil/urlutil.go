// Package urlutil resolves the URLs handed to a loader against its base URL
// and default query string.
package urlutil

import "strings"

// Prepare returns the URL a resource is fetched from.
//
// Absolute URLs (any scheme), protocol-relative URLs and URLs without a
// path are kept; anything else is appended to baseURL with exactly one
// slash between them. A non-empty query is then added with "?" or "&",
// ahead of any fragment.
func Prepare(raw, baseURL, query string) string {
	result := raw
	if !HasScheme(raw) && hasPath(raw) && !strings.HasPrefix(raw, "//") && baseURL != "" {
		result = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}

	query = strings.TrimLeft(query, "?&")
	if query == "" {
		return result
	}
	fragment := ""
	if i := strings.IndexByte(result, '#'); i >= 0 {
		result, fragment = result[:i], result[i:]
	}
	if strings.Contains(result, "?") {
		result += "&" + query
	} else {
		result += "?" + query
	}
	return result + fragment
}

// HasScheme reports whether raw starts with "<scheme>:".
func HasScheme(raw string) bool {
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return false
	}
	return !strings.ContainsAny(raw[:i], "/?#")
}

func hasPath(raw string) bool {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw != ""
}
