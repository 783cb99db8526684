// Package fp computes cache fingerprints for loaded resources.
package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeURL trims surrounding whitespace and drops the fragment, which
// never reaches the server.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "data:") {
		return u
	}
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return u
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized URL
// and the way it is loaded. The same URL fetched as text and as JSON gets
// two fingerprints.
func Fingerprint(url, loadType, responseKind string) string {
	h := sha256.New()
	// NUL cannot appear in any of the parts.
	h.Write([]byte(NormalizeURL(url)))
	h.Write([]byte{0})
	h.Write([]byte(loadType))
	h.Write([]byte{0})
	h.Write([]byte(responseKind))
	return hex.EncodeToString(h.Sum(nil))
}
