package resource

import (
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/tinoosan/preload/internal/data"
)

// Tables holds the two extension lookups used when a resource does not say
// how it should be loaded: extension to load type, and extension to
// response kind for the request strategy. Keys are lower-case extensions
// without the leading dot.
type Tables struct {
	mu            sync.RWMutex
	loadTypes     map[string]data.LoadType
	responseKinds map[string]data.ResponseKind
}

// DefaultTables returns tables seeded with the common image, audio, video
// and document extensions.
func DefaultTables() *Tables {
	t := &Tables{
		loadTypes:     map[string]data.LoadType{},
		responseKinds: map[string]data.ResponseKind{},
	}
	for _, ext := range []string{"gif", "png", "bmp", "jpg", "jpeg", "tif", "tiff", "webp", "tga", "svg", "svg+xml"} {
		t.loadTypes[ext] = data.LoadImage
	}
	for _, ext := range []string{"mp3", "ogg", "wav"} {
		t.loadTypes[ext] = data.LoadAudio
	}
	for _, ext := range []string{"mp4", "webm"} {
		t.loadTypes[ext] = data.LoadVideo
	}

	for _, ext := range []string{"xhtml", "html", "htm", "xml", "tmx", "svg", "tsx"} {
		t.responseKinds[ext] = data.ResponseDocument
	}
	for _, ext := range []string{"gif", "png", "bmp", "jpg", "jpeg", "tif", "tiff", "webp", "tga"} {
		t.responseKinds[ext] = data.ResponseBlob
	}
	t.responseKinds["json"] = data.ResponseJSON
	t.responseKinds["text"] = data.ResponseText
	t.responseKinds["txt"] = data.ResponseText
	t.responseKinds["ttf"] = data.ResponseBuffer
	t.responseKinds["otf"] = data.ResponseBuffer
	return t
}

// Clone returns an independent copy of t.
func (t *Tables) Clone() *Tables {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := &Tables{
		loadTypes:     make(map[string]data.LoadType, len(t.loadTypes)),
		responseKinds: make(map[string]data.ResponseKind, len(t.responseKinds)),
	}
	for k, v := range t.loadTypes {
		out.loadTypes[k] = v
	}
	for k, v := range t.responseKinds {
		out.responseKinds[k] = v
	}
	return out
}

// SetLoadType routes ext to lt.
func (t *Tables) SetLoadType(ext string, lt data.LoadType) {
	t.mu.Lock()
	t.loadTypes[normExt(ext)] = lt
	t.mu.Unlock()
}

// SetResponseKind makes the request strategy interpret ext as k.
func (t *Tables) SetResponseKind(ext string, k data.ResponseKind) {
	t.mu.Lock()
	t.responseKinds[normExt(ext)] = k
	t.mu.Unlock()
}

// LoadType returns the load type for ext, LoadRequest when unknown.
func (t *Tables) LoadType(ext string) data.LoadType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if lt, ok := t.loadTypes[ext]; ok {
		return lt
	}
	return data.LoadRequest
}

// ResponseKind returns the response kind for ext, ResponseText when unknown.
func (t *Tables) ResponseKind(ext string) data.ResponseKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k, ok := t.responseKinds[ext]; ok {
		return k
	}
	return data.ResponseText
}

func normExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// extensionOf returns the lower-case extension of u. For data URLs it is
// the mime subtype ("data:image/png;base64,..." gives "png").
func extensionOf(u string) string {
	if strings.HasPrefix(u, "data:") {
		rest := u[len("data:"):]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return ""
		}
		rest = rest[slash+1:]
		if end := strings.IndexAny(rest, ";,"); end >= 0 {
			rest = rest[:end]
		}
		return strings.ToLower(rest)
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if parsed, err := url.Parse(u); err == nil {
		u = parsed.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u), "."))
}

// determineCrossOrigin works out the policy for u as seen from a document
// at origin. Data and javascript URLs are always same-origin; a sandboxed
// document (an origin without a host) treats everything else as
// cross-origin.
func determineCrossOrigin(u string, origin *url.URL) string {
	if strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "javascript:") {
		return data.CrossOriginNone
	}
	if origin == nil {
		return data.CrossOriginNone
	}
	if origin.Host == "" {
		return data.CrossOriginAnonymous
	}
	target, err := origin.Parse(u)
	if err != nil {
		return data.CrossOriginAnonymous
	}
	if target.Hostname() != origin.Hostname() || port(target) != port(origin) || target.Scheme != origin.Scheme {
		return data.CrossOriginAnonymous
	}
	return data.CrossOriginNone
}

// port returns u's port, filling in the scheme default when none is set.
func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}
