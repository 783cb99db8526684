package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/url"
	"strings"

	// image formats understood by Parse
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/beevik/etree"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/fp"
	"github.com/tinoosan/preload/internal/resource"
)

// CacheEntry is what Cache stores for a successfully loaded resource.
type CacheEntry struct {
	Type data.Type
	Data any
}

// NewCache returns an LRU cache for Cache holding up to size entries.
func NewCache(size int) (*lru.Cache[string, CacheEntry], error) {
	return lru.New[string, CacheEntry](size)
}

// Cache is a before-load middleware. A resource whose fingerprint is cached
// is completed from the cache without being fetched; any other resource is
// stored in the cache once it loads successfully.
func Cache(c *lru.Cache[string, CacheEntry]) Func {
	return func(h Host, r *resource.Resource, next func()) {
		key := fp.Fingerprint(r.URL(), string(r.LoadType()), string(r.ResponseKind()))
		if e, ok := c.Get(key); ok {
			r.SetData(e.Data)
			r.SetType(e.Type)
			r.Complete()
			next()
			return
		}
		r.OnComplete.Once(func(r *resource.Resource) {
			if r.Error() != "" {
				return
			}
			c.Add(key, CacheEntry{Type: r.Type(), Data: r.Data()})
		})
		next()
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decompress is an after-load middleware that inflates gzip and zstd
// payloads of buffer and blob resources.
func Decompress() Func {
	return func(h Host, r *resource.Resource, next func()) {
		defer next()
		if r.Error() != "" {
			return
		}
		switch v := r.Data().(type) {
		case []byte:
			out, ok, err := inflate(v)
			if err != nil {
				fail(h, r, "decompress", err)
			} else if ok {
				r.SetData(out)
			}
		case data.Blob:
			out, ok, err := inflate(v.Bytes)
			if err != nil {
				fail(h, r, "decompress", err)
			} else if ok {
				v.Bytes = out
				r.SetData(v)
			}
		}
	}
}

func inflate(b []byte) ([]byte, bool, error) {
	switch {
	case bytes.HasPrefix(b, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, false, err
		}
		defer func() { _ = zr.Close() }()
		out, err := io.ReadAll(zr)
		return out, err == nil, err
	case bytes.HasPrefix(b, zstdMagic):
		zr, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, false, err
		}
		defer zr.Close()
		out, err := zr.DecodeAll(b, nil)
		return out, err == nil, err
	}
	return nil, false, nil
}

// Parse is an after-load middleware that turns blob payloads into typed
// data based on their content type: images are decoded, JSON is
// unmarshalled, XML becomes a document and text a string.
func Parse() Func {
	return func(h Host, r *resource.Resource, next func()) {
		defer next()
		if r.Error() != "" {
			return
		}
		blob, ok := r.Data().(data.Blob)
		if !ok {
			return
		}
		ct := strings.ToLower(blob.ContentType)
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		switch {
		case strings.HasPrefix(ct, "image/svg"):
			// vector images are kept as markup
			r.SetData(data.Image{Format: "svg"})
			r.SetType(data.TypeImage)
		case strings.HasPrefix(ct, "image/"):
			img, format, err := image.Decode(bytes.NewReader(blob.Bytes))
			if err != nil {
				fail(h, r, "decode image", err)
				return
			}
			b := img.Bounds()
			r.SetData(data.Image{Format: format, Width: b.Dx(), Height: b.Dy(), Image: img})
			r.SetType(data.TypeImage)
		case ct == "application/json" || strings.HasSuffix(ct, "+json"):
			var v any
			if err := json.Unmarshal(blob.Bytes, &v); err != nil {
				fail(h, r, "parse json", err)
				return
			}
			r.SetData(v)
			r.SetType(data.TypeJSON)
		case ct == "application/xml" || ct == "text/xml" || strings.HasSuffix(ct, "+xml"):
			doc := etree.NewDocument()
			if err := doc.ReadFromBytes(blob.Bytes); err != nil {
				fail(h, r, "parse xml", err)
				return
			}
			r.SetData(doc)
			r.SetType(data.TypeXML)
		case strings.HasPrefix(ct, "text/"):
			r.SetData(string(blob.Bytes))
			r.SetType(data.TypeText)
		}
	}
}

// SpriteSheet is an after-load middleware for texture-packer style JSON
// sheets. When the payload has frames and names its image in meta.image,
// the image is added as a child resource named "<name>_image" and the
// sheet waits for it before continuing.
func SpriteSheet() Func {
	return func(h Host, r *resource.Resource, next func()) {
		if r.Error() != "" || r.Type() != data.TypeJSON {
			next()
			return
		}
		doc, ok := r.Data().(map[string]any)
		if !ok || doc["frames"] == nil {
			next()
			return
		}
		meta, _ := doc["meta"].(map[string]any)
		imagePath, _ := meta["image"].(string)
		if imagePath == "" {
			next()
			return
		}
		imageURL, err := resolveRelative(r.URL(), imagePath)
		if err != nil {
			fail(h, r, "resolve sprite sheet image", err)
			next()
			return
		}

		_, err = h.AddChild(r, resource.Spec{
			Name: r.Name() + "_image",
			URL:  imageURL,
			Options: resource.Options{
				Parent:      r,
				CrossOrigin: r.CrossOrigin(),
				LoadType:    data.LoadImage,
				Metadata:    map[string]any{"sheet": r.Name()},
				OnComplete:  func(*resource.Resource) { next() },
			},
		})
		if err != nil {
			h.Logger().Warn("sprite sheet image not added", "name", r.Name(), "image", imageURL, "err", err)
			next()
		}
	}
}

func resolveRelative(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(u).String(), nil
}

func fail(h Host, r *resource.Resource, what string, err error) {
	msg := fmt.Sprintf("Error trying to %s: %v", what, err)
	h.Logger().Warn("middleware failed", "name", r.Name(), "url", r.URL(), "err", err)
	r.SetError(msg)
}
