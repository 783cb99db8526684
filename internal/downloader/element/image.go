package element

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
)

// Image loads a single source and decodes it. SVG documents cannot be
// rasterised here and complete with only their format set.
type Image struct {
	base
}

var _ downloader.Strategy = (*Image)(nil)

// ImageFactory returns a factory of image strategies using hc.
func ImageFactory(hc *http.Client) downloader.Factory {
	return func() downloader.Strategy { return &Image{base: base{hc: hc}} }
}

func (s *Image) Load(ctx context.Context, req downloader.Request, rep downloader.Reporter) {
	s.start(ctx, func(ctx context.Context) {
		body, ct, err := s.fetch(ctx, req.URL, rep)
		if err != nil {
			rep.Error(failed("img"))
			return
		}
		if strings.Contains(ct, "svg") {
			rep.Complete(data.TypeImage, data.Image{Format: "svg"})
			return
		}
		img, format, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			rep.Error(failed("img"))
			return
		}
		b := img.Bounds()
		rep.Complete(data.TypeImage, data.Image{Format: format, Width: b.Dx(), Height: b.Dy(), Image: img})
	})
}
