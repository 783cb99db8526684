package element

import (
	"context"
	"net/http"
	"strings"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
)

// Media is a multi-source element: each source is tried in order and the
// first one that loads wins.
type Media struct {
	base
	typ data.Type
}

var _ downloader.Strategy = (*Media)(nil)

// MediaFactory returns a factory of media strategies producing resources of
// type typ (data.TypeAudio or data.TypeVideo).
func MediaFactory(hc *http.Client, typ data.Type) downloader.Factory {
	return func() downloader.Strategy { return &Media{base: base{hc: hc}, typ: typ} }
}

func (s *Media) Load(ctx context.Context, req downloader.Request, rep downloader.Reporter) {
	sources := req.Sources
	if len(sources) == 0 && req.URL != "" {
		sources = []downloader.Source{{URL: req.URL}}
	}
	kind := string(s.typ)
	if len(sources) == 0 {
		rep.Error("Unsupported element: " + kind)
		return
	}
	s.start(ctx, func(ctx context.Context) {
		for _, src := range sources {
			if ctx.Err() != nil {
				break
			}
			body, ct, err := s.fetch(ctx, src.URL, rep)
			if err != nil {
				continue
			}
			if src.MimeType != "" && !mimeMatches(src.MimeType, ct) {
				continue
			}
			if src.MimeType != "" {
				ct = src.MimeType
			}
			rep.Complete(s.typ, data.Media{Source: src.URL, ContentType: ct, Bytes: body})
			return
		}
		rep.Error(failed(kind))
	})
}

// mimeMatches accepts a served type when it equals the declared one or the
// server only sent a generic type.
func mimeMatches(declared, served string) bool {
	served = strings.TrimSpace(strings.SplitN(served, ";", 2)[0])
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	switch served {
	case declared, "application/octet-stream", "":
		return true
	}
	return false
}
