package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/loadcfg"
	"github.com/tinoosan/preload/internal/loader"
)

const sample = `{
  "bundle": "level-1",
  "baseUrl": "https://cdn.example.com/game",
  "assets": [
    {"name": "hero", "url": "sheets/hero.json"},
    {"url": "img/bg.png", "crossOrigin": "anonymous", "timeoutMs": 1500},
    {"name": "theme", "url": "audio/theme.ogg", "loadType": "audio",
     "sources": [{"url": "audio/theme.ogg", "mimeType": "audio/ogg"}, {"url": "audio/theme.mp3"}]},
    {"name": "font", "url": "fonts/ui.fnt", "responseKind": "document", "metadata": {"size": 12}}
  ]
}`

func TestDecode(t *testing.T) {
	m, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Bundle != "level-1" || m.BaseURL != "https://cdn.example.com/game" || len(m.Assets) != 4 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	want := []Source{{URL: "audio/theme.ogg", MimeType: "audio/ogg"}, {URL: "audio/theme.mp3"}}
	if diff := cmp.Diff(want, m.Assets[2].Sources); diff != "" {
		t.Fatalf("sources (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "unknown field", in: `{"assets":[{"url":"a.png"}],"extra":1}`},
		{name: "no assets", in: `{"assets":[]}`, want: ErrNoAssets},
		{name: "missing url", in: `{"assets":[{"name":"a"}]}`, want: data.ErrMissingURL},
		{name: "bad load type", in: `{"assets":[{"url":"a.png","loadType":"canvas"}]}`},
		{name: "bad response kind", in: `{"assets":[{"url":"a.png","responseKind":"stream"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.in))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInputsRegisterResources(t *testing.T) {
	m, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg := loadcfg.Default()
	cfg.BaseURL = m.BaseURL
	l, err := loader.New(cfg)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	defer l.Reset()
	if err := l.Add(m.Inputs()); err != nil {
		t.Fatalf("add: %v", err)
	}

	if diff := cmp.Diff([]string{"hero", "img/bg.png", "theme", "font"}, l.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	bg, _ := l.Resource("img/bg.png")
	if bg.URL() != "https://cdn.example.com/game/img/bg.png" || bg.Timeout() != 1500*time.Millisecond || bg.CrossOrigin() != data.CrossOriginAnonymous {
		t.Fatalf("bg: url=%s timeout=%v crossOrigin=%q", bg.URL(), bg.Timeout(), bg.CrossOrigin())
	}
	theme, _ := l.Resource("theme")
	if theme.LoadType() != data.LoadAudio {
		t.Fatalf("theme load type = %s", theme.LoadType())
	}
	font, _ := l.Resource("font")
	if font.ResponseKind() != data.ResponseDocument || font.Metadata()["size"] != float64(12) {
		t.Fatalf("font: kind=%s metadata=%v", font.ResponseKind(), font.Metadata())
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := File{Path: path}
	if _, err := f.Manifest(context.Background(), "level-1"); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if _, err := f.Manifest(context.Background(), "level-2"); !errors.Is(err, ErrBundleUnknown) {
		t.Fatalf("other bundle: %v", err)
	}
	if _, err := (File{Path: filepath.Join(t.TempDir(), "missing.json")}).Manifest(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

// TestPostgresRoundTrip needs a database; set PRELOAD_TEST_DATABASE_URL to
// run it.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("PRELOAD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRELOAD_TEST_DATABASE_URL not set")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = p.Close() }()

	bundle := "test-" + strings.ReplaceAll(t.Name(), "/", "-")
	in := &Manifest{Bundle: bundle, Assets: []Asset{
		{Name: "b", URL: "b.png", LoadType: "image"},
		{Name: "a", URL: "a.json", ResponseKind: "json"},
	}}
	ctx := context.Background()
	if err := p.Put(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}
	t.Cleanup(func() {
		_, _ = p.db.ExecContext(ctx, `DELETE FROM preload_assets WHERE bundle=$1`, bundle)
	})

	got, err := p.Manifest(ctx, bundle)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if diff := cmp.Diff(in.Assets, got.Assets); diff != "" {
		t.Fatalf("assets (-want +got):\n%s", diff)
	}
	if _, err := p.Manifest(ctx, bundle+"-missing"); !errors.Is(err, ErrBundleUnknown) {
		t.Fatalf("missing bundle: %v", err)
	}
}
