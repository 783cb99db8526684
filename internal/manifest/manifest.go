// Package manifest reads asset bundles: the list of resources a loader
// should fetch, from a JSON file or from Postgres.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
	"github.com/tinoosan/preload/internal/loader"
	"github.com/tinoosan/preload/internal/resource"
)

var (
	ErrNoAssets      = errors.New("manifest has no assets")
	ErrBundleUnknown = errors.New("bundle not found")
)

// Source is one candidate location of a media asset.
type Source struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

// Asset is one entry of a manifest.
type Asset struct {
	Name         string         `json:"name,omitempty"`
	URL          string         `json:"url"`
	LoadType     string         `json:"loadType,omitempty"`
	ResponseKind string         `json:"responseKind,omitempty"`
	CrossOrigin  string         `json:"crossOrigin,omitempty"`
	TimeoutMS    int            `json:"timeoutMs,omitempty"`
	Sources      []Source       `json:"sources,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Manifest is a named bundle of assets plus optional loader settings that
// override the environment.
type Manifest struct {
	Bundle       string  `json:"bundle,omitempty"`
	BaseURL      string  `json:"baseUrl,omitempty"`
	DefaultQuery string  `json:"defaultQuery,omitempty"`
	Concurrency  int     `json:"concurrency,omitempty"`
	Assets       []Asset `json:"assets"`
}

// Provider returns the manifest of a bundle.
type Provider interface {
	Manifest(ctx context.Context, bundle string) (*Manifest, error)
}

// Decode reads a JSON manifest. Unknown fields are rejected.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadFile decodes the manifest stored at path.
func ReadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Validate checks that every asset has a URL and a supported load type and
// response kind.
func (m *Manifest) Validate() error {
	if len(m.Assets) == 0 {
		return ErrNoAssets
	}
	for i, a := range m.Assets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("asset %d (%s): %w", i, a.Name, err)
		}
	}
	return nil
}

// Inputs converts the assets into loader inputs, in manifest order.
func (m *Manifest) Inputs() loader.Input {
	in := make([]loader.Input, 0, len(m.Assets))
	for _, a := range m.Assets {
		in = append(in, a.Input())
	}
	return loader.List(in...)
}

// Validate checks a single asset.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return data.ErrMissingURL
	}
	if _, err := parseLoadType(a.LoadType); err != nil {
		return err
	}
	if _, err := parseResponseKind(a.ResponseKind); err != nil {
		return err
	}
	return nil
}

// Input converts a validated asset into a loader input. Unknown load types
// and response kinds fall back to the extension tables.
func (a Asset) Input() loader.Input {
	lt, _ := parseLoadType(a.LoadType)
	rk, _ := parseResponseKind(a.ResponseKind)
	opts := resource.Options{
		LoadType:     lt,
		ResponseKind: rk,
		CrossOrigin:  a.CrossOrigin,
		Timeout:      time.Duration(a.TimeoutMS) * time.Millisecond,
		Metadata:     a.Metadata,
	}
	for _, s := range a.Sources {
		opts.Sources = append(opts.Sources, downloader.Source{URL: s.URL, MimeType: s.MimeType})
	}
	return loader.Spec{Name: a.Name, URL: a.URL, Options: opts}
}

func parseLoadType(s string) (data.LoadType, error) {
	switch lt := data.LoadType(strings.ToLower(s)); lt {
	case "":
		return "", nil
	case data.LoadRequest, data.LoadImage, data.LoadAudio, data.LoadVideo:
		return lt, nil
	default:
		return "", fmt.Errorf("unknown load type %q", s)
	}
}

func parseResponseKind(s string) (data.ResponseKind, error) {
	switch k := data.ResponseKind(strings.ToLower(s)); k {
	case data.ResponseDefault:
		return k, nil
	case "buffer":
		return data.ResponseBuffer, nil
	case data.ResponseBuffer, data.ResponseBlob, data.ResponseDocument, data.ResponseJSON, data.ResponseText:
		return k, nil
	default:
		return "", fmt.Errorf("unknown response kind %q", s)
	}
}

// File serves a single manifest read from disk. The bundle argument is
// checked against the manifest's own bundle name when both are set.
type File struct {
	Path string
}

func (f File) Manifest(_ context.Context, bundle string) (*Manifest, error) {
	m, err := ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if bundle != "" && m.Bundle != "" && m.Bundle != bundle {
		return nil, fmt.Errorf("%s: %w", bundle, ErrBundleUnknown)
	}
	return m, nil
}
