package httpreq

import (
	"testing"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
)

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		ct      string
		body    string
		wantErr bool
	}{
		{name: "plain", raw: "data:,hello%20world", ct: "text/plain;charset=US-ASCII", body: "hello world"},
		{name: "typed", raw: "data:application/json,%7B%22a%22%3A1%7D", ct: "application/json", body: `{"a":1}`},
		{name: "base64", raw: "data:text/plain;base64,aGVsbG8=", ct: "text/plain", body: "hello"},
		{name: "no comma", raw: "data:text/plain", wantErr: true},
		{name: "bad base64", raw: "data:;base64,!!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, body, err := decodeDataURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ct != tt.ct || string(body) != tt.body {
				t.Fatalf("got (%q, %q), want (%q, %q)", ct, body, tt.ct, tt.body)
			}
		})
	}
}

func TestStrategyLoadsDataURL(t *testing.T) {
	c := NewClient(Options{})
	ev := terminal(load(t, c, downloader.Request{
		URL:          "data:application/json;base64,eyJhIjoxfQ==",
		ResponseKind: data.ResponseJSON,
	}, nil))
	if ev.Type != downloader.EventComplete || ev.DataType != data.TypeJSON {
		t.Fatalf("unexpected event %+v", ev)
	}
	m, ok := ev.Data.(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Fatalf("unexpected payload %#v", ev.Data)
	}
}
