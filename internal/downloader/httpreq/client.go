package httpreq

import (
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/tinoosan/preload/internal/downloader"
)

// Client holds what every request strategy of a loader shares: the HTTP
// clients, the optional rate limiter and the document origin sent on
// cross-origin requests.
type Client struct {
	http     *http.Client
	withCred *http.Client
	limiter  *rate.Limiter
	origin   string
	log      *slog.Logger
}

// Options configures NewClient. Zero values mean no limit and no origin.
type Options struct {
	HTTP      *http.Client
	Origin    *url.URL
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// NewClient builds a Client. When opts.HTTP is nil a client is built whose
// transport also serves file:// URLs from the local filesystem and decodes
// data: URLs in place.
func NewClient(opts Options) *Client {
	hc := opts.HTTP
	if hc == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
		t.RegisterProtocol("data", dataTransport{})
		hc = &http.Client{Transport: t}
	}
	jar, _ := cookiejar.New(nil)
	withCred := *hc
	withCred.Jar = jar

	c := &Client{http: hc, withCred: &withCred, log: opts.Logger}
	if c.log == nil {
		c.log = slog.Default()
	}
	if opts.Origin != nil && opts.Origin.Host != "" {
		c.origin = opts.Origin.Scheme + "://" + opts.Origin.Host
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// HTTP returns the client used for requests without credentials.
func (c *Client) HTTP() *http.Client { return c.http }

// Factory returns a strategy factory bound to c.
func (c *Client) Factory() downloader.Factory {
	return func() downloader.Strategy { return &Strategy{c: c} }
}

func (c *Client) clientFor(crossOrigin string) *http.Client {
	if crossOrigin == "use-credentials" {
		return c.withCred
	}
	return c.http
}
