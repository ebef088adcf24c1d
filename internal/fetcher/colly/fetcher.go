// Package collyfetcher implements the HTTP transport for image and landing
// page downloads using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// DefaultUserAgent is a desktop Chrome agent. Some file hosts refuse
// anything that does not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Accept headers sent for the two kinds of fetches.
const (
	AcceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	AcceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes rejects larger bodies with *inventory.BodyTooLargeError.
	// Zero means no limit.
	MaxBodyBytes int
}

// Response is the raw outcome of a 2xx GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetcher issues single GET requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Get fetches rawURL. Any status outside 2xx yields an
// *inventory.DownloadHTTPError carrying the code, and a body over
// MaxBodyBytes an *inventory.BodyTooLargeError.
func (f *Fetcher) Get(ctx context.Context, rawURL string, accept string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, accept, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Response{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return Response{}, &inventory.DownloadHTTPError{URL: rawURL, StatusCode: result.StatusCode}
	}
	if f.tooLarge(result) {
		return Response{}, &inventory.BodyTooLargeError{URL: rawURL, Limit: f.cfg.MaxBodyBytes}
	}
	return result, nil
}

// tooLarge trusts a declared Content-Length and otherwise relies on the
// collector reading one byte past the limit.
func (f *Fetcher) tooLarge(resp Response) bool {
	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		return false
	}
	if len(resp.Body) > limit {
		return true
	}
	declared, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)
	return err == nil && declared > int64(limit)
}

// GetPage fetches an HTML page and returns its body.
func (f *Fetcher) GetPage(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.Get(ctx, rawURL, AcceptHTML)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.AllowURLRevisit = true
	// Error statuses still reach OnResponse so the status code can be reported.
	collector.ParseHTTPErrorResponse = true
	// One byte over the limit lets Get tell a full body from a cut one.
	collector.MaxBodySize = 0
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes + 1
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	accept string,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if accept != "" {
			r.Headers.Set("Accept", accept)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
