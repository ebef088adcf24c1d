package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/moshe-connectio/car-template-demo/internal/fetcher/colly"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	"github.com/moshe-connectio/car-template-demo/internal/resolver"
)

func TestDownloadDirectImage(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.responses["https://cdn.example.com/car.png"] = response("image/png", "", "png")
	d := NewDownloader(transport, newTestResolver(nil), nil)

	img, err := d.Download(context.Background(), "https://cdn.example.com/car.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), img.Body)
	require.Equal(t, "image/png", img.ContentType)
	require.Equal(t, "image.png", img.Filename)
	require.Equal(t, "https://cdn.example.com/car.png", img.SourceURL)
	require.Equal(t, []string{collyfetcher.AcceptImage}, transport.accepts)
}

func TestDownloadDriveLinkIsRewrittenBeforeFetch(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.responses["https://drive.google.com/uc?export=download&id=F1"] = response("application/octet-stream", `attachment; filename="front.JPG"`, "x")
	d := NewDownloader(transport, newTestResolver(nil), nil)

	img, err := d.Download(context.Background(), "https://drive.google.com/file/d/F1/view")
	require.NoError(t, err)
	require.Equal(t, "front.JPG", img.Filename)
	require.Equal(t, []string{"https://drive.google.com/uc?export=download&id=F1"}, transport.calls)
}

func TestDownloadRejectsHTMLFromUntrustedHost(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.responses["https://cdn.example.com/page"] = response("text/html; charset=utf-8", "", "<html/>")
	d := NewDownloader(transport, newTestResolver(nil), nil)

	_, err := d.Download(context.Background(), "https://cdn.example.com/page")
	var ctErr *inventory.InvalidContentTypeError
	require.True(t, errors.As(err, &ctErr))
	require.Equal(t, "text/html", ctErr.ContentType)
}

func TestDownloadPropagatesHTTPStatus(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	d := NewDownloader(transport, newTestResolver(nil), nil)

	_, err := d.Download(context.Background(), "https://cdn.example.com/missing.jpg")
	var httpErr *inventory.DownloadHTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestDownloadLandingServedDirectly(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	link := "https://contoso.sharepoint.com/:i:/s/cars/E1"
	transport.responses[link] = response("application/x-unknown", "", "bytes")
	extractor := &fakeExtractor{url: "https://contoso.sharepoint.com/download.aspx?id=1"}
	d := NewDownloader(transport, newTestResolver(extractor), nil)

	img, err := d.Download(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, []byte("bytes"), img.Body)
	require.Zero(t, extractor.calls)
}

func TestDownloadLandingFallsBackOnce(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	link := "https://contoso.sharepoint.com/:i:/s/cars/E1"
	direct := "https://contoso.sharepoint.com/download.aspx?id=1"
	transport.responses[link] = response("text/html", "", "<html/>")
	transport.responses[direct] = response("", `attachment; filename*=UTF-8''%D7%A8%D7%9B%D7%91.webp`, "webp")
	extractor := &fakeExtractor{url: direct}
	d := NewDownloader(transport, newTestResolver(extractor), nil)

	img, err := d.Download(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, 1, extractor.calls)
	require.Equal(t, "רכב.webp", img.Filename)
	require.Equal(t, direct, img.SourceURL)
	require.Equal(t, []string{link, direct}, transport.calls)
}

func TestDownloadLandingSecondFailureIsFinal(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	link := "https://contoso.sharepoint.com/:i:/s/cars/E1"
	direct := "https://contoso.sharepoint.com/download.aspx?id=1"
	transport.responses[link] = response("text/html", "", "<html/>")
	transport.responses[direct] = response("text/html", "", "<html/>")
	extractor := &fakeExtractor{url: direct}
	d := NewDownloader(transport, newTestResolver(extractor), nil)

	_, err := d.Download(context.Background(), link)
	var ctErr *inventory.InvalidContentTypeError
	require.True(t, errors.As(err, &ctErr))
	require.Equal(t, 1, extractor.calls)
	require.Len(t, transport.calls, 2)
}

func TestDownloadLandingExtractionError(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	link := "https://contoso.sharepoint.com/:i:/s/cars/E1"
	transport.responses[link] = response("text/html", "", "<html/>")
	extractor := &fakeExtractor{err: &inventory.ExtractionError{URL: link, Reason: "downloadUrl not found in page"}}
	d := NewDownloader(transport, newTestResolver(extractor), nil)

	_, err := d.Download(context.Background(), link)
	var exErr *inventory.ExtractionError
	require.True(t, errors.As(err, &exErr))
}

func TestIsImageLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		url         string
		trusted     bool
		want        bool
	}{
		{name: "image type", contentType: "image/jpeg", url: "https://x/a", want: true},
		{name: "octet stream", contentType: "application/octet-stream", url: "https://x/a", want: true},
		{name: "binary octet stream", contentType: "binary/octet-stream", url: "https://x/a", want: true},
		{name: "empty with extension", contentType: "", url: "https://x/a.WEBP?x=1", want: true},
		{name: "empty without extension", contentType: "", url: "https://x/a", want: false},
		{name: "json", contentType: "application/json", url: "https://x/a.jpg", want: false},
		{name: "trusted unknown", contentType: "application/x-foo", url: "https://x/a", trusted: true, want: true},
		{name: "trusted html", contentType: "text/html", url: "https://x/a", trusted: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsImageLike(tt.contentType, tt.url, tt.trusted))
		})
	}
}

func TestFilenameFromDisposition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: "image"},
		{header: "inline", want: "image"},
		{header: `attachment; filename="car 1.png"`, want: "car 1.png"},
		{header: `attachment; filename=car.jpg`, want: "car.jpg"},
		{header: `attachment; filename="fallback.jpg"; filename*=UTF-8''real%20name.png`, want: "real name.png"},
		{header: `attachment; filename=my car.gif`, want: "my car.gif"},
		{header: `attachment; filename="../../etc/passwd"`, want: "passwd"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FilenameFromDisposition(tt.header), tt.header)
	}
}

func TestEnsureExtension(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.png", EnsureExtension("a.png", "image/jpeg", ""))
	require.Equal(t, "image.gif", EnsureExtension("image", "image/gif", ""))
	require.Equal(t, "image.bmp", EnsureExtension("image", "application/octet-stream", "https://x/y/z.bmp"))
	require.Equal(t, "scan.pdf.jpg", EnsureExtension("scan.pdf", "", "https://x/y"))
}

func newTestResolver(extractor resolver.Fallback) *resolver.Resolver {
	return resolver.New(resolver.Config{
		DriveHosts:   []string{"drive.google.com"},
		LandingHosts: []string{"sharepoint.com"},
	}, extractor)
}

func response(contentType, disposition, body string) collyfetcher.Response {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	if disposition != "" {
		headers.Set("Content-Disposition", disposition)
	}
	return collyfetcher.Response{StatusCode: http.StatusOK, Headers: headers, Body: []byte(body)}
}

type fakeTransport struct {
	responses map[string]collyfetcher.Response
	calls     []string
	accepts   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[string]collyfetcher.Response{}}
}

func (f *fakeTransport) Get(_ context.Context, rawURL, accept string) (collyfetcher.Response, error) {
	f.calls = append(f.calls, rawURL)
	f.accepts = append(f.accepts, accept)
	resp, ok := f.responses[rawURL]
	if !ok {
		return collyfetcher.Response{}, &inventory.DownloadHTTPError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	resp.URL = rawURL
	return resp, nil
}

type fakeExtractor struct {
	url   string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string) (string, error) {
	f.calls++
	return f.url, f.err
}
