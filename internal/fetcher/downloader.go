// Package fetcher downloads remote vehicle images and decides whether what
// came back is actually an image.
package fetcher

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/moshe-connectio/car-template-demo/internal/fetcher/colly"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	"github.com/moshe-connectio/car-template-demo/internal/resolver"
)

// DefaultFilename is used when the response carries no usable filename.
const DefaultFilename = "image"

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "bmp": true,
}

var extensionsByType = map[string]string{
	"image/jpeg":  "jpg",
	"image/jpg":   "jpg",
	"image/pjpeg": "jpg",
	"image/png":   "png",
	"image/gif":   "gif",
	"image/webp":  "webp",
	"image/bmp":   "bmp",
}

// Transport performs a single GET.
type Transport interface {
	Get(ctx context.Context, rawURL string, accept string) (collyfetcher.Response, error)
}

// Resolver maps a CRM supplied URL to the URL to download.
type Resolver interface {
	Resolve(rawURL string) resolver.Resolution
}

// Downloader fetches one image, with at most one extraction fallback for
// landing page links.
type Downloader struct {
	transport Transport
	resolver  Resolver
	logger    *zap.Logger
}

// NewDownloader wires a Downloader.
func NewDownloader(transport Transport, res Resolver, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{transport: transport, resolver: res, logger: logger}
}

// Download resolves rawURL and returns the image bytes.
func (d *Downloader) Download(ctx context.Context, rawURL string) (inventory.DownloadedImage, error) {
	res := d.resolver.Resolve(rawURL)
	resp, err := d.transport.Get(ctx, res.URL, collyfetcher.AcceptImage)
	if err != nil {
		return inventory.DownloadedImage{}, fmt.Errorf("download %s: %w", res.URL, err)
	}
	contentType := mediaType(resp.Headers.Get("Content-Type"))
	if IsImageLike(contentType, res.URL, res.Trusted) {
		return buildImage(resp, res.URL, contentType), nil
	}
	if res.Fallback == nil {
		return inventory.DownloadedImage{}, &inventory.InvalidContentTypeError{URL: res.URL, ContentType: contentType}
	}

	d.logger.Debug("landing page returned, extracting download url",
		zap.String("url", res.URL),
		zap.String("content_type", contentType),
	)
	direct, err := res.Fallback.Extract(ctx, res.URL)
	if err != nil {
		return inventory.DownloadedImage{}, err
	}
	resp, err = d.transport.Get(ctx, direct, collyfetcher.AcceptImage)
	if err != nil {
		return inventory.DownloadedImage{}, fmt.Errorf("download extracted %s: %w", direct, err)
	}
	contentType = mediaType(resp.Headers.Get("Content-Type"))
	if !IsImageLike(contentType, direct, res.Trusted) {
		return inventory.DownloadedImage{}, &inventory.InvalidContentTypeError{URL: direct, ContentType: contentType}
	}
	return buildImage(resp, direct, contentType), nil
}

// IsImageLike reports whether a response with the given media type, fetched
// from rawURL, should be treated as an image. Trusted sources pass unless
// they served an HTML page.
func IsImageLike(contentType, rawURL string, trusted bool) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image"):
		return true
	case ct == "application/octet-stream", ct == "binary/octet-stream":
		return true
	case ct == "" && imageExtensions[urlExtension(rawURL)]:
		return true
	case trusted && ct != "text/html" && ct != "application/xhtml+xml":
		return true
	}
	return false
}

func buildImage(resp collyfetcher.Response, sourceURL, contentType string) inventory.DownloadedImage {
	return inventory.DownloadedImage{
		Body:        resp.Body,
		Filename:    EnsureExtension(FilenameFromDisposition(resp.Headers.Get("Content-Disposition")), contentType, sourceURL),
		ContentType: contentType,
		SourceURL:   sourceURL,
	}
}

// FilenameFromDisposition extracts the filename from a Content-Disposition
// header. The RFC 5987 filename* form wins over filename.
func FilenameFromDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return DefaultFilename
	}
	var name string
	if _, params, err := mime.ParseMediaType(header); err == nil {
		name = params["filename"]
	} else {
		name = scanDispositionParams(header)
	}
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return DefaultFilename
	}
	return name
}

// scanDispositionParams handles headers mime rejects, such as unquoted names
// with spaces.
func scanDispositionParams(header string) string {
	plain := ""
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "filename*":
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if _, encoded, found := strings.Cut(value, "''"); found {
				value = encoded
			}
			if decoded, err := url.PathUnescape(value); err == nil {
				return decoded
			}
			return value
		case "filename":
			plain = value
		}
	}
	return plain
}

// EnsureExtension appends an extension to name when it lacks a known image
// extension, inferred from the content type, then the URL, then jpg.
func EnsureExtension(name, contentType, rawURL string) string {
	if imageExtensions[strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))] {
		return name
	}
	return name + "." + InferExtension(contentType, rawURL)
}

// InferExtension picks a file extension for an image.
func InferExtension(contentType, rawURL string) string {
	if ext, ok := extensionsByType[strings.ToLower(mediaType(contentType))]; ok {
		return ext
	}
	if ext := urlExtension(rawURL); imageExtensions[ext] {
		return ext
	}
	return "jpg"
}

func urlExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

func mediaType(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(header, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
