// Package upload stores downloaded vehicle images in object storage under
// collision free paths.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/moshe-connectio/car-template-demo/internal/fetcher"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// DefaultPrefix is the top level folder for vehicle images.
const DefaultPrefix = "vehicles"

const idSuffixLen = 8

var contentTypesByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// Input describes one image to store.
type Input struct {
	Body        []byte
	VehicleID   string
	Position    int
	Filename    string
	ContentType string
}

// Uploader writes images through a BlobStore.
type Uploader struct {
	store  inventory.BlobStore
	clock  inventory.Clock
	prefix string
}

// New builds an Uploader. An empty prefix selects DefaultPrefix.
func New(store inventory.BlobStore, clock inventory.Clock, prefix string) *Uploader {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Uploader{store: store, clock: clock, prefix: prefix}
}

// Upload stores in.Body and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, in Input) (string, error) {
	if len(in.Body) == 0 {
		return "", &inventory.StorageUploadError{Path: "", Err: errors.New("empty image body")}
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(in.Filename), "."))
	if _, ok := contentTypesByExt[ext]; !ok {
		ext = fetcher.InferExtension(in.ContentType, "")
	}
	objectPath := u.ObjectPath(in.VehicleID, in.Position, ext)
	contentType := ChooseContentType(in.ContentType, in.Filename)

	if _, err := u.store.PutObject(ctx, objectPath, contentType, bytes.NewReader(in.Body)); err != nil {
		return "", &inventory.StorageUploadError{Path: objectPath, Err: err}
	}
	publicURL, err := u.store.PublicURL(objectPath)
	if err != nil {
		return "", &inventory.PublicURLUnavailableError{Path: objectPath, Err: err}
	}
	if publicURL == "" {
		return "", &inventory.PublicURLUnavailableError{Path: objectPath, Err: errors.New("empty public url")}
	}
	return publicURL, nil
}

// ObjectPath builds <prefix>/<id suffix>/<position>-<unix millis>.<ext>.
func (u *Uploader) ObjectPath(vehicleID string, position int, ext string) string {
	name := fmt.Sprintf("%d-%d.%s", position, u.clock.Now().UnixMilli(), ext)
	return path.Join(u.prefix, IDSuffix(vehicleID), name)
}

// IDSuffix returns the last eight ASCII letters or digits of id.
func IDSuffix(id string) string {
	var kept []rune
	for _, r := range id {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			kept = append(kept, unicode.ToLower(r))
		}
	}
	if len(kept) > idSuffixLen {
		kept = kept[len(kept)-idSuffixLen:]
	}
	if len(kept) == 0 {
		return "unknown"
	}
	return string(kept)
}

// ChooseContentType prefers a reported image/* type and otherwise derives
// one from the filename extension.
func ChooseContentType(reported, filename string) string {
	mt, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(reported)), ";")
	mt = strings.TrimSpace(mt)
	if strings.HasPrefix(mt, "image/") {
		return mt
	}
	if ct, ok := contentTypesByExt[strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))]; ok {
		return ct
	}
	return "application/octet-stream"
}
