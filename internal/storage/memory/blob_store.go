// Package memory keeps vehicles, images and blobs in process for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// BlobStore stores objects in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	types   map[string]string
	baseURL string
}

// NewBlobStore creates a new in-memory blob store. When publicBaseURL is
// empty, public URLs use the memory:// scheme.
func NewBlobStore(publicBaseURL string) *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// PutObject persists the content and returns a URI. Existing paths are never
// replaced.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[path]; exists {
		return "", fmt.Errorf("put %s: %w", path, inventory.ErrObjectExists)
	}
	s.data[path] = byteData
	s.types[path] = contentType
	return fmt.Sprintf("memory://%s", path), nil
}

// PublicURL returns the URL a browser would use for path.
func (s *BlobStore) PublicURL(path string) (string, error) {
	if s.baseURL == "" {
		return fmt.Sprintf("memory://%s", path), nil
	}
	return s.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

// Object returns a copy of the stored bytes and content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[path], true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
