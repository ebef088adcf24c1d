package inventory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVehicleNotFound is returned when no vehicle matches the given key.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrObjectExists is returned by blob stores asked to overwrite an object.
	ErrObjectExists = errors.New("object already exists")
)

// ValidationError is a rejected webhook payload. Nothing has been written.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewMissingFieldsError lists required payload fields that were absent.
func NewMissingFieldsError(scope string, fields []string) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf("Missing required fields for %s: %s", scope, strings.Join(fields, ", "))}
}

// UpsertError wraps a failed vehicle write. Image reconciliation never starts
// after one.
type UpsertError struct {
	CRMID string
	Err   error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert vehicle %s: %v", e.CRMID, e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}

// DownloadHTTPError is a non-2xx answer from an image or landing page source.
type DownloadHTTPError struct {
	URL        string
	StatusCode int
}

func (e *DownloadHTTPError) Error() string {
	return fmt.Sprintf("download %s: http status %d", e.URL, e.StatusCode)
}

// BodyTooLargeError is a response body over the configured download limit.
type BodyTooLargeError struct {
	URL   string
	Limit int
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("download %s: body exceeds %d bytes", e.URL, e.Limit)
}

// InvalidContentTypeError is a response that does not look like an image.
type InvalidContentTypeError struct {
	URL         string
	ContentType string
}

func (e *InvalidContentTypeError) Error() string {
	ct := e.ContentType
	if ct == "" {
		ct = "<empty>"
	}
	return fmt.Sprintf("download %s: content type %s is not an image", e.URL, ct)
}

// ExtractionError means a landing page did not yield a download URL.
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract download url from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract download url from %s: %s", e.URL, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// StorageUploadError is a backend rejection of an object write.
type StorageUploadError struct {
	Path string
	Err  error
}

func (e *StorageUploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *StorageUploadError) Unwrap() error {
	return e.Err
}

// PublicURLUnavailableError means an object was written but no public URL
// could be derived for it.
type PublicURLUnavailableError struct {
	Path string
	Err  error
}

func (e *PublicURLUnavailableError) Error() string {
	return fmt.Sprintf("public url for %s: %v", e.Path, e.Err)
}

func (e *PublicURLUnavailableError) Unwrap() error {
	return e.Err
}

// PositionOutOfRangeError rejects an image whose position is outside
// [1, Max] or already claimed in the same batch.
type PositionOutOfRangeError struct {
	Position  int
	Max       int
	Duplicate bool
}

func (e *PositionOutOfRangeError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("image position %d requested more than once", e.Position)
	}
	return fmt.Sprintf("image position must be between 1 and %d, got %d", e.Max, e.Position)
}

// ImageReconciliationError wraps any failure of the image step of a webhook.
// It is logged at the coordinator boundary and never fails the request.
type ImageReconciliationError struct {
	VehicleID string
	Err       error
}

func (e *ImageReconciliationError) Error() string {
	return fmt.Sprintf("reconcile images for vehicle %s: %v", e.VehicleID, e.Err)
}

func (e *ImageReconciliationError) Unwrap() error {
	return e.Err
}
