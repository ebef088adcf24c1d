package inventory

import (
	"context"
	"io"
	"time"
)

// VehicleStore persists vehicle rows.
type VehicleStore interface {
	UpsertByCRMID(ctx context.Context, crmid string, fields VehicleFields) (UpsertResult, error)
	MarkSoldByCRMID(ctx context.Context, crmid string) (UpsertResult, error)
	DeleteByCRMID(ctx context.Context, crmid string) (bool, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (Vehicle, error)
}

// ImageStore persists vehicle image rows.
type ImageStore interface {
	ListByVehicle(ctx context.Context, vehicleID string) ([]VehicleImage, error)
	// ReplaceImages atomically swaps every image row of the vehicle for
	// images and reports how many rows were removed.
	ReplaceImages(ctx context.Context, vehicleID string, images []VehicleImage) (int64, error)
}

// BlobStore writes objects and derives their public URLs. PutObject must
// refuse to replace an existing object and return ErrObjectExists instead.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	PublicURL(path string) (string, error)
}

// Publisher pushes vehicle change events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
