// Package inventory defines the vehicle domain types, the collaborator
// interfaces of the ingestion pipeline and its error taxonomy.
package inventory

import (
	"encoding/json"
	"strings"
	"time"
)

// Action describes what an upsert did to the vehicle row.
type Action string

const (
	// ActionCreated means no vehicle carried the CRM id and a row was inserted.
	ActionCreated Action = "created"
	// ActionUpdated means an existing row was updated in place.
	ActionUpdated Action = "updated"
	// ActionSold means only the published flag was cleared.
	ActionSold Action = "sold"
)

// Vehicle is a stored vehicle with its images.
type Vehicle struct {
	ID               string          `json:"id"`
	CRMID            string          `json:"crmid"`
	Slug             string          `json:"slug"`
	Title            string          `json:"title"`
	Brand            string          `json:"brand"`
	Model            string          `json:"model"`
	Year             int             `json:"year"`
	Price            float64         `json:"price"`
	Km               *int            `json:"km"`
	GearType         *string         `json:"gear_type"`
	FuelType         *string         `json:"fuel_type"`
	Condition        *string         `json:"condition"`
	Hand             *int            `json:"hand"`
	Categories       []string        `json:"categories"`
	ShortDescription *string         `json:"short_description"`
	IsPublished      bool            `json:"is_published"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Images           []VehicleImage  `json:"images"`
}

// VehicleFields carries the columns a webhook supplies. A nil pointer (or nil
// slice) means the CRM did not send the field and the stored value is kept.
type VehicleFields struct {
	Slug             *string
	Title            *string
	Brand            *string
	Model            *string
	Year             *int
	Price            *float64
	Km               *int
	GearType         *string
	FuelType         *string
	Condition        *string
	Hand             *int
	Categories       []string
	ShortDescription *string
	IsPublished      *bool
	RawData          json.RawMessage
}

// UpsertResult reports the row touched by an upsert.
type UpsertResult struct {
	VehicleID string
	Slug      string
	Action    Action
}

// VehicleImage is one stored image of a vehicle. ImageURL always points into
// our object storage, never at the source the CRM supplied.
type VehicleImage struct {
	ID         string    `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	ImageURL   string    `json:"image_url"`
	Position   int       `json:"position"`
	AltText    *string   `json:"alt_text"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ImageRequest is one image the CRM asked us to attach.
type ImageRequest struct {
	URL      string
	Position int
	AltText  *string
}

// IsInline reports whether the request embeds the image as a data URI.
func (r ImageRequest) IsInline() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(r.URL)), "data:")
}

// DownloadedImage holds the bytes fetched for one image request.
type DownloadedImage struct {
	Body        []byte
	Filename    string
	ContentType string
	SourceURL   string
}

// VehicleEvent is published after a webhook changed a vehicle.
type VehicleEvent struct {
	CRMID       string    `json:"crmid"`
	VehicleID   string    `json:"vehicle_id"`
	Slug        string    `json:"slug,omitempty"`
	Action      Action    `json:"action"`
	ImagesAdded int       `json:"images_added"`
	OccurredAt  time.Time `json:"occurred_at"`
}
