// Package webhook turns CRM vehicle webhooks into vehicle writes and image
// reconciliation.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

var requiredFields = []string{"slug", "title", "brand", "model", "year", "price"}

// Command is the decoded intent of a vehicle webhook: SoldCommand or
// UpsertCommand.
type Command interface {
	CRM() string
}

// SoldCommand clears the published flag and touches nothing else.
type SoldCommand struct {
	CRMID string
}

// CRM returns the CRM id.
func (c SoldCommand) CRM() string { return c.CRMID }

// UpsertCommand creates or updates a vehicle and optionally replaces its
// images.
type UpsertCommand struct {
	CRMID  string
	Fields inventory.VehicleFields
	Images []inventory.ImageRequest
	// Warnings lists fields that were dropped during normalization.
	Warnings []string
}

// CRM returns the CRM id.
func (c UpsertCommand) CRM() string { return c.CRMID }

type envelope struct {
	CRMID        json.RawMessage `json:"crmid"`
	Data         json.RawMessage `json:"data"`
	Images       json.RawMessage `json:"images"`
	MainImageURL *string         `json:"main_image_url"`
	// Sent by older CRM integrations; ignored.
	Action    json.RawMessage `json:"action"`
	VehicleID json.RawMessage `json:"vehicleId"`
}

type imagePayload struct {
	ImageURL string          `json:"image_url"`
	Position json.RawMessage `json:"position"`
	AltText  *string         `json:"alt_text"`
}

// Decode validates a webhook body and normalizes it into a Command. Every
// error is an *inventory.ValidationError.
func Decode(body []byte) (Command, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, invalid("invalid JSON payload: %v", err)
	}
	if isAbsent(env.Data) {
		return nil, invalid("Missing required field: data")
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, invalid("data must be an object")
	}
	crmid, err := decodeCRMID(env.CRMID)
	if err != nil {
		return nil, err
	}

	var published *bool
	if raw, ok := data["is_published"]; ok && !isAbsent(raw) {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid("is_published must be a boolean")
		}
		if !v {
			return SoldCommand{CRMID: crmid}, nil
		}
		published = &v
	}

	cmd := UpsertCommand{CRMID: crmid}
	if err := decodeFields(data, &cmd); err != nil {
		return nil, err
	}
	// Absent means keep whatever the store has.
	cmd.Fields.IsPublished = published
	cmd.Fields.RawData = append(json.RawMessage(nil), env.Data...)

	images, err := decodeImages(env.Images, data)
	if err != nil {
		return nil, err
	}
	mainURL := env.MainImageURL
	if mainURL == nil {
		if raw, ok := data["main_image_url"]; ok && !isAbsent(raw) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, invalid("main_image_url must be a string")
			}
			mainURL = &s
		}
	}
	cmd.Images = withMainImage(images, mainURL)
	return cmd, nil
}

// DecodeCRMID reads the crmid of a minimal {"crmid": ...} body.
func DecodeCRMID(body []byte) (string, error) {
	var env struct {
		CRMID json.RawMessage `json:"crmid"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", invalid("invalid JSON payload: %v", err)
	}
	return decodeCRMID(env.CRMID)
}

// DecodeDeleteTarget reads {"crmid": ...} or {"vehicleId": ...}.
func DecodeDeleteTarget(body []byte) (DeleteTarget, error) {
	var env struct {
		CRMID     json.RawMessage `json:"crmid"`
		VehicleID string          `json:"vehicleId"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return DeleteTarget{}, invalid("invalid JSON payload: %v", err)
	}
	target := DeleteTarget{VehicleID: strings.TrimSpace(env.VehicleID)}
	if !isAbsent(env.CRMID) {
		if s, err := flexString(env.CRMID); err == nil {
			target.CRMID = strings.TrimSpace(s)
		}
	}
	if target.CRMID == "" && target.VehicleID == "" {
		return DeleteTarget{}, invalid(`Missing required field: either "crmid" or "vehicleId" must be provided`)
	}
	return target, nil
}

func decodeCRMID(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", invalid("Missing required field: crmid")
	}
	s, err := flexString(raw)
	if err != nil || strings.TrimSpace(s) == "" {
		return "", invalid("Missing required field: crmid")
	}
	return strings.TrimSpace(s), nil
}

func decodeFields(data map[string]json.RawMessage, cmd *UpsertCommand) error {
	var missing []string
	for _, name := range requiredFields {
		raw, ok := data[name]
		if !ok || isAbsent(raw) {
			missing = append(missing, name)
			continue
		}
		if s, err := flexString(raw); err == nil && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return inventory.NewMissingFieldsError("upsert", missing)
	}

	f := &cmd.Fields
	var err error
	for _, s := range []struct {
		name string
		dst  **string
	}{
		{"slug", &f.Slug},
		{"title", &f.Title},
		{"brand", &f.Brand},
		{"model", &f.Model},
		{"gear_type", &f.GearType},
		{"fuel_type", &f.FuelType},
		{"condition", &f.Condition},
		{"short_description", &f.ShortDescription},
	} {
		if *s.dst, err = optionalString(data, s.name); err != nil {
			return err
		}
	}
	if f.Condition != nil {
		c := inventory.NormalizeCondition(*f.Condition)
		f.Condition = &c
	}
	if f.Year, err = optionalInt(data, "year"); err != nil {
		return err
	}
	if f.Km, err = optionalInt(data, "km"); err != nil {
		return err
	}
	if f.Price, err = optionalFloat(data, "price"); err != nil {
		return err
	}
	if raw, ok := data["categories"]; ok && !isAbsent(raw) {
		if err := json.Unmarshal(raw, &f.Categories); err != nil {
			return invalid("categories must be an array of strings")
		}
	}
	f.Hand, cmd.Warnings = decodeHand(data["hand"], cmd.Warnings)
	return nil
}

// decodeHand passes numbers through and maps ordinal words. Anything else is
// dropped with a warning rather than failing the webhook.
func decodeHand(raw json.RawMessage, warnings []string) (*int, []string) {
	if isAbsent(raw) {
		return nil, warnings
	}
	if n, err := flexNumber(raw); err == nil {
		if n == math.Trunc(n) {
			v := int(n)
			return &v, warnings
		}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if v, ok := inventory.HandFromText(text); ok {
			return &v, warnings
		}
	}
	return nil, append(warnings, fmt.Sprintf("hand %s is not a number or ordinal; ignored", string(raw)))
}

func decodeImages(top json.RawMessage, data map[string]json.RawMessage) ([]inventory.ImageRequest, error) {
	raw := top
	if isAbsent(raw) {
		raw = data["images"]
	}
	if isAbsent(raw) {
		return nil, nil
	}
	var payloads []imagePayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, invalid("images must be an array of {image_url, position, alt_text}")
	}
	out := make([]inventory.ImageRequest, 0, len(payloads))
	for i, p := range payloads {
		req := inventory.ImageRequest{URL: strings.TrimSpace(p.ImageURL), AltText: p.AltText}
		if !isAbsent(p.Position) {
			n, err := flexNumber(p.Position)
			if err != nil || n != math.Trunc(n) {
				return nil, invalid("images[%d].position must be an integer", i)
			}
			req.Position = int(n)
		}
		out = append(out, req)
	}
	return out, nil
}

// withMainImage adds the main image as position 1 unless an explicit entry
// already claims it.
func withMainImage(images []inventory.ImageRequest, mainURL *string) []inventory.ImageRequest {
	if mainURL == nil || strings.TrimSpace(*mainURL) == "" {
		return images
	}
	for _, img := range images {
		if img.Position == 1 {
			return images
		}
	}
	main := inventory.ImageRequest{URL: strings.TrimSpace(*mainURL), Position: 1}
	return append([]inventory.ImageRequest{main}, images...)
}

func optionalString(data map[string]json.RawMessage, name string) (*string, error) {
	raw, ok := data[name]
	if !ok || isAbsent(raw) {
		return nil, nil
	}
	s, err := flexString(raw)
	if err != nil {
		return nil, invalid("%s must be a string", name)
	}
	s = strings.TrimSpace(s)
	return &s, nil
}

func optionalInt(data map[string]json.RawMessage, name string) (*int, error) {
	raw, ok := data[name]
	if !ok || isAbsent(raw) {
		return nil, nil
	}
	n, err := flexNumber(raw)
	if err != nil || n != math.Trunc(n) {
		return nil, invalid("%s must be an integer", name)
	}
	v := int(n)
	return &v, nil
}

func optionalFloat(data map[string]json.RawMessage, name string) (*float64, error) {
	raw, ok := data[name]
	if !ok || isAbsent(raw) {
		return nil, nil
	}
	n, err := flexNumber(raw)
	if err != nil {
		return nil, invalid("%s must be a number", name)
	}
	return &n, nil
}

// flexNumber accepts a JSON number or a string holding one.
func flexNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

// flexString accepts a JSON string or number.
func flexString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("not a string: %s", string(raw))
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func invalid(format string, args ...any) *inventory.ValidationError {
	return &inventory.ValidationError{Msg: fmt.Sprintf(format, args...)}
}
