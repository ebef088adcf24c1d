package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// Store keeps vehicles and their images in memory. It implements both
// inventory.VehicleStore and inventory.ImageStore so deletes can cascade.
type Store struct {
	mu       sync.RWMutex
	ids      inventory.IDGenerator
	clock    inventory.Clock
	vehicles map[string]inventory.Vehicle
	byCRMID  map[string]string
	images   map[string][]inventory.VehicleImage
}

// NewStore constructs a Store.
func NewStore(ids inventory.IDGenerator, clock inventory.Clock) *Store {
	return &Store{
		ids:      ids,
		clock:    clock,
		vehicles: make(map[string]inventory.Vehicle),
		byCRMID:  make(map[string]string),
		images:   make(map[string][]inventory.VehicleImage),
	}
}

// UpsertByCRMID creates the vehicle or updates the provided fields in place.
func (s *Store) UpsertByCRMID(
	_ context.Context,
	crmid string,
	fields inventory.VehicleFields,
) (inventory.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()

	if id, ok := s.byCRMID[crmid]; ok {
		v := s.vehicles[id]
		applyFields(&v, fields)
		v.UpdatedAt = now
		s.vehicles[id] = v
		return inventory.UpsertResult{VehicleID: id, Slug: v.Slug, Action: inventory.ActionUpdated}, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return inventory.UpsertResult{}, fmt.Errorf("generate vehicle id: %w", err)
	}
	v := inventory.Vehicle{ID: id, CRMID: crmid, IsPublished: true, Categories: []string{}, CreatedAt: now, UpdatedAt: now}
	applyFields(&v, fields)
	s.vehicles[id] = v
	s.byCRMID[crmid] = id
	return inventory.UpsertResult{VehicleID: id, Slug: v.Slug, Action: inventory.ActionCreated}, nil
}

// MarkSoldByCRMID clears the published flag.
func (s *Store) MarkSoldByCRMID(_ context.Context, crmid string) (inventory.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCRMID[crmid]
	if !ok {
		return inventory.UpsertResult{}, inventory.ErrVehicleNotFound
	}
	v := s.vehicles[id]
	v.IsPublished = false
	v.UpdatedAt = s.clock.Now().UTC()
	s.vehicles[id] = v
	return inventory.UpsertResult{VehicleID: id, Slug: v.Slug, Action: inventory.ActionSold}, nil
}

// DeleteByCRMID removes the vehicle with crmid and its images.
func (s *Store) DeleteByCRMID(_ context.Context, crmid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCRMID[crmid]
	if !ok {
		return false, nil
	}
	s.deleteLocked(id)
	return true, nil
}

// DeleteByID removes the vehicle with id and its images.
func (s *Store) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		return false, nil
	}
	s.deleteLocked(id)
	return true, nil
}

func (s *Store) deleteLocked(id string) {
	delete(s.byCRMID, s.vehicles[id].CRMID)
	delete(s.vehicles, id)
	delete(s.images, id)
}

// GetByID returns the vehicle without images.
func (s *Store) GetByID(_ context.Context, id string) (inventory.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return inventory.Vehicle{}, inventory.ErrVehicleNotFound
	}
	v.Categories = append([]string{}, v.Categories...)
	return v, nil
}

// ListByVehicle returns the vehicle's images ordered by position.
func (s *Store) ListByVehicle(_ context.Context, vehicleID string) ([]inventory.VehicleImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]inventory.VehicleImage(nil), s.images[vehicleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ReplaceImages swaps the vehicle's images for images under one lock. The
// vehicle must exist and positions must be unique; otherwise nothing
// changes.
func (s *Store) ReplaceImages(_ context.Context, vehicleID string, images []inventory.VehicleImage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[vehicleID]; !ok {
		return 0, fmt.Errorf("replace images of %s: %w", vehicleID, inventory.ErrVehicleNotFound)
	}
	taken := make(map[int]bool, len(images))
	for _, img := range images {
		if img.VehicleID != vehicleID {
			return 0, fmt.Errorf("image %s belongs to vehicle %s", img.ID, img.VehicleID)
		}
		if taken[img.Position] {
			return 0, errors.New("duplicate image position for vehicle")
		}
		taken[img.Position] = true
	}

	removed := int64(len(s.images[vehicleID]))
	if len(images) == 0 {
		delete(s.images, vehicleID)
	} else {
		s.images[vehicleID] = append([]inventory.VehicleImage(nil), images...)
	}
	return removed, nil
}

func applyFields(v *inventory.Vehicle, f inventory.VehicleFields) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&v.Slug, f.Slug)
	setString(&v.Title, f.Title)
	setString(&v.Brand, f.Brand)
	setString(&v.Model, f.Model)
	if f.Year != nil {
		v.Year = *f.Year
	}
	if f.Price != nil {
		v.Price = *f.Price
	}
	if f.Km != nil {
		v.Km = f.Km
	}
	if f.GearType != nil {
		v.GearType = f.GearType
	}
	if f.FuelType != nil {
		v.FuelType = f.FuelType
	}
	if f.Condition != nil {
		v.Condition = f.Condition
	}
	if f.Hand != nil {
		v.Hand = f.Hand
	}
	if f.ShortDescription != nil {
		v.ShortDescription = f.ShortDescription
	}
	if f.Categories != nil {
		v.Categories = append([]string{}, f.Categories...)
	}
	if f.IsPublished != nil {
		v.IsPublished = *f.IsPublished
	}
	if f.RawData != nil {
		v.RawData = append([]byte(nil), f.RawData...)
	}
}
