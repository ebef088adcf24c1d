package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// DefaultTopic receives vehicle change events when none is configured.
const DefaultTopic = "vehicle-events"

// Ingester turns image requests into uploaded, not yet persisted, records.
type Ingester interface {
	Ingest(ctx context.Context, vehicleID, slug string, requests []inventory.ImageRequest) []inventory.VehicleImage
}

// Outcome is what a handled webhook reports back to the CRM.
type Outcome struct {
	VehicleID   string
	Slug        string
	Action      inventory.Action
	ImagesAdded int
}

// DeleteTarget selects the vehicle to delete. CRMID wins when both are set.
type DeleteTarget struct {
	CRMID     string
	VehicleID string
}

// Coordinator applies decoded webhooks: vehicle upsert first, then
// best-effort image replacement.
type Coordinator struct {
	vehicles  inventory.VehicleStore
	images    inventory.ImageStore
	ingester  Ingester
	publisher inventory.Publisher
	clock     inventory.Clock
	topic     string
	logger    *zap.Logger
}

// NewCoordinator wires a Coordinator. publisher may be nil.
func NewCoordinator(
	vehicles inventory.VehicleStore,
	images inventory.ImageStore,
	ingester Ingester,
	publisher inventory.Publisher,
	clock inventory.Clock,
	topic string,
	logger *zap.Logger,
) *Coordinator {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		vehicles:  vehicles,
		images:    images,
		ingester:  ingester,
		publisher: publisher,
		clock:     clock,
		topic:     topic,
		logger:    logger,
	}
}

// Handle runs one decoded webhook.
func (c *Coordinator) Handle(ctx context.Context, cmd Command) (Outcome, error) {
	switch cmd := cmd.(type) {
	case SoldCommand:
		return c.MarkSold(ctx, cmd.CRMID)
	case UpsertCommand:
		return c.upsert(ctx, cmd)
	default:
		return Outcome{}, fmt.Errorf("unsupported command %T", cmd)
	}
}

// MarkSold clears the published flag of the vehicle with crmid. Unknown ids
// yield inventory.ErrVehicleNotFound.
func (c *Coordinator) MarkSold(ctx context.Context, crmid string) (Outcome, error) {
	res, err := c.vehicles.MarkSoldByCRMID(ctx, crmid)
	if err != nil {
		if errors.Is(err, inventory.ErrVehicleNotFound) {
			return Outcome{}, fmt.Errorf("mark sold %s: %w", crmid, err)
		}
		return Outcome{}, &inventory.UpsertError{CRMID: crmid, Err: err}
	}
	out := Outcome{VehicleID: res.VehicleID, Slug: res.Slug, Action: inventory.ActionSold}
	c.logger.Info("vehicle marked sold", zap.String("crmid", crmid), zap.String("vehicle_id", res.VehicleID))
	c.publish(ctx, crmid, out)
	return out, nil
}

func (c *Coordinator) upsert(ctx context.Context, cmd UpsertCommand) (Outcome, error) {
	logger := c.logger.With(zap.String("crmid", cmd.CRMID))
	for _, w := range cmd.Warnings {
		logger.Warn("payload field ignored", zap.String("reason", w))
	}

	res, err := c.vehicles.UpsertByCRMID(ctx, cmd.CRMID, cmd.Fields)
	if err != nil {
		return Outcome{}, &inventory.UpsertError{CRMID: cmd.CRMID, Err: err}
	}
	out := Outcome{VehicleID: res.VehicleID, Slug: res.Slug, Action: res.Action}
	logger = logger.With(zap.String("vehicle_id", res.VehicleID))
	logger.Info("vehicle upserted", zap.String("action", string(res.Action)))

	// The vehicle row is committed. Image work and the event run to the end
	// even if the caller goes away; downloads keep the HTTP client timeout.
	ctx = context.WithoutCancel(ctx)
	if len(cmd.Images) > 0 {
		added, err := c.replaceImages(ctx, res, cmd.Images)
		if err != nil {
			logger.Error("image reconciliation failed", zap.Error(err))
		}
		out.ImagesAdded = added
	}

	c.publish(ctx, cmd.CRMID, out)
	return out, nil
}

// replaceImages uploads the new set and swaps the rows only when at least
// one image made it into storage.
func (c *Coordinator) replaceImages(
	ctx context.Context,
	res inventory.UpsertResult,
	requests []inventory.ImageRequest,
) (added int, err error) {
	defer func() {
		if r := recover(); r != nil {
			added = 0
			err = &inventory.ImageReconciliationError{VehicleID: res.VehicleID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	uploaded := c.ingester.Ingest(ctx, res.VehicleID, res.Slug, requests)
	if len(uploaded) == 0 {
		c.logger.Warn("no images uploaded; keeping existing images",
			zap.String("vehicle_id", res.VehicleID),
			zap.Int("requested", len(requests)),
		)
		return 0, nil
	}

	removed, err := c.images.ReplaceImages(ctx, res.VehicleID, uploaded)
	if err != nil {
		return 0, &inventory.ImageReconciliationError{
			VehicleID: res.VehicleID,
			Err:       fmt.Errorf("replace images with %d uploaded: %w", len(uploaded), err),
		}
	}
	c.logger.Info("vehicle images replaced",
		zap.String("vehicle_id", res.VehicleID),
		zap.Int64("removed", removed),
		zap.Int("added", len(uploaded)),
		zap.Int("requested", len(requests)),
	)
	return len(uploaded), nil
}

// Delete removes a vehicle; its image rows go with it.
func (c *Coordinator) Delete(ctx context.Context, target DeleteTarget) (string, error) {
	var (
		deleted bool
		err     error
		key     string
	)
	switch {
	case target.CRMID != "":
		key = target.CRMID
		deleted, err = c.vehicles.DeleteByCRMID(ctx, target.CRMID)
	case target.VehicleID != "":
		key = target.VehicleID
		deleted, err = c.vehicles.DeleteByID(ctx, target.VehicleID)
	default:
		return "", &inventory.ValidationError{Msg: "Missing required field: crmid or vehicleId"}
	}
	if err != nil {
		return "", fmt.Errorf("delete vehicle %s: %w", key, err)
	}
	if !deleted {
		return "", fmt.Errorf("delete vehicle %s: %w", key, inventory.ErrVehicleNotFound)
	}
	c.logger.Info("vehicle deleted", zap.String("key", key))
	return key, nil
}

// Get loads a vehicle and its images ordered by position.
func (c *Coordinator) Get(ctx context.Context, id string) (inventory.Vehicle, error) {
	v, err := c.vehicles.GetByID(ctx, id)
	if err != nil {
		return inventory.Vehicle{}, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	images, err := c.images.ListByVehicle(ctx, id)
	if err != nil {
		return inventory.Vehicle{}, fmt.Errorf("list images of %s: %w", id, err)
	}
	if images == nil {
		images = []inventory.VehicleImage{}
	}
	v.Images = images
	return v, nil
}

func (c *Coordinator) publish(ctx context.Context, crmid string, out Outcome) {
	if c.publisher == nil {
		return
	}
	event := inventory.VehicleEvent{
		CRMID:       crmid,
		VehicleID:   out.VehicleID,
		Slug:        out.Slug,
		Action:      out.Action,
		ImagesAdded: out.ImagesAdded,
		OccurredAt:  c.clock.Now().UTC(),
	}
	if _, err := c.publisher.Publish(ctx, c.topic, event); err != nil {
		c.logger.Warn("publish vehicle event failed",
			zap.String("crmid", crmid),
			zap.String("topic", c.topic),
			zap.Error(err),
		)
	}
}
