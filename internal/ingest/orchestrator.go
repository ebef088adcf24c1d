// Package ingest fans a vehicle's image requests out to download and upload
// them, isolating every image from the failures of the others.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	"github.com/moshe-connectio/car-template-demo/internal/metrics"
	"github.com/moshe-connectio/car-template-demo/internal/upload"
)

// DefaultMaxImages bounds image positions when no limit is configured.
const DefaultMaxImages = 10

// Stages an image can fail in.
const (
	StageValidate = "validate"
	StageDownload = "download"
	StageUpload   = "upload"
	StageRecord   = "record"
)

// Downloader fetches one remote image.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (inventory.DownloadedImage, error)
}

// Uploader stores one image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, in upload.Input) (string, error)
}

// Config tunes the fan-out.
type Config struct {
	// MaxImages is the highest allowed position.
	MaxImages int
	// Concurrency caps in-flight images; zero means no cap.
	Concurrency int
}

// Result is the settled outcome of one request. Exactly one of Image and
// Err is meaningful.
type Result struct {
	Position int
	URL      string
	Image    inventory.VehicleImage
	Stage    string
	Err      error
}

// Orchestrator runs resolve, download and upload for each requested image.
type Orchestrator struct {
	cfg        Config
	downloader Downloader
	uploader   Uploader
	ids        inventory.IDGenerator
	clock      inventory.Clock
	logger     *zap.Logger
}

// New wires an Orchestrator.
func New(
	cfg Config,
	downloader Downloader,
	uploader Uploader,
	ids inventory.IDGenerator,
	clock inventory.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		downloader: downloader,
		uploader:   uploader,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}
}

// MaxImages reports the configured position limit.
func (o *Orchestrator) MaxImages() int {
	return o.cfg.MaxImages
}

// Ingest returns the records for every image that made it into storage. It
// never fails as a whole; the result may be empty.
func (o *Orchestrator) Ingest(
	ctx context.Context,
	vehicleID, slug string,
	requests []inventory.ImageRequest,
) []inventory.VehicleImage {
	results := o.Run(ctx, vehicleID, slug, requests)
	images := make([]inventory.VehicleImage, 0, len(results))
	for _, res := range results {
		if res.Err == nil {
			images = append(images, res.Image)
		}
	}
	return images
}

// Run processes requests and returns one Result per request that was not
// dropped as an inline image. Results follow input order.
func (o *Orchestrator) Run(
	ctx context.Context,
	vehicleID, slug string,
	requests []inventory.ImageRequest,
) []Result {
	logger := o.logger.With(zap.String("vehicle_id", vehicleID), zap.String("slug", slug))

	pending := make([]inventory.ImageRequest, 0, len(requests))
	for _, req := range requests {
		if req.IsInline() {
			logger.Debug("inline image dropped", zap.Int("position", req.Position))
			metrics.ObserveImage(metrics.OutcomeSkipped, StageValidate, 0)
			continue
		}
		pending = append(pending, req)
	}

	results := make([]Result, len(pending))
	seen := make(map[int]bool, len(pending))
	var group errgroup.Group
	if o.cfg.Concurrency > 0 {
		group.SetLimit(o.cfg.Concurrency)
	}
	for i, req := range pending {
		if err := o.validate(req, seen); err != nil {
			results[i] = Result{Position: req.Position, URL: req.URL, Stage: StageValidate, Err: err}
			o.observeFailure(logger, results[i], 0)
			continue
		}
		seen[req.Position] = true
		group.Go(func() error {
			start := time.Now()
			results[i] = o.process(ctx, vehicleID, req)
			if results[i].Err != nil {
				o.observeFailure(logger, results[i], time.Since(start))
				return nil
			}
			metrics.ObserveImage(metrics.OutcomeUploaded, StageRecord, time.Since(start))
			logger.Debug("image ingested",
				zap.Int("position", req.Position),
				zap.String("url", req.URL),
				zap.String("image_url", results[i].Image.ImageURL),
			)
			return nil
		})
	}
	// Tasks never return errors; every failure lives in its Result.
	_ = group.Wait()
	return results
}

func (o *Orchestrator) validate(req inventory.ImageRequest, seen map[int]bool) error {
	if req.URL == "" {
		return &inventory.ValidationError{Msg: fmt.Sprintf("image at position %d has no url", req.Position)}
	}
	if req.Position < 1 || req.Position > o.cfg.MaxImages {
		return &inventory.PositionOutOfRangeError{Position: req.Position, Max: o.cfg.MaxImages}
	}
	if seen[req.Position] {
		return &inventory.PositionOutOfRangeError{Position: req.Position, Max: o.cfg.MaxImages, Duplicate: true}
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, vehicleID string, req inventory.ImageRequest) (res Result) {
	res = Result{Position: req.Position, URL: req.URL, Stage: StageDownload}
	defer func() {
		if r := recover(); r != nil {
			res.Image = inventory.VehicleImage{}
			res.Err = fmt.Errorf("panic during %s: %v", res.Stage, r)
		}
	}()

	img, err := o.downloader.Download(ctx, req.URL)
	if err != nil {
		res.Err = err
		return res
	}
	metrics.ObserveDownload(img.SourceURL, len(img.Body))

	res.Stage = StageUpload
	publicURL, err := o.uploader.Upload(ctx, upload.Input{
		Body:        img.Body,
		VehicleID:   vehicleID,
		Position:    req.Position,
		Filename:    img.Filename,
		ContentType: img.ContentType,
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Stage = StageRecord
	id, err := o.ids.NewID()
	if err != nil {
		res.Err = fmt.Errorf("generate image id: %w", err)
		return res
	}
	res.Image = inventory.VehicleImage{
		ID:         id,
		VehicleID:  vehicleID,
		ImageURL:   publicURL,
		Position:   req.Position,
		AltText:    req.AltText,
		UploadedAt: o.clock.Now().UTC(),
	}
	return res
}

func (o *Orchestrator) observeFailure(logger *zap.Logger, res Result, elapsed time.Duration) {
	metrics.ObserveImage(metrics.OutcomeFailed, res.Stage, elapsed)
	logger.Warn("image dropped",
		zap.Int("position", res.Position),
		zap.String("url", res.URL),
		zap.String("stage", res.Stage),
		zap.Error(res.Err),
	)
}
