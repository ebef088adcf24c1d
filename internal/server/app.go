// Package server builds the ingestion service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/api"
	"github.com/moshe-connectio/car-template-demo/internal/clock/system"
	"github.com/moshe-connectio/car-template-demo/internal/config"
	"github.com/moshe-connectio/car-template-demo/internal/fetcher"
	collyfetcher "github.com/moshe-connectio/car-template-demo/internal/fetcher/colly"
	"github.com/moshe-connectio/car-template-demo/internal/id/uuid"
	"github.com/moshe-connectio/car-template-demo/internal/ingest"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	"github.com/moshe-connectio/car-template-demo/internal/metrics"
	memorypublisher "github.com/moshe-connectio/car-template-demo/internal/publisher/memory"
	gcppublisher "github.com/moshe-connectio/car-template-demo/internal/publisher/pubsub"
	"github.com/moshe-connectio/car-template-demo/internal/resolver"
	gcsstorage "github.com/moshe-connectio/car-template-demo/internal/storage/gcs"
	localstorage "github.com/moshe-connectio/car-template-demo/internal/storage/local"
	memoryStorage "github.com/moshe-connectio/car-template-demo/internal/storage/memory"
	miniostorage "github.com/moshe-connectio/car-template-demo/internal/storage/minio"
	pgstore "github.com/moshe-connectio/car-template-demo/internal/storage/postgres"
	"github.com/moshe-connectio/car-template-demo/internal/upload"
	"github.com/moshe-connectio/car-template-demo/internal/webhook"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	pg           *pgstore.Store
	mediaDir     string
	checks       map[string]api.Checker
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.Checker{},
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)
	metrics.Init()

	clock := system.New()
	ids := uuid.New()

	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	vehicles, images, err := app.setupDatabase(ctx, ids, clock)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	orchestrator := ingest.New(
		ingest.Config{MaxImages: cfg.Ingest.MaxImages, Concurrency: cfg.Ingest.Concurrency},
		NewDownloader(cfg, logger),
		upload.New(blobStore, clock, cfg.Storage.Prefix),
		ids,
		clock,
		logger.Named("ingest"),
	)
	coordinator := webhook.NewCoordinator(
		vehicles,
		images,
		orchestrator,
		publisher,
		clock,
		cfg.PubSub.TopicName,
		logger.Named("webhook"),
	)
	app.apiServer = api.NewServer(coordinator, cfg, logger, api.Options{
		MediaDir: app.mediaDir,
		Checks:   app.checks,
	})
	return app, nil
}

// NewDownloader builds the resolve-and-download pipeline from cfg.
func NewDownloader(cfg config.Config, logger *zap.Logger) *fetcher.Downloader {
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.DownloadTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	res := resolver.New(resolver.Config{
		DriveHosts:   cfg.Providers.DriveHosts,
		LandingHosts: cfg.Providers.LandingHosts,
	}, resolver.NewExtractor(transport))
	return fetcher.NewDownloader(transport, res, logger.Named("fetcher"))
}

// Handler exposes the HTTP handler (primarily for testing).
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the app opened.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func (a *App) setupStorage(ctx context.Context) (inventory.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket:        cfg.GCS.Bucket,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.BackendMinIO:
		a.logger.Info("using MinIO storage backend",
			zap.String("endpoint", cfg.MinIO.Endpoint),
			zap.String("bucket", cfg.MinIO.Bucket),
		)
		blobStore, err := miniostorage.New(miniostorage.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			Region:          cfg.MinIO.Region,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		if err := blobStore.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket check failed: %w", err)
		}
		return blobStore, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{
			BaseDir:       cfg.Local.BaseDir,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.mediaDir = blobStore.Dir()
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(cfg.PublicBaseURL), nil
	}
}

func (a *App) setupDatabase(
	ctx context.Context,
	ids inventory.IDGenerator,
	clock inventory.Clock,
) (inventory.VehicleStore, inventory.ImageStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory vehicle store")
		store := memoryStorage.NewStore(ids, clock)
		return store, store, nil
	}
	var err error
	a.pg, err = pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vehicle store init failed: %w", err)
	}
	if a.cfg.DB.ApplySchema {
		if err := a.pg.ApplySchema(ctx); err != nil {
			return nil, nil, err
		}
		a.logger.Info("database schema applied")
	}
	a.checks["postgres"] = a.pg.Ping
	a.logger.Info("postgres vehicle store initialized")
	return a.pg, a.pg, nil
}

func (a *App) setupPublisher(ctx context.Context) (inventory.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(a.logger.Named("events")), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}
