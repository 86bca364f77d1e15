// Package main runs the directory HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/api"
	"github.com/localpages/directory/internal/blobstore"
	blobgcs "github.com/localpages/directory/internal/blobstore/gcs"
	bloblocal "github.com/localpages/directory/internal/blobstore/local"
	blobmemory "github.com/localpages/directory/internal/blobstore/memory"
	"github.com/localpages/directory/internal/clock/system"
	"github.com/localpages/directory/internal/config"
	"github.com/localpages/directory/internal/directory"
	"github.com/localpages/directory/internal/ingest"
	"github.com/localpages/directory/internal/logging"
	"github.com/localpages/directory/internal/metrics"
	"github.com/localpages/directory/internal/places"
	"github.com/localpages/directory/internal/progress"
	"github.com/localpages/directory/internal/publisher"
	pubsubpublisher "github.com/localpages/directory/internal/publisher/pubsub"
	"github.com/localpages/directory/internal/query"
	"github.com/localpages/directory/internal/stats"
	storememory "github.com/localpages/directory/internal/store/memory"
	storepostgres "github.com/localpages/directory/internal/store/postgres"
	storesnapshot "github.com/localpages/directory/internal/store/snapshot"
	storesqlite "github.com/localpages/directory/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	store, err := openStore(ctx, cfg, blobs, logger)
	if err != nil {
		logger.Fatal("storage adapter init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("storage close failed", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	engine := query.NewEngine(store)
	aggregator := stats.New(store, clock, logger.Named("stats"))
	tracker := progress.NewTracker(logger.Named("progress"))

	orch, err := buildOrchestrator(ctx, cfg, store, tracker, blobs, clock, logger)
	if err != nil {
		logger.Fatal("ingestion init failed", zap.Error(err))
	}

	apiServer := api.NewServer(ctx, engine, aggregator, store, orch, tracker, clock, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.DB.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

func openBlobStore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.Storage.Backend {
	case "local":
		return bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		return blobgcs.New(ctx, cfg.Storage.GCSBucket)
	case "memory":
		return blobmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
}

func openStore(
	ctx context.Context,
	cfg config.Config,
	blobs blobstore.Store,
	logger *zap.Logger,
) (directory.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		store, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		}, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return storesqlite.Open(ctx, cfg.DB.Path, logger.Named("sqlite"))
	case "snapshot":
		return storesnapshot.Open(ctx, blobs, cfg.Snapshot.Prefix, logger.Named("snapshot"))
	case "memory":
		return storememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db.driver %q", cfg.DB.Driver)
	}
}

// buildOrchestrator wires the ingestion pipeline. It returns nil when no
// categories are configured or when the active adapter is read-only.
func buildOrchestrator(
	ctx context.Context,
	cfg config.Config,
	store directory.Store,
	tracker *progress.Tracker,
	blobs blobstore.Store,
	clock directory.Clock,
	logger *zap.Logger,
) (*ingest.Orchestrator, error) {
	if len(cfg.Ingest.Categories) == 0 || cfg.DB.Driver == "snapshot" {
		return nil, nil
	}

	source, err := places.New(places.Config{
		BaseURL:   cfg.Ingest.SourceBaseURL,
		Timeout:   cfg.SourceTimeout(),
		UserAgent: cfg.Ingest.UserAgent,
	}, logger.Named("places"))
	if err != nil {
		return nil, err
	}

	var media directory.MediaCache
	if cfg.Ingest.CacheMedia {
		media = ingest.NewMediaCacher(ingest.MediaConfig{
			UserAgent: cfg.Ingest.UserAgent,
			Timeout:   cfg.SourceTimeout(),
			Prefix:    cfg.Ingest.MediaPrefix,
		}, blobs, logger.Named("media"))
	}

	var pub publisher.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		pub = p
	}

	return ingest.New(
		ingest.Config{
			Categories: cfg.Ingest.Categories,
			Delay:      cfg.IngestDelay(),
			Topic:      cfg.PubSub.TopicName,
		},
		source, store, tracker, media, pub, clock, logger.Named("ingest"),
	), nil
}
