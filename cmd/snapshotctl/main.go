// Package main builds snapshot artifacts from a live storage adapter.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/blobstore"
	blobgcs "github.com/localpages/directory/internal/blobstore/gcs"
	bloblocal "github.com/localpages/directory/internal/blobstore/local"
	"github.com/localpages/directory/internal/config"
	"github.com/localpages/directory/internal/directory"
	"github.com/localpages/directory/internal/logging"
	"github.com/localpages/directory/internal/snapshot"
	storepostgres "github.com/localpages/directory/internal/store/postgres"
	storesqlite "github.com/localpages/directory/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	input := flag.String("input", "", "Build from a JSON export file instead of a live database")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall build timeout")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, *input, logger); err != nil {
		logger.Fatal("snapshot build failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, inputPath string, logger *zap.Logger) error {
	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store init: %w", err)
	}

	builder := snapshot.NewBuilder(blobs, cfg.Snapshot.Prefix, cfg.Snapshot.ChunkSize, logger)

	var result snapshot.Result
	if inputPath != "" {
		businesses, err := loadExport(inputPath)
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}
		result, err = builder.Build(ctx, businesses)
		if err != nil {
			return err
		}
	} else {
		store, err := openSourceStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("storage adapter init: %w", err)
		}
		defer store.Close()

		result, err = builder.BuildFromStore(ctx, store)
		if err != nil {
			return err
		}
	}

	logger.Info("snapshot written",
		zap.String("index", result.IndexURI),
		zap.Int("chunks", result.Index.TotalChunks),
		zap.Int("businesses", result.Index.TotalBusinesses),
	)
	return nil
}

// loadExport reads a JSON export holding a bare array of businesses. It lets
// a static-only deployment be seeded without a live database.
func loadExport(path string) ([]directory.Business, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var businesses []directory.Business
	if err := json.Unmarshal(data, &businesses); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return businesses, nil
}

func openBlobStore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.Storage.Backend {
	case "local":
		return bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		return blobgcs.New(ctx, cfg.Storage.GCSBucket)
	default:
		return nil, fmt.Errorf("snapshot builds need a durable storage.backend, got %q", cfg.Storage.Backend)
	}
}

// openSourceStore opens the adapter the snapshot is built from. Snapshots are
// built from live data, never from another snapshot.
func openSourceStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (directory.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return storepostgres.New(ctx, storepostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		}, logger.Named("postgres"))
	case "sqlite":
		return storesqlite.Open(ctx, cfg.DB.Path, logger.Named("sqlite"))
	default:
		return nil, fmt.Errorf("snapshot builds need a live db.driver, got %q", cfg.DB.Driver)
	}
}
