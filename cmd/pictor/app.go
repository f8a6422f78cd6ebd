package main

import (
	"context"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"

	"pictor/internal/appinfo"
	"pictor/internal/config"
	"pictor/internal/database"
	"pictor/internal/derivative"
	"pictor/internal/ingest"
	"pictor/internal/metadata"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/cache"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
)

const tempDirName = "_temp"

// app wires every component of the pipeline from one configuration.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *database.GormStore
	files    *storage.FileStore
	registry *slots.Registry
	orch     *derivative.Orchestrator
	columns  *cache.MemoryCache[[]string]
	facade   *ingest.Facade
	sweeper  *database.Sweeper
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, store: database.NewStore(db)}

	if a.files, err = storage.NewFileStore(cfg.Images.UploadDir); err != nil {
		a.close()
		return nil, err
	}

	count, err := a.store.CountDerivatives(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	appinfo.SetInitialStats(count)

	a.columns = cache.New[[]string](cache.Options{TTL: cfg.Cache.TTL(), Enabled: cfg.Cache.Enabled})
	guard := metadata.NewGuard(a.store, a.columns, logger.Default().Named("metadata"))

	reserved, err := guard.Reserved(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.registry, err = slots.NewRegistry(cfg.Resources, reserved); err != nil {
		a.close()
		return nil, err
	}

	base, perMB := cfg.Images.Timeouts()
	a.orch = derivative.New(
		storage.Namer{Root: cfg.Images.UploadDir},
		a.files,
		transform.New(cfg.Images.Quality),
		slots.Resolver{AdminWidth: cfg.Images.AdminThumbWidth, AdminHeight: cfg.Images.AdminThumbHeight},
		derivative.Options{
			Workers:          cfg.Images.WorkerCount(),
			ThumbnailWorkers: cfg.Images.ThumbnailWorkers,
			TimeoutBase:      base,
			TimeoutPerMB:     perMB,
		},
		logger.Default().Named("derive"),
	)

	tempDir := filepath.Join(cfg.Images.UploadDir, tempDirName)
	a.facade = ingest.New(a.registry, a.orch, guard, a.store, a.files, ingest.Options{
		RetinaFactor:  cfg.Images.RetinaFactor,
		MaxUploadSize: cfg.Images.MaxUploadBytes(),
		TempDir:       tempDir,
	}, logger.Default().Named("ingest"))

	a.sweeper = database.NewSweeper(a.store, a.files, tempDir, cfg.Database.TempMaxAge(), logger.Default().Named("sweep"))
	return a, nil
}

func (a *app) close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if err := database.Close(a.db); err != nil {
		logger.LogWarn("Failed to close database: %v", err)
	}
}
