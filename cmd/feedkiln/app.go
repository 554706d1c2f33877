package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/database/sqlitedb"
	"github.com/tkilaker/feedkiln/internal/fetcher"
	"github.com/tkilaker/feedkiln/internal/pipeline"
	"github.com/tkilaker/feedkiln/internal/sources"
)

// app holds the components every command shares.
type app struct {
	cfg      *config.Config
	store    database.Store
	registry *sources.Registry
	pipeline *pipeline.Pipeline
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := fetcher.New(
		fetcher.WithMaxConcurrent(cfg.FetchMaxConcurrent),
		fetcher.WithContentLimits(cfg.ContentPerSource, cfg.ContentMaxChars),
		fetcher.WithContentTimeout(cfg.ContentTimeout),
		fetcher.WithUserAgent(cfg.UserAgent),
	)

	p := pipeline.New(engine, store, registry, pipeline.Options{
		PersistTimeout:   cfg.PersistTimeout,
		RetentionDays:    cfg.RetentionDays,
		LogRetentionDays: cfg.LogRetentionDays,
		Location:         loc,
	})

	return &app{cfg: cfg, store: store, registry: registry, pipeline: p}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func loadRegistry(cfg *config.Config) (*sources.Registry, error) {
	defaults := sources.Defaults{Timeout: cfg.FetchTimeout, MaxConcurrent: cfg.SourceMaxConcurrent}
	if cfg.SourcesFile == "" {
		return sources.Builtin(defaults), nil
	}
	registry, err := sources.Load(cfg.SourcesFile, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	log.Info().Str("file", cfg.SourcesFile).Int("sources", registry.Len()).Msg("Loaded sources")
	return registry, nil
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the embedded SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	if cfg.UsesPostgres() {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		log.Info().Msg("Connected to Postgres")
		return db, nil
	}

	if cfg.SQLitePath == "" {
		return nil, errors.New("no database configured")
	}
	store, err := sqlitedb.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	log.Info().Str("path", cfg.SQLitePath).Msg("Opened SQLite store")
	return store, nil
}
