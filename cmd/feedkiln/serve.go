package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/jobs"
	"github.com/tkilaker/feedkiln/internal/scheduler"
	"github.com/tkilaker/feedkiln/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job runner and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func openJobStore(cfg *config.Config) (jobs.Store, func(), error) {
	if cfg.JobStorePath == "" {
		return jobs.NewMemoryStore(), func() {}, nil
	}
	store, err := jobs.OpenBadger(cfg.JobStorePath, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job store")
		}
	}, nil
}

// serve runs until ctx is cancelled by a signal or the listener fails.
func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Msg("Starting feedkiln...")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	jobStore, closeJobStore, err := openJobStore(cfg)
	if err != nil {
		return err
	}
	defer closeJobStore()

	runner, err := jobs.NewRunner(jobStore, a.pipeline.JobHandlers(), jobs.Options{
		PoolSize:    cfg.WorkerPoolSize,
		Retention:   cfg.JobRetention,
		GracePeriod: cfg.JobGracePeriod,
	})
	if err != nil {
		return err
	}
	runner.Start()

	deps := server.Deps{
		Store:    a.store,
		Jobs:     runner,
		Stats:    a.pipeline,
		Registry: a.registry,
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		sched = scheduler.New(runner, scheduler.DefaultEntries(cfg), loc)
		sched.Start(ctx)
		deps.Schedule = sched
		log.Info().Str("timezone", cfg.ScheduleTimezone).Msg("Scheduler started")
	}

	srv := server.New(deps, cfg).HTTPServer(fmt.Sprintf(":%d", cfg.Port))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down server")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Jobs were cancelled during shutdown")
	}

	log.Info().Msg("Stopped")
	return serveErr
}
