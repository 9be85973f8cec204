package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/tletrack/internal/api"
	"github.com/star/tletrack/internal/config"
	"github.com/star/tletrack/internal/metrics"
	"github.com/star/tletrack/internal/ratelimit"
	"github.com/star/tletrack/internal/refresh"
	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, logger, closer, err := setup(cmd, configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, ref, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	warmUp(ctx, st, ref, logger)

	srv := api.NewServer(api.Config{
		Addr:          cfg.HTTPAddr,
		MaxPageLimit:  cfg.API.MaxPageLimit,
		EnableRefresh: cfg.API.EnableRefreshEndpoint,
		RateLimit: ratelimit.Config{
			Rate:       cfg.API.RateLimit,
			Burst:      cfg.API.RateBurst,
			TrustProxy: cfg.API.TrustProxy,
		},
	}, logger, st, ref)

	go ref.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"refresh_endpoint", cfg.API.EnableRefreshEndpoint,
			"max_page_limit", cfg.API.MaxPageLimit,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		logger.Error("server listen error", "error", err)
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// openPipeline opens the store and wires the fetcher, the raw-feed cache and
// the refresher on top of it.
func openPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, *refresh.Refresher, error) {
	st, err := store.Open(ctx, cfg.DatabaseURL, store.WithMkdirAll())
	if err != nil {
		logger.Error("failed to open store", "error", err, "database_url", cfg.DatabaseURL)
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	fetcher := tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraURLs...)

	var cache *tle.Cache
	if cfg.TLE.CacheDir != "" {
		cache = tle.NewCache(cfg.TLE.CacheDir, cfg.TLE.CacheMaxFiles)
	}

	logger.Info("TLE config",
		"sources", fetcher.Sources(),
		"cache_dir", cfg.TLE.CacheDir,
		"refresh_interval_seconds", cfg.TLE.RefreshInterval.Seconds(),
		"refresh_on_start", cfg.TLE.RefreshOnStart,
	)

	ref := refresh.New(fetcher, st, cache, refresh.Config{
		Interval:   cfg.TLE.RefreshInterval,
		RunOnStart: cfg.TLE.RefreshOnStart,
	}, logger)
	return st, ref, nil
}

// warmUp publishes the gauges for a dataset left by a previous run, or fills
// an empty store from the newest cached feed.
func warmUp(ctx context.Context, st *store.Store, ref *refresh.Refresher, logger *slog.Logger) {
	meta, err := st.Meta(ctx)
	switch {
	case err == nil && meta.Count > 0:
		metrics.SetDatasetRecords(meta.Count)
		metrics.SetDatasetFetchedAt(meta.FetchedAt)
		logger.Info("using stored TLE dataset",
			"cycle_id", meta.CycleID,
			"count", meta.Count,
			"fetched_at", meta.FetchedAt.Format(time.RFC3339),
		)
		return
	case err != nil && !errors.Is(err, store.ErrNoMeta):
		logger.Warn("failed to read feed metadata", "error", err)
	}

	if _, err := ref.LoadCached(ctx); err != nil {
		logger.Info("no TLE cache loaded, starting without TLE data", "error", err)
	}
}
