// Package refresh keeps the Telemetry Store in sync with the upstream TLE feed.
//
// One cycle fetches the feed, parses it into records and replaces the stored
// dataset. Cycles run on a fixed interval and on demand; at most one cycle runs
// at a time.
package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/star/tletrack/internal/metrics"
	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

// DefaultInterval is the time between scheduled cycles.
const DefaultInterval = 20 * time.Minute

// ErrCycleInFlight is returned by RunOnce while another cycle is running.
var ErrCycleInFlight = errors.New("refresh: cycle already in progress")

// Source yields a raw feed body.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Sources() []string
}

// Replacer swaps the stored dataset.
type Replacer interface {
	ReplaceAll(ctx context.Context, records []tle.Record, meta store.FeedMeta) (int64, error)
}

// Config configures the Refresher.
type Config struct {
	// Interval between scheduled cycles. Default: 20 minutes.
	Interval time.Duration
	// RunOnStart performs a cycle as soon as Run is called.
	RunOnStart bool
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
}

// Result summarises a successful cycle.
type Result struct {
	CycleID  string
	Count    int
	Cleared  int64
	Duration time.Duration
}

// Refresher runs fetch-parse-replace cycles.
type Refresher struct {
	source  Source
	store   Replacer
	cache   *tle.Cache
	config  Config
	logger  *slog.Logger
	running atomic.Bool
	now     func() time.Time
}

// New creates a Refresher. cache may be nil to disable raw-feed caching.
func New(source Source, st Replacer, cache *tle.Cache, cfg Config, logger *slog.Logger) *Refresher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		source: source,
		store:  st,
		cache:  cache,
		config: cfg,
		logger: logger.With("component", "refresh"),
		now:    time.Now,
	}
}

// Interval returns the configured cycle interval.
func (r *Refresher) Interval() time.Duration {
	return r.config.Interval
}

// Run performs a cycle on every tick until ctx is cancelled. Failed cycles are
// logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("refresh scheduler started", "interval_seconds", r.config.Interval.Seconds())

	if r.config.RunOnStart {
		r.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	r.logger.Info("running scheduled refresh", "at", r.now().UTC().Format(time.RFC3339))
	if _, err := r.RunOnce(ctx); errors.Is(err, ErrCycleInFlight) {
		r.logger.Warn("previous refresh still running, skipping tick")
	}
}

// RunOnce executes one cycle. On any failure the stored dataset is left as it
// was; the error is logged and returned.
func (r *Refresher) RunOnce(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.IncRefresh(metrics.RefreshSkipped)
		return Result{}, ErrCycleInFlight
	}
	defer r.running.Store(false)

	res, err := r.cycle(ctx)
	metrics.ObserveRefreshDuration(res.Duration)
	if err != nil {
		if errors.Is(err, tle.ErrInsufficientData) {
			metrics.IncRefresh(metrics.RefreshInvalid)
			r.logger.Warn("not enough TLE data received, keeping current dataset",
				"cycle_id", res.CycleID, "error", err)
		} else {
			metrics.IncRefresh(metrics.RefreshFailed)
			r.logger.Error("TLE refresh failed, keeping current dataset",
				"cycle_id", res.CycleID, "error", err)
		}
		return Result{}, err
	}

	metrics.IncRefresh(metrics.RefreshSucceeded)
	metrics.SetDatasetRecords(res.Count)
	metrics.SetDatasetFetchedAt(r.now())
	return res, nil
}

func (r *Refresher) cycle(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{CycleID: uuid.NewString()}

	r.logger.Info("fetching TLE data", "cycle_id", res.CycleID, "sources", r.source.Sources())

	body, err := r.source.Fetch(ctx)
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("fetch: %w", err)
	}

	records, err := tle.Parse(bytes.NewReader(body), r.logger)
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("parse: %w", err)
	}
	r.logger.Info("received TLE data", "cycle_id", res.CycleID, "satellites", len(records))

	fetchedAt := r.now()
	cleared, err := r.store.ReplaceAll(ctx, records, store.FeedMeta{
		CycleID:   res.CycleID,
		Sources:   r.source.Sources(),
		FetchedAt: fetchedAt,
	})
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("replace: %w", err)
	}

	res.Count = len(records)
	res.Cleared = cleared
	res.Duration = time.Since(start)
	r.logger.Info("stored TLE records",
		"cycle_id", res.CycleID,
		"cleared", cleared,
		"stored", res.Count,
		"duration_ms", res.Duration.Milliseconds(),
	)

	if r.cache != nil {
		if err := r.cache.Write(body, fetchedAt); err != nil {
			r.logger.Warn("failed to cache TLE feed", "cycle_id", res.CycleID, "error", err)
		}
	}

	return res, nil
}
