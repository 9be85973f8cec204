package refresh

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/star/tletrack/internal/metrics"
	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

// LoadCached replaces the stored dataset with the newest cached feed body.
// It is meant for startup, before the first fetch, when the store is empty.
func (r *Refresher) LoadCached(ctx context.Context) (Result, error) {
	if r.cache == nil {
		return Result{}, tle.ErrNoCachedFeed
	}
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrCycleInFlight
	}
	defer r.running.Store(false)

	body, ts, err := r.cache.LoadLatest()
	if err != nil {
		return Result{}, err
	}

	records, err := tle.Parse(bytes.NewReader(body), r.logger)
	if err != nil {
		return Result{}, fmt.Errorf("parse cached feed: %w", err)
	}

	res := Result{CycleID: uuid.NewString(), Count: len(records)}
	res.Cleared, err = r.store.ReplaceAll(ctx, records, store.FeedMeta{
		CycleID:   res.CycleID,
		Sources:   []string{"cache:" + r.cache.Dir()},
		FetchedAt: ts,
	})
	if err != nil {
		return Result{}, fmt.Errorf("replace from cache: %w", err)
	}

	metrics.SetDatasetRecords(res.Count)
	metrics.SetDatasetFetchedAt(ts)
	r.logger.Info("loaded TLE data from cache",
		"cycle_id", res.CycleID,
		"count", res.Count,
		"cached_at", ts.Format(time.RFC3339),
	)
	return res, nil
}
