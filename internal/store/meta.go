package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/star/tletrack/internal/tle"
)

// ErrNoMeta is returned by Meta before any dataset has been stored.
var ErrNoMeta = errors.New("store: no dataset loaded")

// FeedMeta describes the refresh cycle that produced the stored dataset.
type FeedMeta struct {
	CycleID   string
	Sources   []string
	FetchedAt time.Time
	Count     int
	Epochs    tle.EpochRange
}

// Meta returns the metadata of the current dataset.
func (s *Store) Meta(ctx context.Context) (FeedMeta, error) {
	var (
		m          FeedMeta
		sources    string
		fetchedAt  int64
		minE, maxE sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cycle_id, sources, fetched_at, record_count, epoch_min_ms, epoch_max_ms
		 FROM feed_meta WHERE id = 1`,
	).Scan(&m.CycleID, &sources, &fetchedAt, &m.Count, &minE, &maxE)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedMeta{}, ErrNoMeta
	}
	if err != nil {
		return FeedMeta{}, fmt.Errorf("store: read feed meta: %w", err)
	}

	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return FeedMeta{}, fmt.Errorf("store: decode feed sources: %w", err)
		}
	}
	m.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	m.Epochs = tle.EpochRange{Min: fromNullMillis(minE), Max: fromNullMillis(maxE)}
	return m, nil
}

func putMeta(ctx context.Context, tx *sql.Tx, m FeedMeta) error {
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return fmt.Errorf("store: encode feed sources: %w", err)
	}
	if m.FetchedAt.IsZero() {
		m.FetchedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feed_meta (id, cycle_id, sources, fetched_at, record_count, epoch_min_ms, epoch_max_ms)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     cycle_id = excluded.cycle_id,
		     sources = excluded.sources,
		     fetched_at = excluded.fetched_at,
		     record_count = excluded.record_count,
		     epoch_min_ms = excluded.epoch_min_ms,
		     epoch_max_ms = excluded.epoch_max_ms`,
		m.CycleID, string(sources), m.FetchedAt.UnixMilli(), m.Count,
		nullMillis(m.Epochs.Min), nullMillis(m.Epochs.Max),
	)
	if err != nil {
		return fmt.Errorf("store: write feed meta: %w", err)
	}
	return nil
}
