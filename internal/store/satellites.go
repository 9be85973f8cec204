package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/star/tletrack/internal/tle"
)

// SQLite caps bound parameters per statement; name lookups are batched.
const namesPerQuery = 500

// ReplaceAll discards the current dataset and stores records, in order, together
// with meta. It runs as one transaction: on any error the previous dataset and
// metadata are left untouched. It returns the number of records removed.
func (s *Store) ReplaceAll(ctx context.Context, records []tle.Record, meta FeedMeta) (int64, error) {
	meta.Count = len(records)
	if meta.Epochs == (tle.EpochRange{}) {
		meta.Epochs = tle.RangeOf(records)
	}

	var cleared int64
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM satellites`)
		if err != nil {
			return fmt.Errorf("store: clear satellites: %w", err)
		}
		cleared, _ = res.RowsAffected()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO satellites (seq, name, tle_line1, tle_line2, norad_id, epoch_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range records {
			if _, err := stmt.ExecContext(ctx, i+1, r.Name, r.Line1, r.Line2, r.NORADID, nullMillis(r.Epoch)); err != nil {
				return fmt.Errorf("store: insert %q: %w", r.Name, err)
			}
		}

		if err := putMeta(ctx, tx, meta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// FindByNames returns every record whose name is in names, in feed order.
// Duplicate and unknown names are ignored; an empty names slice matches nothing.
func (s *Store) FindByNames(ctx context.Context, names []string) ([]tle.Record, error) {
	unique := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}

	var out []seqRecord
	for start := 0; start < len(unique); start += namesPerQuery {
		batch := unique[start:min(start+namesPerQuery, len(unique))]

		args := make([]any, len(batch))
		for i, n := range batch {
			args[i] = n
		}
		query := `SELECT seq, name, tle_line1, tle_line2, norad_id, epoch_ms FROM satellites
			WHERE name IN (?` + strings.Repeat(",?", len(batch)-1) + `) ORDER BY seq`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("store: find by names: %w", err)
		}
		found, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	if len(unique) > namesPerQuery {
		sortBySeq(out)
	}
	return stripSeq(out), nil
}

// List returns up to limit records starting at offset, in feed order.
func (s *Store) List(ctx context.Context, offset, limit int) ([]tle.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, name, tle_line1, tle_line2, norad_id, epoch_ms FROM satellites
		 ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list satellites: %w", err)
	}
	found, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return stripSeq(found), nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM satellites`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count satellites: %w", err)
	}
	return n, nil
}

type seqRecord struct {
	seq int64
	tle.Record
}

func scanRecords(rows *sql.Rows) ([]seqRecord, error) {
	defer rows.Close()

	var out []seqRecord
	for rows.Next() {
		var (
			r     seqRecord
			epoch sql.NullInt64
		)
		if err := rows.Scan(&r.seq, &r.Name, &r.Line1, &r.Line2, &r.NORADID, &epoch); err != nil {
			return nil, fmt.Errorf("store: scan satellite: %w", err)
		}
		r.Epoch = fromNullMillis(epoch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate satellites: %w", err)
	}
	return out, nil
}

func sortBySeq(rs []seqRecord) {
	slices.SortFunc(rs, func(a, b seqRecord) int {
		return cmp.Compare(a.seq, b.seq)
	})
}

func stripSeq(rs []seqRecord) []tle.Record {
	out := make([]tle.Record, len(rs))
	for i, r := range rs {
		out[i] = r.Record
	}
	return out
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
