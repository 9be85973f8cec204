package store

// schema is applied on every Open.
const schema = `
CREATE TABLE IF NOT EXISTS satellites (
    seq       INTEGER PRIMARY KEY,
    name      TEXT NOT NULL CHECK (name <> ''),
    tle_line1 TEXT NOT NULL CHECK (tle_line1 <> ''),
    tle_line2 TEXT NOT NULL CHECK (tle_line2 <> ''),
    norad_id  INTEGER NOT NULL DEFAULT 0,
    epoch_ms  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_satellites_name ON satellites(name);

-- Single row describing the cycle that produced the current dataset.
CREATE TABLE IF NOT EXISTS feed_meta (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    cycle_id     TEXT NOT NULL,
    sources      TEXT NOT NULL DEFAULT '',
    fetched_at   INTEGER NOT NULL,
    record_count INTEGER NOT NULL,
    epoch_min_ms INTEGER,
    epoch_max_ms INTEGER
);
`
