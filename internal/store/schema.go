package store

import "context"

// Schema is the reference DDL for the tables this package writes.
// Converting the raw tables to Timescale hypertables, retention, and
// continuous aggregates are deployment concerns and live outside the
// application.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
    site_id       TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    road          TEXT NOT NULL DEFAULT '',
    lanes         INTEGER NOT NULL DEFAULT 0,
    equipment     TEXT NOT NULL DEFAULT '',
    direction     TEXT NOT NULL DEFAULT '',
    lat           DOUBLE PRECISION,
    lon           DOUBLE PRECISION,
    index_mapping JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS speeds_raw (
    ts          TIMESTAMPTZ NOT NULL,
    site_id     TEXT NOT NULL,
    lane        INTEGER NOT NULL,
    speed_kmh   DOUBLE PRECISION,
    flow_veh_hr INTEGER,
    PRIMARY KEY (ts, site_id, lane)
);

CREATE TABLE IF NOT EXISTS journey_times_raw (
    ts               TIMESTAMPTZ NOT NULL,
    site_id          TEXT NOT NULL,
    duration_sec     DOUBLE PRECISION,
    ref_duration_sec DOUBLE PRECISION,
    delay_sec        DOUBLE PRECISION,
    accuracy         DOUBLE PRECISION,
    quality          DOUBLE PRECISION,
    input_values     INTEGER,
    PRIMARY KEY (ts, site_id)
);

CREATE TABLE IF NOT EXISTS ingest_cycles (
    feed           TEXT NOT NULL,
    cycle          BIGINT NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL,
    status         TEXT NOT NULL,
    records        INTEGER NOT NULL DEFAULT 0,
    skipped        INTEGER NOT NULL DEFAULT 0,
    failed_batches INTEGER NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (feed, cycle)
);
`

// EnsureSchema creates the tables if they do not exist. Intended for
// development setups; production schemas are migrated externally.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}
