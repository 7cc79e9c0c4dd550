// Package store persists measurement records and site reference data to
// Postgres/TimescaleDB through a pgx pool.
//
// Raw measurement inserts use ON CONFLICT DO NOTHING on the natural key
// so a replayed or overlapping cycle never duplicates rows. Writes run
// in bounded batches with per-batch retry; one failing batch degrades
// the cycle but never stops the remaining batches.
package store
