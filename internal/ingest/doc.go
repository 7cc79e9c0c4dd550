// Package ingest runs the per-feed ingestion cycles: fetch the
// upstream payload, stream-decode it, persist records in bounded
// batches, and publish exactly one snapshot per kind per cycle on the
// bus.
//
// Cycle outcomes feed both the in-memory status endpoint and the
// persisted ingest_cycles table. One feed failing or running slow never
// affects another feed's cycles.
package ingest
