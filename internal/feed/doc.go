// Package feed fetches the upstream gzip XML feeds and schedules the
// per-feed ingestion cycles. Fetching streams; nothing buffers a whole
// payload in memory.
package feed
