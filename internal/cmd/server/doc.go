// Package serverrun exposes the Run entrypoint the CLI uses to start
// the ingestion pipeline and the streaming API, handling configuration
// resolution, lifecycle, and shutdown.
package serverrun
