// Package httpserver exposes the live data API: health and status
// endpoints plus the SSE and WebSocket streaming surfaces.
//
// Both streaming transports sit on the same dispatcher: a connection
// becomes a consumer, a subscription installs a filter, and deliveries
// are drained by the transport handler's own goroutine.
package httpserver
