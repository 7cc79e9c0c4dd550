// Package dispatch matches published measurement snapshots against
// consumer subscriptions and queues the matching records for delivery.
//
// A single dispatcher goroutine consumes the bus, so consumers observe
// every kind's snapshots in publish order. Each consumer owns a bounded
// queue; when a consumer falls behind, its oldest pending deliveries are
// discarded rather than stalling ingestion or other consumers.
//
// Filters are resolved against the site reference index once, at
// subscribe time, into a concrete site-id set. Record matching is then a
// set lookup per record.
package dispatch
