// Package bus is the publish-bus capability between the ingestion side
// and the fan-out side.
//
// The snapshot builder publishes exactly one message per record kind per
// cycle on the kind's channel; the fan-out dispatcher subscribes to
// those channels. The bus itself is fire-and-forget: no acknowledgment,
// no replay, no ordering guarantee. Per-kind ordering is a property of
// the single publisher per kind, not of the bus.
//
// Redis pub/sub is the production implementation; Memory backs tests and
// single-process deployments. Both are injected where needed, there is
// no package-level bus.
package bus
