// Package membership persists cluster membership (nodes with heartbeats,
// index mappings and aliases) and turns it into routing snapshots.
//
// The coordinator writes membership into a Store. Nodes read it, either
// from the same Store (Redis) or from the coordinator over HTTP, and a
// Refresher publishes each read as a new coordinator.RoutingSnapshot.
// Nodes whose last heartbeat is older than the configured TTL are left
// out of the snapshot, so the ReplicaSelector never routes to them.
package membership
