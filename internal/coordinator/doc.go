// Package coordinator owns shard placement and query routing for shardsearch.
//
// # Overview
//
// Every index is split into a fixed number of shards. A document's shard is
// chosen by ShardFor, an FNV-1a hash of its unique id modulo the index's
// shard count. Each shard is held by exactly one primary node and zero or
// more replica nodes; that placement is an IndexMapping.
//
//	uniqueID ──ShardFor──▶ shard ──IndexMapping──▶ {primary, replicas}
//	                                   │
//	                       ReplicaSelector(preference, reachable nodes)
//	                                   ▼
//	                              target node
//
// # Components
//
// ShardRegistry: the coordinator process's authoritative placement table.
// It creates indexes, keeps aliases, and repairs placement when nodes leave
// (RebalanceShards). Shard counts never change after creation.
//
// HealthMonitor: checks every registered node's /health endpoint and calls
// back when a node crosses the failure threshold.
//
// RoutingSnapshot and SnapshotHolder: the node-side, read-only view of
// membership and routing. Snapshots are immutable; a membership refresh
// builds a new snapshot and swaps it in atomically. Queries load one
// snapshot at the start and never observe a refresh midway.
//
// ReplicaSelector: picks one node per shard according to a
// ReplicaPreference:
//
//	PrimaryOnly       primary, else unavailable
//	PrimaryPreferred  primary, else first reachable replica
//	ReplicaPreferred  first reachable replica, else primary
//	ReplicaOnly       first reachable replica, else unavailable
//
// "Reachable" means present in the snapshot's node list. Staleness of that
// list is the membership layer's concern.
//
// # Errors
//
// ShardUnavailableError (matching ErrShardUnavailable) is returned when no
// node can serve a shard. It is fatal for the query that hit it and is
// never retried here. ErrIndexNotFound is returned for unknown names.
//
// # Thread Safety
//
// ShardRegistry and HealthMonitor are guarded by RWMutexes and return
// copies. ReplicaSelector and RoutingSnapshot are read-only after
// construction.
package coordinator
