// Package storage provides the key-value layer shared by shards and the
// membership glue.
//
// # Overview
//
// Store is a small byte-oriented interface with one in-process
// implementation, MemoryStore. Two consumers sit on top of it:
//
//	┌──────────────────────┐   ┌──────────────────────┐
//	│  shard.Shard         │   │  membership.KVStore  │
//	│  (Documents)         │   │  (nodes, indexes)    │
//	└──────────┬───────────┘   └──────────┬───────────┘
//	           └────────────┬─────────────┘
//	                        ▼
//	              ┌──────────────────┐
//	              │  Store interface │
//	              └────────┬─────────┘
//	                       ▼
//	              ┌──────────────────┐
//	              │   MemoryStore    │
//	              └──────────────────┘
//
// Documents keeps one JSON document per unique id under a key prefix, so
// several document sets can share a Store. Shards read stored documents
// back for fetches, sort values and aggregations; the full-text index only
// answers which documents match and how well.
//
// # Concurrency
//
// MemoryStore guards its map with a sync.RWMutex. Values are copied on the
// way in and out so callers can never alias stored bytes.
//
// # Keys
//
// Keys(prefix) returns keys in lexicographic order. Membership uses this to
// list every node or index record under a common prefix.
package storage
