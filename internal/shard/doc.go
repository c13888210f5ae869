// Package shard holds one partition of one index on a node and answers
// the shard-level half of every query and fetch.
//
// # Overview
//
// Documents are assigned to shards by coordinator.ShardFor. Each shard
// a node holds is an independent unit with three parts:
//
//	┌───────────────────────────────────────┐
//	│                SHARD                  │
//	├───────────────────────────────────────┤
//	│  bleve index (in memory)              │
//	│    matching, scoring, highlighting,   │
//	│    field analyzers                    │
//	│                                       │
//	│  storage.Documents                    │
//	│    stored JSON bodies: sort values,   │
//	│    facets, stats, analysis, fetches   │
//	│                                       │
//	│  cache.QueryResultCache               │
//	│    keyed by search.QueryCacheKey      │
//	└───────────────────────────────────────┘
//
// # Query execution
//
// Query runs a search.ShardQuery:
//
//  1. Every match of the query string and filters is collected from the
//     bleve index.
//  2. Sort values are read from the stored documents using the declared
//     field types, and matches are ordered by search.Comparator with the
//     unique id as the final tie break. The merger uses the same ordering,
//     which is what makes cursors and the correctness check sound.
//  3. Facets, stats and analysis are computed over all matches.
//  4. Matches at or before the After cursor are skipped.
//  5. Amount results are returned and the next one becomes Next.
//
// # Caching
//
// Responses are cached when the query has a cache key and its amount is
// within ShardQueryCacheMaxAmount, or when it is pinned. Realtime queries
// bypass the cache read. Concurrent identical misses are collapsed with
// singleflight. Any Store or Delete empties both cache tiers and starts a
// new cache generation: a search begun in an earlier generation is never
// cached and never shared with callers that arrive after the write.
//
// # Concurrency
//
// A Shard is safe for concurrent use. Counters are atomic; the index and
// document store synchronize internally.
package shard
