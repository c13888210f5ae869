// Package search holds the query data model shared by shards and the
// federation layer, and the logic that turns many shard answers into one.
//
// A QueryRequest is split into ShardQuery descriptors, each sized by
// ShardAmount. Shards answer with ShardQueryResponses that are already
// sorted and bounded, and carry a Next candidate: the best result they
// held back. QueryCombiner merges them, combines facets, stats and term
// analysis, builds the resume cursor and reports a Shortfall when a held
// back result would have ranked inside the page.
package search
