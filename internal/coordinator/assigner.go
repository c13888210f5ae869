package coordinator

import "hash/fnv"

// ShardFor maps a document's unique id to its shard within an index that
// has shardCount shards.
//
// The mapping is FNV-1a of the id modulo shardCount. It is stable across
// processes and restarts, and it depends on shardCount: an index's shard
// count is fixed when the index is created and ShardRegistry refuses to
// change it, because every existing id would move to a different shard.
//
// A non-positive shardCount yields 0.
func ShardFor(uniqueID string, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(uniqueID))
	return int(h.Sum32() % uint32(shardCount))
}
