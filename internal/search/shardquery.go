package search

import "github.com/dreamware/shardsearch/internal/coordinator"

// ShardAmount is how many results each shard of an index must return for
// a request to have a good chance of a correct merged page.
//
// The page needs start+amount results overall. A single-shard index, or a
// full fetch, asks every shard for all of them. Otherwise each shard is
// asked for its even share plus MinShardRequest, scaled by RequestFactor.
func ShardAmount(req *QueryRequest, numberOfShards int, settings coordinator.IndexSettings, fullFetch bool) int {
	amount := req.Amount + req.Start
	if amount <= 0 {
		return 0
	}
	if numberOfShards == 1 || fullFetch {
		return amount
	}
	settings = settings.WithDefaults()
	perShard := (float64(amount)/float64(numberOfShards) + float64(settings.ShardRequestMinimum())) * settings.RequestFactor
	return int(perShard)
}

// ShardQuery is the unit of work handed to one shard.
type ShardQuery struct {
	Request  *QueryRequest
	After    *ScoredResult
	CacheKey *QueryCacheKey
	Index    string
	Shard    int
	// Amount is the number of results to return; the shard looks one
	// further to populate Next.
	Amount    int
	FullFetch bool
}

// NewShardQueries expands an InternalQueryRequest into one ShardQuery per
// requested shard. Every shard query shares the same cache key.
func NewShardQueries(iqr *InternalQueryRequest) []ShardQuery {
	key := NewQueryCacheKey(iqr.Request, iqr.FullFetch)
	var out []ShardQuery
	for _, t := range iqr.Targets {
		for _, shard := range t.Shards {
			out = append(out, ShardQuery{
				Request:   iqr.Request,
				Index:     t.Index,
				Shard:     shard,
				Amount:    t.Amount,
				After:     iqr.Request.LastResult.ForShard(t.Index, shard),
				CacheKey:  key,
				FullFetch: iqr.FullFetch,
			})
		}
	}
	return out
}

// Cacheable reports whether the shard may store its response in the
// result cache. Pinned queries are always stored; others only when the
// shard amount is within the index's cache limit.
func (q ShardQuery) Cacheable(settings coordinator.IndexSettings) bool {
	if q.CacheKey == nil {
		return false
	}
	if q.CacheKey.Pinned() {
		return true
	}
	return q.Amount <= settings.WithDefaults().ShardQueryCacheMaxAmount
}
