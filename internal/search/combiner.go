package search

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/coordinator"
)

// ErrMergeInvariant is matched by every MergeInvariantError.
var ErrMergeInvariant = errors.New("merge invariant violated")

// MergeInvariantError reports a set of shard responses that cannot be
// merged: a shard answered twice, or an index or shard did not answer.
type MergeInvariantError struct {
	Index  string
	Reason string
	Shard  int
}

func (e *MergeInvariantError) Error() string {
	return fmt.Sprintf("%s: index %s shard %d: %s", ErrMergeInvariant, e.Index, e.Shard, e.Reason)
}

func (e *MergeInvariantError) Unwrap() error { return ErrMergeInvariant }

// Shortfall describes why a merged page may be missing results: some
// shard held back a result that ranks ahead of the last result the page
// took from the index.
type Shortfall struct {
	Last      ScoredResult
	Next      ScoredResult
	Index     string
	Tolerance float64
	Sorted    bool
}

func (s *Shortfall) String() string {
	if s.Sorted {
		return fmt.Sprintf("index %s: next from shard %d %v ranks ahead of last from shard %d %v",
			s.Index, s.Next.Shard, s.Next.SortValues, s.Last.Shard, s.Last.SortValues)
	}
	return fmt.Sprintf("index %s: next from shard %d score %g beats last from shard %d score %g beyond tolerance %g",
		s.Index, s.Next.Shard, s.Next.Score, s.Last.Shard, s.Last.Score, s.Tolerance)
}

// Combined is a merged response plus, when the page may be incomplete,
// the first shortfall found.
type Combined struct {
	Response  *QueryResponse
	Shortfall *Shortfall
}

// Short reports whether the merge detected a possibly incomplete page.
func (c *Combined) Short() bool { return c.Shortfall != nil }

// QueryCombiner merges shard responses into one QueryResponse. It is
// pure: logging the shortfall and retrying are left to the caller.
type QueryCombiner struct {
	request   *QueryRequest
	indexes   []coordinator.IndexMapping
	responses []ShardQueryResponse

	byIndex map[string]map[int]*ShardQueryResponse
}

// NewQueryCombiner prepares a merge of responses for the given indexes.
func NewQueryCombiner(indexes []coordinator.IndexMapping, req *QueryRequest, responses []ShardQueryResponse) *QueryCombiner {
	return &QueryCombiner{request: req, indexes: indexes, responses: responses}
}

// Combine is shorthand for NewQueryCombiner(...).Combine().
func Combine(indexes []coordinator.IndexMapping, req *QueryRequest, responses []ShardQueryResponse) (*Combined, error) {
	return NewQueryCombiner(indexes, req, responses).Combine()
}

func (c *QueryCombiner) validate() error {
	c.byIndex = make(map[string]map[int]*ShardQueryResponse, len(c.indexes))
	for i := range c.responses {
		sr := &c.responses[i]
		shards, ok := c.byIndex[sr.Index]
		if !ok {
			shards = make(map[int]*ShardQueryResponse)
			c.byIndex[sr.Index] = shards
		}
		if _, dup := shards[sr.Shard]; dup {
			return &MergeInvariantError{Index: sr.Index, Shard: sr.Shard, Reason: "shard is repeated"}
		}
		shards[sr.Shard] = sr
	}

	for _, m := range c.indexes {
		shards, ok := c.byIndex[m.Name]
		if !ok {
			return &MergeInvariantError{Index: m.Name, Shard: -1, Reason: "missing index in response"}
		}
		if len(shards) != m.NumberOfShards {
			return &MergeInvariantError{Index: m.Name, Shard: -1,
				Reason: fmt.Sprintf("found %d shard responses, expected %d", len(shards), m.NumberOfShards)}
		}
		for s := 0; s < m.NumberOfShards; s++ {
			if _, ok := shards[s]; !ok {
				return &MergeInvariantError{Index: m.Name, Shard: s, Reason: "missing shard"}
			}
		}
	}
	return nil
}

// Combine validates the responses and merges them.
func (c *QueryCombiner) Combine() (*Combined, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	types, err := SortTypes(c.request.Sort, c.indexes)
	if err != nil {
		return nil, err
	}
	comparator := NewComparator(c.request.Sort, types)

	out := &QueryResponse{ShardsQueried: len(c.responses)}
	var returnedHits int
	for _, sr := range c.responses {
		out.TotalHits += sr.TotalHits
		returnedHits += len(sr.Results)
		if sr.Cached {
			out.ShardsCached++
		}
		if sr.Pinned {
			out.ShardsPinned++
		}
	}
	out.FullyCached = len(c.responses) > 0 && out.ShardsCached == len(c.responses)

	c.combineAggregations(out)

	amount := c.request.Amount + c.request.Start
	resultsSize := min(amount, returnedHits)

	lastForShard := c.initialCursor()

	merged := make([]ScoredResult, 0, returnedHits)
	for _, sr := range c.responses {
		merged = append(merged, sr.Results...)
	}
	slices.SortStableFunc(merged, func(a, b ScoredResult) int {
		return comparator.Compare(&a, &b)
	})
	page := merged[:resultsSize]

	for i := range page {
		r := page[i]
		if last, ok := lastForShard[r.Index]; ok && r.Shard >= 0 && r.Shard < len(last) {
			last[r.Shard] = &r
		}
	}

	combined := &Combined{Response: out}
	if len(page) > 0 {
		combined.Shortfall = c.checkShortfall(comparator, lastForShard)
	}

	for i, r := range page {
		if i >= c.request.Start {
			out.Results = append(out.Results, r)
		}
	}
	out.LastResult = c.cursor(lastForShard)
	return combined, nil
}

// initialCursor seeds the per-shard last results from the incoming
// cursor so that a shard contributing nothing to this page keeps its
// previous resume point.
func (c *QueryCombiner) initialCursor() map[string][]*ScoredResult {
	last := make(map[string][]*ScoredResult, len(c.indexes))
	for _, m := range c.indexes {
		last[m.Name] = make([]*ScoredResult, m.NumberOfShards)
	}
	if c.request.LastResult == nil {
		return last
	}
	for _, lir := range c.request.LastResult.Indexes {
		arr, ok := last[lir.Index]
		if !ok {
			continue
		}
		for j := range lir.LastForShard {
			sr := lir.LastForShard[j]
			if sr.Shard >= 0 && sr.Shard < len(arr) {
				sr.Index = lir.Index
				arr[sr.Shard] = &sr
			}
		}
	}
	return last
}

func (c *QueryCombiner) checkShortfall(comparator *Comparator, lastForShard map[string][]*ScoredResult) *Shortfall {
	for _, m := range c.indexes {
		var lastForIndex *ScoredResult
		for _, sr := range lastForShard[m.Name] {
			if sr == nil {
				continue
			}
			if lastForIndex == nil || comparator.Compare(sr, lastForIndex) > 0 {
				lastForIndex = sr
			}
		}
		if lastForIndex == nil {
			// nothing taken from this index
			continue
		}

		tolerance := m.Settings.WithDefaults().ShardTolerance
		for s := 0; s < m.NumberOfShards; s++ {
			next := c.byIndex[m.Name][s].Next
			if next == nil || comparator.Compare(lastForIndex, next) <= 0 {
				continue
			}
			if comparator.Sorting() {
				return &Shortfall{Index: m.Name, Sorted: true, Last: *lastForIndex, Next: *next}
			}
			if math.Abs(lastForIndex.Score-next.Score) > tolerance {
				return &Shortfall{Index: m.Name, Last: *lastForIndex, Next: *next, Tolerance: tolerance}
			}
		}
	}
	return nil
}

func (c *QueryCombiner) cursor(lastForShard map[string][]*ScoredResult) LastResult {
	var lr LastResult
	for _, m := range c.indexes {
		lir := LastIndexResult{Index: m.Name}
		for _, sr := range lastForShard[m.Name] {
			if sr != nil {
				lir.LastForShard = append(lir.LastForShard, sr.cursor())
			}
		}
		if len(lir.LastForShard) > 0 {
			lr.Indexes = append(lr.Indexes, lir)
		}
	}
	return lr
}

// combineAggregations merges facets, stats and analysis, in the order
// the request asked for them.
func (c *QueryCombiner) combineAggregations(out *QueryResponse) {
	n := len(c.responses)
	for _, req := range c.request.Facets {
		groups := make([]*FacetGroup, n)
		for i := range c.responses {
			groups[i] = findFacetGroup(c.responses[i].Facets, req)
		}
		out.Facets = append(out.Facets, combineFacets(req, groups))
	}
	for _, req := range c.request.Stats {
		groups := make([]*StatGroup, n)
		for i := range c.responses {
			groups[i] = findStatGroup(c.responses[i].Stats, req)
		}
		out.Stats = append(out.Stats, combineStats(req, groups))
	}
	for _, req := range c.request.Analysis {
		results := make([]*AnalysisResult, n)
		for i := range c.responses {
			results[i] = findAnalysis(c.responses[i].Analysis, req)
		}
		out.Analysis = append(out.Analysis, combineAnalysis(req, results))
	}
}

func findFacetGroup(groups []FacetGroup, req CountRequest) *FacetGroup {
	for i := range groups {
		if groups[i].Request == req {
			return &groups[i]
		}
	}
	return nil
}

func findStatGroup(groups []StatGroup, req StatRequest) *StatGroup {
	for i := range groups {
		if groups[i].Request == req {
			return &groups[i]
		}
	}
	return nil
}

func findAnalysis(results []AnalysisResult, req AnalysisRequest) *AnalysisResult {
	for i := range results {
		if results[i].Request == req {
			return &results[i]
		}
	}
	return nil
}
