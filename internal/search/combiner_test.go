package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/coordinator"
)

func hit(index string, shard int, score float64) ScoredResult {
	return ScoredResult{
		UniqueID: fmt.Sprintf("%s-%d-%g", index, shard, score),
		Index:    index,
		Shard:    shard,
		Score:    score,
		Document: map[string]any{"score": score},
	}
}

func shardResponse(index string, shard int, total int64, scores ...float64) ShardQueryResponse {
	sr := ShardQueryResponse{Index: index, Shard: shard, TotalHits: total}
	for _, s := range scores {
		sr.Results = append(sr.Results, hit(index, shard, s))
	}
	return sr
}

func withNext(sr ShardQueryResponse, score float64) ShardQueryResponse {
	next := hit(sr.Index, sr.Shard, score)
	sr.Next = &next
	return sr
}

func scores(results []ScoredResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

func docs(shards int) []coordinator.IndexMapping {
	return []coordinator.IndexMapping{{Name: "docs", NumberOfShards: shards}}
}

func TestCombineTwoShards(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 5}
	responses := []ShardQueryResponse{
		shardResponse("docs", 0, 10, 9, 7, 5),
		shardResponse("docs", 1, 12, 8, 6, 4),
	}

	c, err := Combine(docs(2), req, responses)
	require.NoError(t, err)
	assert.False(t, c.Short())

	resp := c.Response
	assert.Equal(t, []float64{9, 8, 7, 6, 5}, scores(resp.Results))
	assert.Equal(t, int64(22), resp.TotalHits)
	assert.Equal(t, 2, resp.ShardsQueried)

	require.Len(t, resp.LastResult.Indexes, 1)
	cursor := resp.LastResult
	require.NotNil(t, cursor.ForShard("docs", 0))
	require.NotNil(t, cursor.ForShard("docs", 1))
	assert.Equal(t, 5.0, cursor.ForShard("docs", 0).Score)
	// shard 1's 4 was not part of the page, so its resume point is the 6
	assert.Equal(t, 6.0, cursor.ForShard("docs", 1).Score)
	assert.Nil(t, cursor.ForShard("docs", 0).Document, "cursor carries no payload")
	assert.NotEmpty(t, cursor.ForShard("docs", 0).UniqueID)
}

func TestCombineDetectsHeldBackResult(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 5}
	responses := []ShardQueryResponse{
		withNext(shardResponse("docs", 0, 10, 9, 7, 5), 6.5),
		shardResponse("docs", 1, 12, 8, 6, 4),
	}

	c, err := Combine(docs(2), req, responses)
	require.NoError(t, err)
	require.True(t, c.Short())
	assert.Equal(t, "docs", c.Shortfall.Index)
	assert.False(t, c.Shortfall.Sorted)
	assert.Equal(t, 5.0, c.Shortfall.Last.Score)
	assert.Equal(t, 6.5, c.Shortfall.Next.Score)
	assert.Contains(t, c.Shortfall.String(), "docs")
}

func TestCombineTolerance(t *testing.T) {
	const tolerance = 0.5
	mappings := []coordinator.IndexMapping{{
		Name:           "docs",
		NumberOfShards: 2,
		Settings:       coordinator.IndexSettings{ShardTolerance: tolerance},
	}}
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 1}

	tests := []struct {
		name    string
		epsilon float64
		short   bool
	}{
		{"beyond tolerance", 0.75, true},
		{"within tolerance", 0.25, false},
		{"equal score", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := []ShardQueryResponse{
				shardResponse("docs", 0, 1, 10),
				withNext(shardResponse("docs", 1, 1), 10+tt.epsilon),
			}
			c, err := Combine(mappings, req, responses)
			require.NoError(t, err)
			assert.Equal(t, tt.short, c.Short())
		})
	}
}

func TestCombineSortedShortfallIgnoresTolerance(t *testing.T) {
	mappings := []coordinator.IndexMapping{{
		Name:           "docs",
		NumberOfShards: 2,
		Settings: coordinator.IndexSettings{
			ShardTolerance: 100,
			Fields:         []coordinator.FieldConfig{{Name: "year", Type: coordinator.FieldInt}},
		},
	}}
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 1, Sort: []FieldSort{{Field: "year"}}}

	a := hit("docs", 0, 1)
	a.SortValues = []SortValue{intValue(2000)}
	next := hit("docs", 1, 1)
	next.SortValues = []SortValue{intValue(1999)}

	responses := []ShardQueryResponse{
		{Index: "docs", Shard: 0, TotalHits: 1, Results: []ScoredResult{a}},
		{Index: "docs", Shard: 1, TotalHits: 1, Next: &next},
	}
	c, err := Combine(mappings, req, responses)
	require.NoError(t, err)
	require.True(t, c.Short())
	assert.True(t, c.Shortfall.Sorted)
}

func TestCombineCompleteness(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 10}
	complete := []ShardQueryResponse{
		shardResponse("docs", 0, 1, 3),
		shardResponse("docs", 1, 1, 2),
		shardResponse("docs", 2, 1, 1),
	}
	_, err := Combine(docs(3), req, complete)
	require.NoError(t, err)

	tests := []struct {
		name      string
		responses []ShardQueryResponse
	}{
		{"missing shard", complete[:2]},
		{"duplicate shard", append(append([]ShardQueryResponse{}, complete...), shardResponse("docs", 1, 1, 2))},
		{"replaced shard", []ShardQueryResponse{complete[0], complete[1], shardResponse("docs", 1, 1, 2)}},
		{"missing index", nil},
		{"other index only", []ShardQueryResponse{shardResponse("other", 0, 1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Combine(docs(3), req, tt.responses)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMergeInvariant)
			var mie *MergeInvariantError
			require.ErrorAs(t, err, &mie)
			assert.NotEmpty(t, mie.Reason)
		})
	}
}

func TestCombineSingleShardKeepsOrder(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 4}
	sr := shardResponse("docs", 0, 4, 8, 8, 3, 1)
	sr.Results[0].UniqueID = "b"
	sr.Results[1].UniqueID = "a"

	c, err := Combine(docs(1), req, []ShardQueryResponse{sr})
	require.NoError(t, err)
	assert.Equal(t, sr.Results, c.Response.Results)
	assert.False(t, c.Short())
}

func TestCombineStartAndCursor(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 2, Start: 2}
	responses := []ShardQueryResponse{
		shardResponse("docs", 0, 10, 9, 7, 5),
		shardResponse("docs", 1, 10, 8, 6, 4),
	}

	c, err := Combine(docs(2), req, responses)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 6}, scores(c.Response.Results))
	assert.Equal(t, 7.0, c.Response.LastResult.ForShard("docs", 0).Score)
	assert.Equal(t, 6.0, c.Response.LastResult.ForShard("docs", 1).Score)
}

func TestCombineKeepsIncomingCursorForIdleShards(t *testing.T) {
	prev := hit("docs", 1, 3)
	req := &QueryRequest{
		Indexes: []string{"docs"},
		Amount:  1,
		LastResult: &LastResult{Indexes: []LastIndexResult{
			{Index: "docs", LastForShard: []ScoredResult{prev.cursor()}},
		}},
	}
	responses := []ShardQueryResponse{
		shardResponse("docs", 0, 5, 9),
		shardResponse("docs", 1, 5, 2),
	}

	c, err := Combine(docs(2), req, responses)
	require.NoError(t, err)
	assert.Equal(t, 9.0, c.Response.LastResult.ForShard("docs", 0).Score)
	assert.Equal(t, prev.UniqueID, c.Response.LastResult.ForShard("docs", 1).UniqueID)
}

func TestCombineMultipleIndexes(t *testing.T) {
	mappings := []coordinator.IndexMapping{
		{Name: "books", NumberOfShards: 1},
		{Name: "films", NumberOfShards: 2},
	}
	req := &QueryRequest{Indexes: []string{"books", "films"}, Amount: 3}
	responses := []ShardQueryResponse{
		shardResponse("films", 1, 2, 6, 1),
		shardResponse("books", 0, 3, 7, 5, 2),
		shardResponse("films", 0, 1, 4),
	}

	c, err := Combine(mappings, req, responses)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 6, 5}, scores(c.Response.Results))
	assert.Equal(t, int64(6), c.Response.TotalHits)
	require.Len(t, c.Response.LastResult.Indexes, 2)
	assert.Equal(t, "books", c.Response.LastResult.Indexes[0].Index)
	assert.Nil(t, c.Response.LastResult.ForShard("films", 0))
}

func TestCombineCacheCounters(t *testing.T) {
	req := &QueryRequest{Indexes: []string{"docs"}, Amount: 1}
	a := shardResponse("docs", 0, 1, 1)
	a.Cached = true
	b := shardResponse("docs", 1, 1, 2)
	b.Cached, b.Pinned = true, true

	c, err := Combine(docs(2), req, []ShardQueryResponse{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Response.ShardsCached)
	assert.Equal(t, 1, c.Response.ShardsPinned)
	assert.True(t, c.Response.FullyCached)
}

func TestCombineSortTypeMismatch(t *testing.T) {
	mappings := []coordinator.IndexMapping{
		{Name: "a", NumberOfShards: 1, Settings: coordinator.IndexSettings{
			Fields: []coordinator.FieldConfig{{Name: "n", Type: coordinator.FieldInt}}}},
		{Name: "b", NumberOfShards: 1, Settings: coordinator.IndexSettings{
			Fields: []coordinator.FieldConfig{{Name: "n", Type: coordinator.FieldDouble}}}},
	}
	req := &QueryRequest{Indexes: []string{"a", "b"}, Amount: 1, Sort: []FieldSort{{Field: "n"}}}
	_, err := Combine(mappings, req, []ShardQueryResponse{
		shardResponse("a", 0, 0),
		shardResponse("b", 0, 0),
	})
	assert.ErrorIs(t, err, ErrSortTypeMismatch)
}
