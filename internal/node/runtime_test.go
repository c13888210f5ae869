package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/logging"
	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/shard"
	"github.com/dreamware/shardsearch/internal/storage"
)

func localNode(port int) cluster.Node {
	return cluster.Node{Address: "127.0.0.1", ServicePort: port}
}

// soloRuntime holds shard 0 of "docs"; shard 1 lives on another node.
func soloRuntime(t *testing.T) (*Runtime, *coordinator.SnapshotHolder) {
	t.Helper()
	self, other := localNode(9001), localNode(9002)
	m := coordinator.IndexMapping{
		Name:           "docs",
		NumberOfShards: 2,
		Settings:       productSettings,
		Shards: []coordinator.ShardMapping{
			{Shard: 0, Primary: self},
			{Shard: 1, Primary: other},
		},
	}
	holder := coordinator.NewSnapshotHolder(coordinator.NewRoutingSnapshot(self, []cluster.Node{self, other}, []coordinator.IndexMapping{m}, nil))
	rt := NewRuntime(self, holder, logging.Discard())
	t.Cleanup(func() { rt.Close() })
	return rt, holder
}

func TestRuntimeOpensHeldShardsOnly(t *testing.T) {
	rt, _ := soloRuntime(t)

	s, err := rt.Shard("docs", 0)
	require.NoError(t, err)
	assert.True(t, s.Primary)
	again, err := rt.Shard("docs", 0)
	require.NoError(t, err)
	assert.Same(t, s, again, "opened once")

	_, err = rt.Shard("docs", 1)
	assert.ErrorIs(t, err, ErrShardNotHeld)
	_, err = rt.Shard("nope", 0)
	assert.ErrorIs(t, err, coordinator.ErrIndexNotFound)
}

func TestRuntimeSync(t *testing.T) {
	rt, holder := soloRuntime(t)
	rt.Sync(holder.Load())
	require.Len(t, rt.Shards(), 1)
	s := rt.Shards()[0]

	empty := coordinator.NewRoutingSnapshot(rt.Self(), nil, nil, nil)
	holder.Swap(empty)
	rt.Sync(empty)
	assert.Empty(t, rt.Shards())
	assert.Equal(t, shard.ShardStateClosed, s.Info().State)
}

func TestRuntimeLocalHandlers(t *testing.T) {
	ctx := context.Background()
	rt, _ := soloRuntime(t)

	for i := 0; i < 3; i++ {
		ack, err := rt.Store(ctx, &search.StoreRequest{
			Index:    "docs",
			Shard:    0,
			UniqueID: fmt.Sprintf("id-%d", i),
			Document: map[string]any{"price": float64(i)},
		})
		require.NoError(t, err)
		assert.Equal(t, rt.Self().Key(), ack.Node)
	}

	req := &search.QueryRequest{Indexes: []string{"docs"}, Amount: 2, FetchType: search.FetchFull, Sort: []search.FieldSort{{Field: "price"}}}
	out, err := rt.Query(ctx, &search.InternalQueryRequest{
		Request: req,
		Targets: []search.IndexShards{{Index: "docs", Shards: []int{0}, Amount: 2}},
	})
	require.NoError(t, err)
	require.Len(t, out.Responses, 1)
	assert.Equal(t, int64(3), out.Responses[0].TotalHits)
	assert.Len(t, out.Responses[0].Results, 2)
	require.NotNil(t, out.Responses[0].Next)
	assert.Equal(t, "id-2", out.Responses[0].Next.UniqueID)

	_, err = rt.Delete(ctx, &search.DeleteRequest{Index: "docs", Shard: 0, UniqueID: "id-0"})
	require.NoError(t, err)
	fetched, err := rt.BatchFetch(ctx, &search.InternalBatchFetchRequest{Batches: []search.ShardFetchBatch{
		{Index: "docs", Shard: 0, UniqueIDs: []string{"id-0", "id-1"}},
	}})
	require.NoError(t, err)
	require.Len(t, fetched.Responses, 2)
	assert.False(t, fetched.Responses[0].Found)
	assert.True(t, fetched.Responses[1].Found)

	_, err = rt.Store(ctx, &search.StoreRequest{Index: "docs", Shard: 1, UniqueID: "x"})
	assert.ErrorIs(t, err, ErrShardNotHeld)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", search.ErrInvalidRequest), http.StatusBadRequest},
		{search.ErrSortTypeMismatch, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", coordinator.ErrIndexNotFound), http.StatusNotFound},
		{ErrShardNotHeld, http.StatusNotFound},
		{storage.ErrDocumentNotFound, http.StatusNotFound},
		{&coordinator.ShardUnavailableError{Index: "docs", Shard: 1}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&cluster.RemoteError{Status: http.StatusNotFound}, http.StatusNotFound},
		{&cluster.RemoteError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
