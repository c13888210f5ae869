package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/logging"
	"github.com/dreamware/shardsearch/internal/search"
)

var productSettings = coordinator.IndexSettings{
	Fields: []coordinator.FieldConfig{
		{Name: "title", Type: coordinator.FieldText},
		{Name: "category", Type: coordinator.FieldKeyword, Facetable: true},
		{Name: "price", Type: coordinator.FieldDouble, Sortable: true},
	},
}

type testCluster struct {
	servers []*Server
	https   []*httptest.Server
	nodes   []cluster.Node
}

// startCluster runs n nodes on loopback, all sharing one placement of
// index "docs" with four shards and one replica each.
func startCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	tc := &testCluster{}
	for i := 0; i < n; i++ {
		ts := httptest.NewUnstartedServer(nil)
		addr := ts.Listener.Addr().(*net.TCPAddr)
		tc.https = append(tc.https, ts)
		tc.nodes = append(tc.nodes, cluster.Node{Address: "127.0.0.1", ServicePort: addr.Port, Heartbeat: time.Now()})
	}

	registry := coordinator.NewShardRegistry()
	_, err := registry.CreateIndex("docs", 4, 1, productSettings, tc.nodes)
	require.NoError(t, err)
	require.NoError(t, registry.SetAlias("products", "docs"))

	for i, ts := range tc.https {
		snap := coordinator.NewRoutingSnapshot(tc.nodes[i], tc.nodes, registry.Indexes(), registry.Aliases())
		holder := coordinator.NewSnapshotHolder(snap)
		srv := NewServer(Options{
			Self:    tc.nodes[i],
			Holder:  holder,
			Logger:  logging.Discard(),
			Timeout: 10 * time.Second,
		})
		srv.Runtime().Sync(holder.Load())
		ts.Config.Handler = srv.Router()
		ts.Start()
		tc.servers = append(tc.servers, srv)
	}
	t.Cleanup(func() {
		for i, ts := range tc.https {
			ts.Close()
			tc.servers[i].Runtime().Close()
		}
	})
	return tc
}

func (tc *testCluster) url(i int, path string) string {
	return tc.https[i].URL + path
}

func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func docID(i int) string {
	return fmt.Sprintf("doc-%02d", i)
}

func (tc *testCluster) load(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		category := "even"
		if i%2 == 1 {
			category = "odd"
		}
		doc := map[string]any{"title": fmt.Sprintf("product number %d", i), "category": category, "price": float64(i)}
		var res WriteResult
		status := doJSON(t, http.MethodPut, tc.url(i%len(tc.https), "/indexes/docs/documents/"+docID(i)), doc, &res)
		require.Equal(t, http.StatusOK, status)
		require.Len(t, res.Nodes, 2, "primary and replica")
	}
}

func prices(results []search.ScoredResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Document["price"].(float64)
	}
	return out
}

func priceRange(from, to int) []float64 {
	var out []float64
	for i := from; i < to; i++ {
		out = append(out, float64(i))
	}
	return out
}

func TestClusterQueryAndPaging(t *testing.T) {
	tc := startCluster(t, 3)
	tc.load(t, 30)

	req := search.QueryRequest{
		Indexes: []string{"products"},
		Amount:  10,
		Sort:    []search.FieldSort{{Field: "price"}},
		Facets:  []search.CountRequest{{Field: "category"}},
	}
	var page1 search.QueryResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(1, "/query"), req, &page1))
	assert.Equal(t, int64(30), page1.TotalHits)
	assert.Equal(t, 4, page1.ShardsQueried)
	assert.Equal(t, priceRange(0, 10), prices(page1.Results))
	require.Len(t, page1.Facets, 1)
	assert.Equal(t, []search.FacetCount{{Facet: "even", Count: 15}, {Facet: "odd", Count: 15}}, page1.Facets[0].Counts)
	assert.False(t, page1.Facets[0].PossibleMissing)

	req.LastResult = &page1.LastResult
	var page2 search.QueryResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(2, "/query"), req, &page2))
	assert.Equal(t, priceRange(10, 20), prices(page2.Results))

	req.LastResult = nil
	req.Start = 25
	var tail search.QueryResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/query"), req, &tail))
	assert.Equal(t, priceRange(25, 30), prices(tail.Results))
}

func TestClusterQueryIsCachedPerShard(t *testing.T) {
	tc := startCluster(t, 2)
	tc.load(t, 12)

	req := search.QueryRequest{Indexes: []string{"docs"}, Amount: 5, Sort: []search.FieldSort{{Field: "price"}}}
	var first, second search.QueryResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/query"), req, &first))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/query"), req, &second))
	assert.Equal(t, 0, first.ShardsCached)
	assert.Equal(t, 4, second.ShardsCached)
	assert.True(t, second.FullyCached)
	assert.Equal(t, prices(first.Results), prices(second.Results))
}

func TestClusterReplicaPreference(t *testing.T) {
	tc := startCluster(t, 3)
	tc.load(t, 8)

	req := search.QueryRequest{
		Indexes:    []string{"docs"},
		Amount:     8,
		Sort:       []search.FieldSort{{Field: "price"}},
		Preference: coordinator.ReplicaOnly,
		DontCache:  true,
	}
	var resp search.QueryResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/query"), req, &resp))
	assert.Equal(t, priceRange(0, 8), prices(resp.Results), "replicas hold every write")
}

func TestClusterFetch(t *testing.T) {
	tc := startCluster(t, 3)
	tc.load(t, 10)

	var one search.FetchResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(2, "/fetch"),
		search.FetchRequest{Index: "docs", UniqueID: docID(3), DocumentFields: []string{"price"}}, &one))
	assert.True(t, one.Found)
	assert.Equal(t, map[string]any{"price": 3.0}, one.Document)

	var missing search.FetchResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(2, "/fetch"),
		search.FetchRequest{Index: "docs", UniqueID: "nope"}, &missing))
	assert.False(t, missing.Found)

	var batch BatchFetchResponse
	ids := []string{docID(0), docID(1), docID(2), docID(9)}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/batch-fetch"),
		search.BatchFetchRequest{Groups: []search.GroupFetchRequest{{Template: search.FetchRequest{Index: "products"}, UniqueIDs: ids}}}, &batch))
	require.Len(t, batch.Responses, 4)
	var got []string
	for _, r := range batch.Responses {
		assert.True(t, r.Found)
		assert.Equal(t, coordinator.ShardFor(r.UniqueID, 4), r.Shard)
		got = append(got, r.UniqueID)
	}
	assert.ElementsMatch(t, ids, got)
}

func TestClusterDelete(t *testing.T) {
	tc := startCluster(t, 2)
	tc.load(t, 6)

	var res WriteResult
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, tc.url(1, "/indexes/docs/documents/"+docID(0)), nil, &res))
	assert.Len(t, res.Nodes, 2)

	var resp search.QueryResponse
	req := search.QueryRequest{Indexes: []string{"docs"}, Amount: 10, Sort: []search.FieldSort{{Field: "price"}}}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, tc.url(0, "/query"), req, &resp))
	assert.Equal(t, priceRange(1, 6), prices(resp.Results))
}

func TestClusterErrors(t *testing.T) {
	tc := startCluster(t, 2)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown index", http.MethodPost, "/query", search.QueryRequest{Indexes: []string{"missing"}, Amount: 1}, http.StatusNotFound},
		{"invalid request", http.MethodPost, "/query", search.QueryRequest{Indexes: []string{"docs"}, Amount: -1}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/query", "not an object", http.StatusBadRequest},
		{"store to unknown index", http.MethodPut, "/indexes/missing/documents/x", map[string]any{"a": 1}, http.StatusNotFound},
		{"internal query for unknown shard", http.MethodPost, PathInternalQuery, search.InternalQueryRequest{
			Request: &search.QueryRequest{Indexes: []string{"docs"}, Amount: 1},
			Targets: []search.IndexShards{{Index: "docs", Shards: []int{7}, Amount: 1}},
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, doJSON(t, tt.method, tc.url(0, tt.path), tt.body, nil))
		})
	}
}

func TestClusterInternalClient(t *testing.T) {
	tc := startCluster(t, 2)
	tc.load(t, 4)

	m, err := tc.servers[0].holder.Load().Index("docs")
	require.NoError(t, err)
	var held []int
	for _, sm := range m.Shards {
		if sm.Holds(tc.nodes[1]) {
			held = append(held, sm.Shard)
		}
	}

	resp, err := NewClient(5*time.Second).Query(context.Background(), tc.nodes[1], &search.InternalQueryRequest{
		Request: &search.QueryRequest{Indexes: []string{"docs"}, Amount: 4, FetchType: search.FetchFull},
		Targets: []search.IndexShards{{Index: "docs", Shards: held, Amount: 4}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Responses, len(held))
	var total int64
	for _, r := range resp.Responses {
		total += r.TotalHits
	}
	assert.Equal(t, int64(4), total, "two nodes with one replica each hold every shard")
}

func TestHealthAndInfo(t *testing.T) {
	tc := startCluster(t, 2)
	tc.load(t, 4)

	var health map[string]string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, tc.url(0, "/health"), nil, &health))
	assert.Equal(t, "ok", health["status"])

	var info Info
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, tc.url(0, "/info"), nil, &info))
	assert.True(t, info.Node.Same(tc.nodes[0]))
	assert.Equal(t, 2, info.Nodes)
	assert.Len(t, info.Shards, 4)
	var docs int
	for _, s := range info.Shards {
		assert.Equal(t, "docs", s.Index)
		docs += s.Documents
	}
	assert.Equal(t, 4, docs)
}
