package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/search"
)

func key(query string, pinned bool) *search.QueryCacheKey {
	return search.NewQueryCacheKey(&search.QueryRequest{Query: query, Amount: 10, PinToCache: pinned}, false)
}

func response(hits int) *search.ShardQueryResponse {
	resp := &search.ShardQueryResponse{Index: "docs", TotalHits: int64(hits)}
	for i := 0; i < hits; i++ {
		resp.Results = append(resp.Results, search.ScoredResult{UniqueID: fmt.Sprint(i)})
	}
	return resp
}

func TestGetPut(t *testing.T) {
	c := New(Options{Size: 8})

	_, ok := c.Get(key("go", false))
	assert.False(t, ok)

	resp := response(1)
	c.Put(key("go", false), resp)
	got, ok := c.Get(key("go", false))
	require.True(t, ok)
	assert.Same(t, resp, got)
	assert.Equal(t, 1, c.Len())

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestNilKey(t *testing.T) {
	c := New(Options{Size: 8})
	c.Put(nil, response(1))
	_, ok := c.Get(nil)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := New(Options{Size: 2, Stripes: 1})

	c.Put(key("a", false), response(1))
	c.Put(key("b", false), response(1))
	_, ok := c.Get(key("a", false))
	require.True(t, ok)
	c.Put(key("c", false), response(1))

	_, ok = c.Get(key("b", false))
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(key("a", false))
	assert.True(t, ok)
	_, ok = c.Get(key("c", false))
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestWeightEviction(t *testing.T) {
	c := New(Options{Size: 100, Stripes: 1, MaxWeight: 10, Weigher: ResultWeight})

	c.Put(key("a", false), response(4))
	c.Put(key("b", false), response(4))
	assert.Equal(t, 2, c.Len())

	c.Put(key("c", false), response(4))
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(key("a", false))
	assert.False(t, ok)

	c.Put(key("huge", false), response(50))
	_, ok = c.Get(key("huge", false))
	assert.False(t, ok, "an entry heavier than the stripe is never stored")
}

func TestPinnedTierIsNotEvicted(t *testing.T) {
	c := New(Options{Size: 1, Stripes: 1})

	c.Put(key("pinned", true), response(1))
	for i := 0; i < 10; i++ {
		c.Put(key(fmt.Sprint("q", i), false), response(1))
	}

	_, ok := c.Get(key("pinned", true))
	assert.True(t, ok)
	_, ok = c.Get(key("pinned", false))
	assert.True(t, ok, "pin flag is not part of the key identity")

	st := c.Stats()
	assert.Equal(t, 1, st.Pinned)
	assert.Equal(t, 1, st.Entries)
}

func TestInvalidateAll(t *testing.T) {
	c := New(Options{Size: 8})
	c.Put(key("a", false), response(1))
	c.Put(key("b", true), response(1))
	require.Equal(t, 2, c.Len())

	c.InvalidateAll()
	assert.Zero(t, c.Len())
	_, ok := c.Get(key("b", true))
	assert.False(t, ok)
}

func TestZeroSizeStoresOnlyPinned(t *testing.T) {
	c := New(Options{})
	c.Put(key("a", false), response(1))
	c.Put(key("b", true), response(1))
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{Size: 64})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := key(fmt.Sprint(g, "-", i%32), i%50 == 0)
				c.Put(k, response(1))
				c.Get(k)
				if i%97 == 0 {
					c.InvalidateAll()
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Entries, 64)
}
