// Package cache holds the per-shard query result cache.
//
// The cache has two tiers kept in separate structures. The general tier
// is a set of LRU stripes bounded by entry count and, optionally, by
// weight. The pinned tier holds results of queries marked PinToCache and
// is never evicted; it is only cleared by InvalidateAll.
package cache

import (
	"container/list"
	"sync"

	"github.com/dreamware/shardsearch/internal/search"
)

// DefaultStripes is the number of general-tier stripes.
const DefaultStripes = 16

// Weigher returns the cost of holding a response. With a Weigher set, a
// stripe also evicts until its total weight fits its share of MaxWeight.
type Weigher func(resp *search.ShardQueryResponse) int

// Options configures a QueryResultCache.
type Options struct {
	Weigher   Weigher
	Size      int
	MaxWeight int
	Stripes   int
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries   int   `json:"entries"`
	Pinned    int   `json:"pinned"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// QueryResultCache is safe for concurrent use.
type QueryResultCache struct {
	stripes []*stripe

	pinnedMu sync.RWMutex
	pinned   map[string]*search.ShardQueryResponse
}

// New creates a cache holding about opts.Size general entries.
func New(opts Options) *QueryResultCache {
	n := opts.Stripes
	if n <= 0 {
		n = DefaultStripes
	}
	if opts.Size > 0 && n > opts.Size {
		n = opts.Size
	}
	perStripe := ceilDiv(opts.Size, n)
	perWeight := ceilDiv(opts.MaxWeight, n)

	c := &QueryResultCache{
		stripes: make([]*stripe, n),
		pinned:  make(map[string]*search.ShardQueryResponse),
	}
	for i := range c.stripes {
		c.stripes[i] = &stripe{
			capacity:  perStripe,
			maxWeight: perWeight,
			weigher:   opts.Weigher,
			ll:        list.New(),
			items:     make(map[string]*list.Element),
		}
	}
	return c
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func (c *QueryResultCache) stripeFor(key *search.QueryCacheKey) *stripe {
	return c.stripes[key.Hash()%uint64(len(c.stripes))]
}

// Get returns the cached response for key. The pinned tier is checked
// first.
func (c *QueryResultCache) Get(key *search.QueryCacheKey) (*search.ShardQueryResponse, bool) {
	if key == nil {
		return nil, false
	}
	c.pinnedMu.RLock()
	resp, ok := c.pinned[key.String()]
	c.pinnedMu.RUnlock()
	if ok {
		return resp, true
	}
	return c.stripeFor(key).get(key.String())
}

// Put stores resp under key, in the pinned tier when the key is pinned.
// A nil key is ignored.
func (c *QueryResultCache) Put(key *search.QueryCacheKey, resp *search.ShardQueryResponse) {
	if key == nil || resp == nil {
		return
	}
	if key.Pinned() {
		c.pinnedMu.Lock()
		c.pinned[key.String()] = resp
		c.pinnedMu.Unlock()
		return
	}
	c.stripeFor(key).put(key.String(), resp)
}

// InvalidateAll clears both tiers.
func (c *QueryResultCache) InvalidateAll() {
	c.pinnedMu.Lock()
	c.pinned = make(map[string]*search.ShardQueryResponse)
	c.pinnedMu.Unlock()
	for _, s := range c.stripes {
		s.clear()
	}
}

// Len is the number of entries across both tiers.
func (c *QueryResultCache) Len() int {
	st := c.Stats()
	return st.Entries + st.Pinned
}

// Stats sums the stripe counters.
func (c *QueryResultCache) Stats() Stats {
	var st Stats
	c.pinnedMu.RLock()
	st.Pinned = len(c.pinned)
	c.pinnedMu.RUnlock()
	for _, s := range c.stripes {
		s.mu.Lock()
		st.Entries += s.ll.Len()
		st.Hits += s.hits
		st.Misses += s.misses
		st.Evictions += s.evictions
		s.mu.Unlock()
	}
	return st
}

type entry struct {
	resp   *search.ShardQueryResponse
	key    string
	weight int
}

type stripe struct {
	weigher Weigher
	ll      *list.List
	items   map[string]*list.Element

	capacity  int
	maxWeight int
	weight    int

	hits      int64
	misses    int64
	evictions int64

	mu sync.Mutex
}

func (s *stripe) get(key string) (*search.ShardQueryResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	s.ll.MoveToFront(el)
	return el.Value.(*entry).resp, true
}

func (s *stripe) put(key string, resp *search.ShardQueryResponse) {
	if s.capacity <= 0 {
		return
	}
	w := 0
	if s.weigher != nil {
		w = s.weigher(resp)
		if s.maxWeight > 0 && w > s.maxWeight {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		s.weight += w - e.weight
		e.resp, e.weight = resp, w
		s.ll.MoveToFront(el)
	} else {
		s.items[key] = s.ll.PushFront(&entry{key: key, resp: resp, weight: w})
		s.weight += w
	}

	for s.ll.Len() > s.capacity || (s.maxWeight > 0 && s.weight > s.maxWeight) {
		s.evictOldest()
	}
}

func (s *stripe) evictOldest() {
	el := s.ll.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	s.ll.Remove(el)
	delete(s.items, e.key)
	s.weight -= e.weight
	s.evictions++
}

func (s *stripe) clear() {
	s.mu.Lock()
	s.ll.Init()
	s.items = make(map[string]*list.Element)
	s.weight = 0
	s.mu.Unlock()
}

// ResultWeight weighs a response by the number of results it holds, plus
// one for the response itself.
func ResultWeight(resp *search.ShardQueryResponse) int {
	return len(resp.Results) + 1
}
