package shard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/shardsearch/internal/cache"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/storage"
)

// ErrShardClosed is returned by operations on a closed shard.
var ErrShardClosed = errors.New("shard closed")

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard is serving requests
	ShardStateActive ShardState = "active"
	// ShardStateClosed means the shard released its index
	ShardStateClosed ShardState = "closed"
)

// Shard is one partition of one index held by this node: a full-text
// index, the stored documents and a result cache.
type Shard struct {
	index    bleve.Index
	docs     *storage.Documents
	cache    *cache.QueryResultCache
	logger   *slog.Logger
	flight   singleflight.Group
	settings coordinator.IndexSettings

	// generation counts cache invalidations. cacheMu pairs the bump with
	// the flush so a result computed in an older generation is never put.
	generation atomic.Uint64
	cacheMu    sync.Mutex

	// writeMu serializes writes with Backfill. tombstones is non-nil while
	// the copy is recovering and records ids deleted meanwhile.
	writeMu    sync.Mutex
	tombstones map[string]struct{}

	Index   string
	state   ShardState
	stats   opStats
	ID      int
	Primary bool

	mu sync.RWMutex
}

type opStats struct {
	queries     atomic.Uint64
	cacheHits   atomic.Uint64
	fetches     atomic.Uint64
	stores      atomic.Uint64
	deletes     atomic.Uint64
	collapsed   atomic.Uint64
	invalidated atomic.Uint64
}

// Stats is a snapshot of a shard's counters.
type Stats struct {
	Cache       cache.Stats        `json:"cache"`
	Storage     storage.StoreStats `json:"storage"`
	Queries     uint64             `json:"queries"`
	CacheHits   uint64             `json:"cacheHits"`
	Collapsed   uint64             `json:"collapsed"`
	Fetches     uint64             `json:"fetches"`
	Stores      uint64             `json:"stores"`
	Deletes     uint64             `json:"deletes"`
	Invalidated uint64             `json:"invalidated"`
}

// Info contains metadata about a shard
type Info struct {
	Index      string     `json:"index"`
	State      ShardState `json:"state"`
	ID         int        `json:"id"`
	Documents  int        `json:"documents"`
	Primary    bool       `json:"primary"`
	Recovering bool       `json:"recovering,omitempty"`
}

// Options configures a new shard.
type Options struct {
	Logger   *slog.Logger
	Store    storage.Store
	Settings coordinator.IndexSettings
	Primary  bool
}

// New opens an in-memory shard of index. Documents are kept in
// opts.Store, or in a private MemoryStore when nil.
func New(index string, id int, opts Options) (*Shard, error) {
	settings := opts.Settings.WithDefaults()
	idx, err := bleve.NewMemOnly(buildMapping(settings))
	if err != nil {
		return nil, fmt.Errorf("open index %s shard %d: %w", index, id, err)
	}
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Shard{
		Index:    index,
		ID:       id,
		Primary:  opts.Primary,
		settings: settings,
		index:    idx,
		docs:     storage.NewDocuments(store, fmt.Sprintf("doc/%s/%d/", index, id)),
		cache:    cache.New(cache.Options{Size: settings.ShardQueryCacheSize}),
		logger:   logger.With("index", index, "shard", id),
		state:    ShardStateActive,
	}, nil
}

// Settings returns the index settings the shard was opened with.
func (s *Shard) Settings() coordinator.IndexSettings {
	return s.settings
}

// OwnsID reports whether uniqueID routes to this shard.
func (s *Shard) OwnsID(uniqueID string, numberOfShards int) bool {
	return numberOfShards > 0 && coordinator.ShardFor(uniqueID, numberOfShards) == s.ID
}

func (s *Shard) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == ShardStateClosed {
		return fmt.Errorf("%w: %s/%d", ErrShardClosed, s.Index, s.ID)
	}
	return nil
}

// Store indexes doc under uniqueID, replacing any previous version, and
// drops every cached result.
func (s *Shard) Store(uniqueID string, doc map[string]any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if uniqueID == "" {
		return errors.New("document unique id must not be empty")
	}
	s.stats.stores.Add(1)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.docs.Put(uniqueID, doc); err != nil {
		return err
	}
	if err := s.index.Index(uniqueID, doc); err != nil {
		return fmt.Errorf("index document %s: %w", uniqueID, err)
	}
	s.invalidate()
	return nil
}

// Delete removes uniqueID. Deleting an unknown id is not an error.
func (s *Shard) Delete(uniqueID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stats.deletes.Add(1)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.tombstones != nil {
		s.tombstones[uniqueID] = struct{}{}
	}
	existed, err := s.docs.Delete(uniqueID)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := s.index.Delete(uniqueID); err != nil {
		return fmt.Errorf("delete document %s: %w", uniqueID, err)
	}
	s.invalidate()
	return nil
}

func (s *Shard) invalidate() {
	s.stats.invalidated.Add(1)
	s.flushCache()
}

func (s *Shard) flushCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generation.Add(1)
	s.cache.InvalidateAll()
}

// putIfCurrent caches resp unless the cache was invalidated since gen.
func (s *Shard) putIfCurrent(key *search.QueryCacheKey, gen uint64, resp *search.ShardQueryResponse) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation.Load() != gen {
		return false
	}
	s.cache.Put(key, resp)
	return true
}

// DocumentCount is the number of stored documents.
func (s *Shard) DocumentCount() int {
	return s.docs.Count()
}

// Close releases the full-text index.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ShardStateClosed {
		return nil
	}
	s.state = ShardStateClosed
	s.flushCache()
	return s.index.Close()
}

// Stats returns current shard statistics
func (s *Shard) Stats() Stats {
	return Stats{
		Queries:     s.stats.queries.Load(),
		CacheHits:   s.stats.cacheHits.Load(),
		Collapsed:   s.stats.collapsed.Load(),
		Fetches:     s.stats.fetches.Load(),
		Stores:      s.stats.stores.Load(),
		Deletes:     s.stats.deletes.Load(),
		Invalidated: s.stats.invalidated.Load(),
		Cache:       s.cache.Stats(),
		Storage:     storage.StoreStats{Keys: s.docs.Count()},
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() Info {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	return Info{
		Index:      s.Index,
		ID:         s.ID,
		Primary:    s.Primary,
		State:      state,
		Documents:  s.docs.Count(),
		Recovering: s.Recovering(),
	}
}
