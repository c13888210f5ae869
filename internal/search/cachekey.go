package search

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// QueryCacheKey identifies a shard-level query result independent of which
// index names, label or pin flag the caller used. Two requests that differ
// only in those produce equal keys.
type QueryCacheKey struct {
	canonical string
	hash      uint64
	pinned    bool
}

type keyMaterial struct {
	Request   *QueryRequest `json:"r"`
	FullFetch bool          `json:"f,omitempty"`
}

// NewQueryCacheKey returns nil when the request opts out of caching.
// fullFetch distinguishes the escalated attempt, whose per-shard amounts
// differ from the bounded one.
func NewQueryCacheKey(req *QueryRequest, fullFetch bool) *QueryCacheKey {
	if req == nil || req.DontCache {
		return nil
	}
	normalized := *req
	normalized.Indexes = nil
	normalized.PinToCache = false
	normalized.Label = ""

	// encoding/json emits struct fields in declaration order and map keys
	// sorted, so equal requests encode identically.
	b, err := json.Marshal(keyMaterial{Request: &normalized, FullFetch: fullFetch})
	if err != nil {
		return nil
	}
	return &QueryCacheKey{
		canonical: string(b),
		hash:      xxhash.Sum64(b),
		pinned:    req.PinToCache,
	}
}

// Hash is the xxhash digest of the canonical form.
func (k *QueryCacheKey) Hash() uint64 { return k.hash }

// Pinned reports whether the originating request asked to pin its result.
// It is not part of the key's identity.
func (k *QueryCacheKey) Pinned() bool { return k.pinned }

// String is the canonical form, used as the map key inside the cache.
func (k *QueryCacheKey) String() string { return k.canonical }

// Equal compares identity, ignoring the pin flag.
func (k *QueryCacheKey) Equal(other *QueryCacheKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.hash == other.hash && k.canonical == other.canonical
}

// ShortString is a compact form for logs.
func (k *QueryCacheKey) ShortString() string {
	if k == nil {
		return "-"
	}
	return strconv.FormatUint(k.hash, 16)
}
