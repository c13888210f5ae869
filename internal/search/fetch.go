package search

import "github.com/dreamware/shardsearch/internal/coordinator"

// FetchRequest fetches one document by unique id.
type FetchRequest struct {
	Index                string                        `json:"index"`
	UniqueID             string                        `json:"uniqueId"`
	ResultFetchType      FetchType                     `json:"resultFetchType,omitempty"`
	AssociatedFetchType  FetchType                     `json:"associatedFetchType,omitempty"`
	Filename             string                        `json:"filename,omitempty"`
	DocumentFields       []string                      `json:"documentFields,omitempty"`
	DocumentMaskedFields []string                      `json:"documentMaskedFields,omitempty"`
	Preference           coordinator.ReplicaPreference `json:"preference,omitempty"`
	Realtime             bool                          `json:"realtime,omitempty"`
}

// GroupFetchRequest fetches many ids sharing the same fetch parameters.
// The template's UniqueID is ignored.
type GroupFetchRequest struct {
	Template  FetchRequest `json:"template"`
	UniqueIDs []string     `json:"uniqueIds"`
}

// BatchFetchRequest mixes single and grouped fetches across indexes.
type BatchFetchRequest struct {
	Fetches []FetchRequest      `json:"fetches,omitempty"`
	Groups  []GroupFetchRequest `json:"groups,omitempty"`
}

// FetchResponse is the result of fetching one id.
type FetchResponse struct {
	Document map[string]any `json:"document,omitempty"`
	Index    string         `json:"index"`
	UniqueID string         `json:"uniqueId"`
	Shard    int            `json:"shard"`
	Found    bool           `json:"found"`
}

// ShardFetchBatch is a set of ids on one shard fetched with identical
// parameters.
type ShardFetchBatch struct {
	Index                string    `json:"index"`
	ResultFetchType      FetchType `json:"resultFetchType,omitempty"`
	AssociatedFetchType  FetchType `json:"associatedFetchType,omitempty"`
	Filename             string    `json:"filename,omitempty"`
	DocumentFields       []string  `json:"documentFields,omitempty"`
	DocumentMaskedFields []string  `json:"documentMaskedFields,omitempty"`
	UniqueIDs            []string  `json:"uniqueIds"`
	Shard                int       `json:"shard"`
	Realtime             bool      `json:"realtime,omitempty"`
}

// InternalBatchFetchRequest is the per-node unit of batch fetch
// federation.
type InternalBatchFetchRequest struct {
	Batches []ShardFetchBatch `json:"batches"`
}

// InternalBatchFetchResponse concatenates every batch's responses.
type InternalBatchFetchResponse struct {
	Responses []FetchResponse `json:"responses"`
}

// StoreRequest writes one document to one shard. The node applies it to
// its local copy of the shard.
type StoreRequest struct {
	Document map[string]any `json:"document"`
	Index    string         `json:"index"`
	UniqueID string         `json:"uniqueId"`
	Shard    int            `json:"shard"`
}

// DeleteRequest removes one document from one shard.
type DeleteRequest struct {
	Index    string `json:"index"`
	UniqueID string `json:"uniqueId"`
	Shard    int    `json:"shard"`
}

// ExportRequest asks a node for every document of one of its shards.
type ExportRequest struct {
	Index string `json:"index"`
	Shard int    `json:"shard"`
}

// ExportResponse carries a shard's documents keyed by unique id.
type ExportResponse struct {
	Documents map[string]map[string]any `json:"documents"`
}

// WriteResponse acknowledges a store or delete.
type WriteResponse struct {
	Node string `json:"node"`
}
