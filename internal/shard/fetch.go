package shard

import (
	"errors"

	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/storage"
)

// Fetch loads a batch of ids. Unknown ids come back with Found unset;
// only storage failures are errors.
func (s *Shard) Fetch(batch search.ShardFetchBatch) ([]search.FetchResponse, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.stats.fetches.Add(1)

	ft := batch.ResultFetchType
	if ft == "" {
		ft = search.FetchFull
	}
	out := make([]search.FetchResponse, 0, len(batch.UniqueIDs))
	for _, id := range batch.UniqueIDs {
		resp := search.FetchResponse{Index: s.Index, Shard: s.ID, UniqueID: id}
		doc, err := s.docs.Get(id)
		switch {
		case errors.Is(err, storage.ErrDocumentNotFound):
		case err != nil:
			return nil, err
		default:
			resp.Found = true
			resp.Document = project(doc, ft, batch.DocumentFields, batch.DocumentMaskedFields)
		}
		out = append(out, resp)
	}
	return out, nil
}
