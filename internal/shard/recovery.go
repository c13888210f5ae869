package shard

import (
	"errors"
	"fmt"

	"github.com/dreamware/shardsearch/internal/storage"
)

// BeginRecovery marks the shard as a copy that is still catching up.
// Deletes applied from now on are remembered so Backfill cannot bring the
// documents back.
func (s *Shard) BeginRecovery() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.tombstones == nil {
		s.tombstones = make(map[string]struct{})
	}
}

// EndRecovery drops the recovery bookkeeping once the copy is complete.
func (s *Shard) EndRecovery() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.tombstones = nil
}

// Recovering reports whether BeginRecovery is in effect.
func (s *Shard) Recovering() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.tombstones != nil
}

// Export returns every stored document keyed by unique id.
func (s *Shard) Export() (map[string]map[string]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids := s.docs.IDs()
	out := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		doc, err := s.docs.Get(id)
		if errors.Is(err, storage.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

// Backfill stores documents copied from another copy of the shard.
// Documents already present, or deleted since recovery began, are left
// alone: local writes are never older than the source's. It returns how
// many documents were added.
func (s *Shard) Backfill(docs map[string]map[string]any) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	added := 0
	for id, doc := range docs {
		if _, deleted := s.tombstones[id]; deleted {
			continue
		}
		_, err := s.docs.Get(id)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrDocumentNotFound) {
			return added, err
		}
		if err := s.docs.Put(id, doc); err != nil {
			return added, err
		}
		if err := s.index.Index(id, doc); err != nil {
			return added, fmt.Errorf("index document %s: %w", id, err)
		}
		added++
	}
	if added > 0 {
		s.invalidate()
	}
	return added, nil
}
