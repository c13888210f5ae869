package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/storage"
)

const (
	nodePrefix  = "node/"
	indexPrefix = "index/"
	aliasPrefix = "alias/"
)

// KVStore keeps membership as JSON values in a storage.Store. With a
// MemoryStore it serves a single coordinator process.
type KVStore struct {
	kv storage.Store
}

// NewKVStore wraps kv.
func NewKVStore(kv storage.Store) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Put(key, b)
}

func (s *KVStore) PutNode(_ context.Context, node cluster.Node) error {
	return s.put(nodePrefix+node.Key(), node)
}

func (s *KVStore) RemoveNode(_ context.Context, node cluster.Node) error {
	_, err := s.kv.Delete(nodePrefix + node.Key())
	return err
}

func (s *KVStore) PutIndex(_ context.Context, m coordinator.IndexMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.put(indexPrefix+m.Name, m)
}

func (s *KVStore) DeleteIndex(_ context.Context, name string) error {
	_, err := s.kv.Delete(indexPrefix + name)
	return err
}

func (s *KVStore) PutAlias(_ context.Context, alias, index string) error {
	return s.kv.Put(aliasPrefix+alias, []byte(index))
}

func (s *KVStore) DeleteAlias(_ context.Context, alias string) error {
	_, err := s.kv.Delete(aliasPrefix + alias)
	return err
}

// Load reads everything. Keys deleted while loading are skipped.
func (s *KVStore) Load(_ context.Context) (State, error) {
	st := State{Aliases: make(map[string]string)}
	for _, key := range s.kv.Keys(nodePrefix) {
		var n cluster.Node
		if ok, err := s.decode(key, &n); err != nil {
			return State{}, err
		} else if ok {
			st.Nodes = append(st.Nodes, n)
		}
	}
	for _, key := range s.kv.Keys(indexPrefix) {
		var m coordinator.IndexMapping
		if ok, err := s.decode(key, &m); err != nil {
			return State{}, err
		} else if ok {
			st.Indexes = append(st.Indexes, m)
		}
	}
	for _, key := range s.kv.Keys(aliasPrefix) {
		b, err := s.kv.Get(key)
		if err != nil {
			continue
		}
		st.Aliases[key[len(aliasPrefix):]] = string(b)
	}
	sort.Slice(st.Nodes, func(i, j int) bool { return st.Nodes[i].Key() < st.Nodes[j].Key() })
	return st, nil
}

func (s *KVStore) decode(key string, v any) (bool, error) {
	b, err := s.kv.Get(key)
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *KVStore) Close() error { return nil }
