package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
)

// DefaultRedisPrefix namespaces the membership hashes.
const DefaultRedisPrefix = "shardsearch"

// RedisStore keeps membership in three Redis hashes so that every node
// and the coordinator share one view without going through the
// coordinator.
//
//	<prefix>:nodes    node key   -> cluster.Node JSON
//	<prefix>:indexes  index name -> coordinator.IndexMapping JSON
//	<prefix>:aliases  alias      -> index name
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient uses an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) hset(ctx context.Context, hash, field string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key(hash), field, b).Err()
}

func (s *RedisStore) PutNode(ctx context.Context, node cluster.Node) error {
	return s.hset(ctx, "nodes", node.Key(), node)
}

func (s *RedisStore) RemoveNode(ctx context.Context, node cluster.Node) error {
	return s.client.HDel(ctx, s.key("nodes"), node.Key()).Err()
}

func (s *RedisStore) PutIndex(ctx context.Context, m coordinator.IndexMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.hset(ctx, "indexes", m.Name, m)
}

func (s *RedisStore) DeleteIndex(ctx context.Context, name string) error {
	return s.client.HDel(ctx, s.key("indexes"), name).Err()
}

func (s *RedisStore) PutAlias(ctx context.Context, alias, index string) error {
	return s.client.HSet(ctx, s.key("aliases"), alias, index).Err()
}

func (s *RedisStore) DeleteAlias(ctx context.Context, alias string) error {
	return s.client.HDel(ctx, s.key("aliases"), alias).Err()
}

// Load reads the three hashes in one MULTI/EXEC so the state is
// consistent.
func (s *RedisStore) Load(ctx context.Context) (State, error) {
	var nodes, indexes, aliases *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		nodes = p.HGetAll(ctx, s.key("nodes"))
		indexes = p.HGetAll(ctx, s.key("indexes"))
		aliases = p.HGetAll(ctx, s.key("aliases"))
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load membership: %w", err)
	}

	st := State{Aliases: aliases.Val()}
	for key, raw := range nodes.Val() {
		var n cluster.Node
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return State{}, fmt.Errorf("decode node %s: %w", key, err)
		}
		st.Nodes = append(st.Nodes, n)
	}
	for name, raw := range indexes.Val() {
		var m coordinator.IndexMapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return State{}, fmt.Errorf("decode index %s: %w", name, err)
		}
		st.Indexes = append(st.Indexes, m)
	}
	sort.Slice(st.Nodes, func(i, j int) bool { return st.Nodes[i].Key() < st.Nodes[j].Key() })
	sort.Slice(st.Indexes, func(i, j int) bool { return st.Indexes[i].Name < st.Indexes[j].Name })
	return st, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
