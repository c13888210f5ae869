package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// ErrShardCountImmutable is returned when an index is re-created with a
// different shard count. Changing the count would remap every existing id.
var ErrShardCountImmutable = errors.New("shard count cannot change after index creation")

// ShardAssignment is one (index, shard, node) placement as seen from a
// node's point of view.
type ShardAssignment struct {
	Index     string `json:"index"`
	NodeKey   string `json:"nodeKey"`
	ShardID   int    `json:"shard"`
	IsPrimary bool   `json:"primary"`
}

// ShardRegistry is the coordinator's authoritative placement of every
// index's shards onto cluster nodes. Nodes receive the resulting
// IndexMappings through membership and route queries with them.
//
// Placement:
//
//	shard s of an index with R replicas over nodes N0..Nk-1
//	  primary  = N[s mod k]
//	  replicas = N[(s+1) mod k] .. N[(s+R) mod k]   (at most k-1 of them)
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned mappings are deep copies
type ShardRegistry struct {
	indexes  map[string]IndexMapping
	replicas map[string]int
	aliases  map[string]string
	mu       sync.RWMutex
}

// NewShardRegistry creates an empty registry.
func NewShardRegistry() *ShardRegistry {
	return &ShardRegistry{
		indexes:  make(map[string]IndexMapping),
		replicas: make(map[string]int),
		aliases:  make(map[string]string),
	}
}

// CreateIndex places a new index over nodes. Re-creating an existing index
// with the same shard count only updates its settings; a different shard
// count fails with ErrShardCountImmutable.
func (r *ShardRegistry) CreateIndex(name string, numShards, replicas int, settings IndexSettings, nodes []cluster.Node) (IndexMapping, error) {
	if name == "" {
		return IndexMapping{}, errors.New("index name cannot be empty")
	}
	if numShards <= 0 {
		return IndexMapping{}, fmt.Errorf("invalid shard count %d, must be > 0", numShards)
	}
	if replicas < 0 {
		return IndexMapping{}, fmt.Errorf("invalid replica count %d", replicas)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, isAlias := r.aliases[name]; isAlias {
		return IndexMapping{}, fmt.Errorf("%s is already an alias", name)
	}

	if existing, ok := r.indexes[name]; ok {
		if existing.NumberOfShards != numShards {
			return IndexMapping{}, fmt.Errorf("index %s has %d shards: %w", name, existing.NumberOfShards, ErrShardCountImmutable)
		}
		existing.Settings = settings.WithDefaults()
		r.indexes[name] = existing
		return existing.Clone(), nil
	}

	if len(nodes) == 0 {
		return IndexMapping{}, errors.New("cannot place index with no nodes")
	}

	m := IndexMapping{
		Name:           name,
		NumberOfShards: numShards,
		Settings:       settings.WithDefaults(),
		Shards:         place(numShards, replicas, nodes),
	}
	r.indexes[name] = m
	r.replicas[name] = replicas
	return m.Clone(), nil
}

// Restore loads a mapping persisted by an earlier coordinator. The
// replica target is taken from the widest shard.
func (r *ShardRegistry) Restore(m IndexMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	replicas := 0
	for _, sm := range m.Shards {
		replicas = max(replicas, len(sm.Replicas)+len(sm.Recovering))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[m.Name] = m.Clone()
	r.replicas[m.Name] = replicas
	return nil
}

// DeleteIndex removes an index and any alias pointing at it.
func (r *ShardRegistry) DeleteIndex(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	delete(r.indexes, name)
	delete(r.replicas, name)
	for alias, target := range r.aliases {
		if target == name {
			delete(r.aliases, alias)
		}
	}
	return nil
}

// GetIndex returns a copy of the named index mapping.
func (r *ShardRegistry) GetIndex(name string) (IndexMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.indexes[name]
	if !ok {
		return IndexMapping{}, false
	}
	return m.Clone(), true
}

// Indexes returns copies of every mapping ordered by name.
func (r *ShardRegistry) Indexes() []IndexMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]IndexMapping, 0, len(r.indexes))
	for _, m := range r.indexes {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetAlias points alias at an existing index.
func (r *ShardRegistry) SetAlias(alias, index string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[index]; !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	if _, clash := r.indexes[alias]; clash {
		return fmt.Errorf("alias %s collides with an index name", alias)
	}
	r.aliases[alias] = index
	return nil
}

// RemoveAlias deletes an alias. Removing an unknown alias is not an error.
func (r *ShardRegistry) RemoveAlias(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, alias)
}

// Aliases returns a copy of the alias table.
func (r *ShardRegistry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// GetNodeShards lists every shard the node holds, primaries and replicas.
func (r *ShardRegistry) GetNodeShards(nodeKey string) []ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ShardAssignment
	for _, m := range r.indexes {
		for _, sm := range m.Shards {
			if sm.Primary.Key() == nodeKey {
				out = append(out, ShardAssignment{Index: m.Name, ShardID: sm.Shard, NodeKey: nodeKey, IsPrimary: true})
				continue
			}
			isKey := func(n cluster.Node) bool { return n.Key() == nodeKey }
			if slices.ContainsFunc(sm.Replicas, isKey) || slices.ContainsFunc(sm.Recovering, isKey) {
				out = append(out, ShardAssignment{Index: m.Name, ShardID: sm.Shard, NodeKey: nodeKey})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ShardID < out[j].ShardID
	})
	return out
}

// MarkRecovered promotes node's recovering copy of a shard to a replica,
// making it eligible for reads. Marking a copy that is already a replica
// or the primary is a no-op.
func (r *ShardRegistry) MarkRecovered(index string, shard int, node cluster.Node) (IndexMapping, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.indexes[index]
	if !ok {
		return IndexMapping{}, false, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	i := slices.IndexFunc(m.Shards, func(sm ShardMapping) bool { return sm.Shard == shard })
	if i < 0 {
		return IndexMapping{}, false, fmt.Errorf("index %s has no shard %d", index, shard)
	}
	sm := m.Shards[i]
	if !sm.Holds(node) {
		return IndexMapping{}, false, fmt.Errorf("%s does not hold %s/%d", node.Key(), index, shard)
	}
	if !sm.IsRecovering(node) {
		return m.Clone(), false, nil
	}
	sm.Recovering = slices.DeleteFunc(slices.Clone(sm.Recovering), node.Same)
	sm.Replicas = append(slices.Clone(sm.Replicas), node)
	m.Shards[i] = sm
	r.indexes[index] = m
	return m.Clone(), true, nil
}

// RebalanceShards repairs placement after membership changed. Holders not in
// nodes are dropped; a shard that lost its primary promotes its first
// surviving replica, or moves to a round-robin node when none survive. Each
// shard's replica set is then topped back up from nodes not already holding
// it. Copies added this way start empty, so they join as Recovering and
// only serve reads after MarkRecovered. Shard counts never change.
//
// Returns the names of indexes whose placement changed.
func (r *ShardRegistry) RebalanceShards(nodes []cluster.Node) ([]string, error) {
	if len(nodes) == 0 {
		return nil, errors.New("cannot rebalance with no nodes")
	}
	live := make(map[string]cluster.Node, len(nodes))
	for _, n := range nodes {
		live[n.Key()] = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for name, m := range r.indexes {
		want := r.replicas[name]
		dirty := false
		for i, sm := range m.Shards {
			next := repair(sm, want, nodes, live)
			if !sameHolders(sm, next) {
				dirty = true
			}
			m.Shards[i] = next
		}
		if dirty {
			r.indexes[name] = m
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func place(numShards, replicas int, nodes []cluster.Node) []ShardMapping {
	k := len(nodes)
	if replicas > k-1 {
		replicas = k - 1
	}
	out := make([]ShardMapping, numShards)
	for s := 0; s < numShards; s++ {
		sm := ShardMapping{Shard: s, Primary: nodes[s%k]}
		for j := 1; j <= replicas; j++ {
			sm.Replicas = append(sm.Replicas, nodes[(s+j)%k])
		}
		out[s] = sm
	}
	return out
}

func repair(sm ShardMapping, replicas int, nodes []cluster.Node, live map[string]cluster.Node) ShardMapping {
	survivors := liveOf(sm.Replicas, live)
	recovering := liveOf(sm.Recovering, live)

	next := ShardMapping{Shard: sm.Shard}
	switch p, ok := live[sm.Primary.Key()]; {
	case ok:
		next.Primary = p
	case len(survivors) > 0:
		next.Primary = survivors[0]
		survivors = survivors[1:]
	case len(recovering) > 0:
		// a partial copy beats an empty one
		next.Primary = recovering[0]
		recovering = recovering[1:]
	default:
		next.Primary = nodes[sm.Shard%len(nodes)]
	}
	next.Replicas = survivors
	next.Recovering = recovering

	if replicas > len(nodes)-1 {
		replicas = len(nodes) - 1
	}
	for j := 1; len(next.Replicas)+len(next.Recovering) < replicas && j <= len(nodes); j++ {
		cand := nodes[(sm.Shard+j)%len(nodes)]
		if next.Holds(cand) {
			continue
		}
		next.Recovering = append(next.Recovering, cand)
	}
	return next
}

func liveOf(holders []cluster.Node, live map[string]cluster.Node) []cluster.Node {
	var out []cluster.Node
	for _, n := range holders {
		if ln, ok := live[n.Key()]; ok {
			out = append(out, ln)
		}
	}
	return out
}

func sameHolders(a, b ShardMapping) bool {
	return a.Primary.Same(b.Primary) &&
		sameNodes(a.Replicas, b.Replicas) &&
		sameNodes(a.Recovering, b.Recovering)
}

func sameNodes(a, b []cluster.Node) bool {
	return slices.EqualFunc(a, b, cluster.Node.Same)
}
