package coordinator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
)

func threeNodes() []cluster.Node {
	return []cluster.Node{testNode(1), testNode(2), testNode(3)}
}

// TestCreateIndex tests placement of primaries and replicas.
func TestCreateIndex(t *testing.T) {
	tests := []struct {
		name         string
		shards       int
		replicas     int
		wantReplicas int
	}{
		{"no replicas", 4, 0, 0},
		{"one replica", 4, 1, 1},
		{"replicas capped by node count", 2, 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewShardRegistry()
			nodes := threeNodes()
			m, err := registry.CreateIndex("docs", tt.shards, tt.replicas, IndexSettings{}, nodes)
			require.NoError(t, err)
			require.NoError(t, m.Validate())

			assert.Equal(t, tt.shards, m.NumberOfShards)
			assert.Equal(t, DefaultRequestFactor, m.Settings.RequestFactor)
			for _, sm := range m.Shards {
				assert.True(t, sm.Primary.Same(nodes[sm.Shard%3]))
				assert.Len(t, sm.Replicas, tt.wantReplicas)
				for _, r := range sm.Replicas {
					assert.False(t, r.Same(sm.Primary), "replica on primary's node")
				}
			}
		})
	}
}

func TestCreateIndexErrors(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()

	_, err := registry.CreateIndex("", 1, 0, IndexSettings{}, nodes)
	assert.Error(t, err)
	_, err = registry.CreateIndex("docs", 0, 0, IndexSettings{}, nodes)
	assert.Error(t, err)
	_, err = registry.CreateIndex("docs", 1, -1, IndexSettings{}, nodes)
	assert.Error(t, err)
	_, err = registry.CreateIndex("docs", 1, 0, IndexSettings{}, nil)
	assert.Error(t, err)
}

// TestShardCountImmutable verifies an index cannot be re-created with a
// different shard count, while settings updates are allowed.
func TestShardCountImmutable(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	_, err := registry.CreateIndex("docs", 4, 0, IndexSettings{}, nodes)
	require.NoError(t, err)

	_, err = registry.CreateIndex("docs", 8, 0, IndexSettings{}, nodes)
	assert.ErrorIs(t, err, ErrShardCountImmutable)

	m, err := registry.CreateIndex("docs", 4, 0, IndexSettings{ShardTolerance: 0.25}, nodes)
	require.NoError(t, err)
	assert.Equal(t, 0.25, m.Settings.ShardTolerance)
}

func TestDeleteIndexAndAliases(t *testing.T) {
	registry := NewShardRegistry()
	_, err := registry.CreateIndex("docs", 1, 0, IndexSettings{}, threeNodes())
	require.NoError(t, err)

	require.NoError(t, registry.SetAlias("current", "docs"))
	assert.Error(t, registry.SetAlias("other", "missing"))
	assert.Error(t, registry.SetAlias("docs", "docs"))
	_, err = registry.CreateIndex("current", 1, 0, IndexSettings{}, threeNodes())
	assert.Error(t, err, "index name clashes with alias")
	assert.Equal(t, map[string]string{"current": "docs"}, registry.Aliases())

	require.NoError(t, registry.DeleteIndex("docs"))
	assert.Empty(t, registry.Aliases())
	_, ok := registry.GetIndex("docs")
	assert.False(t, ok)
	assert.ErrorIs(t, registry.DeleteIndex("docs"), ErrIndexNotFound)
}

func TestGetNodeShards(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	_, err := registry.CreateIndex("docs", 3, 1, IndexSettings{}, nodes)
	require.NoError(t, err)

	got := registry.GetNodeShards(nodes[0].Key())
	require.Len(t, got, 2)
	assert.Equal(t, ShardAssignment{Index: "docs", ShardID: 0, NodeKey: nodes[0].Key(), IsPrimary: true}, got[0])
	assert.Equal(t, ShardAssignment{Index: "docs", ShardID: 2, NodeKey: nodes[0].Key()}, got[1])
}

// TestRebalancing promotes replicas when a node leaves and tops up the
// replica count from survivors.
func TestRebalancing(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	_, err := registry.CreateIndex("docs", 3, 1, IndexSettings{}, nodes)
	require.NoError(t, err)

	_, err = registry.RebalanceShards(nil)
	assert.Error(t, err)

	changed, err := registry.RebalanceShards(nodes)
	require.NoError(t, err)
	assert.Empty(t, changed, "no membership change, no placement change")

	survivors := nodes[1:]
	changed, err = registry.RebalanceShards(survivors)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, changed)

	m, _ := registry.GetIndex("docs")
	require.NoError(t, m.Validate())
	for _, sm := range m.Shards {
		assert.False(t, sm.Holds(nodes[0]), "shard %d still on departed node", sm.Shard)
		assert.Len(t, append(sm.Replicas, sm.Recovering...), 1)
	}
	// shard 0 lived on node 0 with replica on node 1: replica promoted,
	// and the copy topping it back up starts out recovering
	assert.True(t, m.Shards[0].Primary.Same(nodes[1]))
	assert.Empty(t, m.Shards[0].Replicas)
	assert.True(t, m.Shards[0].IsRecovering(nodes[2]))
	// shard 1 lost nothing
	assert.Len(t, m.Shards[1].Replicas, 1)
	assert.Empty(t, m.Shards[1].Recovering)
}

func TestMarkRecovered(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	_, err := registry.CreateIndex("docs", 3, 1, IndexSettings{}, nodes)
	require.NoError(t, err)
	survivors := nodes[1:]
	_, err = registry.RebalanceShards(survivors)
	require.NoError(t, err)

	m, _ := registry.GetIndex("docs")
	sm := m.Shards[0]
	require.True(t, sm.IsRecovering(nodes[2]))
	assert.Len(t, sm.Copies(), 2, "writes reach the recovering copy")

	// reads never go to a recovering copy
	_, err = NewReplicaSelector(ReplicaOnly, m, survivors).NodeForShard(0)
	assert.ErrorIs(t, err, ErrShardUnavailable)
	n, err := NewReplicaSelector(ReplicaPreferred, m, survivors).NodeForShard(0)
	require.NoError(t, err)
	assert.True(t, n.Same(nodes[1]), "falls back to the primary")

	m, changed, err := registry.MarkRecovered("docs", 0, nodes[2])
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, m.Shards[0].Recovering)
	require.Len(t, m.Shards[0].Replicas, 1)
	assert.True(t, m.Shards[0].Replicas[0].Same(nodes[2]))

	n, err = NewReplicaSelector(ReplicaOnly, m, survivors).NodeForShard(0)
	require.NoError(t, err)
	assert.True(t, n.Same(nodes[2]))

	_, changed, err = registry.MarkRecovered("docs", 0, nodes[2])
	require.NoError(t, err)
	assert.False(t, changed, "already a replica")

	_, _, err = registry.MarkRecovered("missing", 0, nodes[2])
	assert.ErrorIs(t, err, ErrIndexNotFound)
	_, _, err = registry.MarkRecovered("docs", 9, nodes[2])
	assert.Error(t, err)
	_, _, err = registry.MarkRecovered("docs", 0, nodes[0])
	assert.Error(t, err, "departed node holds nothing")
}

func TestRecoveringCopyPromotedOverEmptyNode(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	_, err := registry.CreateIndex("docs", 3, 1, IndexSettings{}, nodes)
	require.NoError(t, err)
	_, err = registry.RebalanceShards(nodes[1:])
	require.NoError(t, err)

	// shard 0 is now primary on node 1 with node 2 recovering; losing
	// node 1 leaves the partial copy on node 2 as the best candidate
	_, err = registry.RebalanceShards([]cluster.Node{testNode(4), nodes[2]})
	require.NoError(t, err)
	m, _ := registry.GetIndex("docs")
	sm := m.Shards[0]
	assert.True(t, sm.Primary.Same(nodes[2]))
	assert.False(t, sm.IsRecovering(nodes[2]))
	assert.True(t, sm.IsRecovering(testNode(4)), "new copy joins as recovering")
}

func TestIndexesSorted(t *testing.T) {
	registry := NewShardRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := registry.CreateIndex(name, 1, 0, IndexSettings{}, threeNodes())
		require.NoError(t, err)
	}
	var names []string
	for _, m := range registry.Indexes() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

// TestConcurrentOperations exercises the registry under the race detector.
func TestConcurrentOperations(t *testing.T) {
	registry := NewShardRegistry()
	nodes := threeNodes()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, _ = registry.CreateIndex(fmt.Sprintf("idx-%d", i%5), 2, 1, IndexSettings{}, nodes)
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.Indexes()
			_ = registry.GetNodeShards(nodes[0].Key())
		}()
		go func() {
			defer wg.Done()
			_, _ = registry.RebalanceShards(nodes)
		}()
	}
	wg.Wait()
	assert.Len(t, registry.Indexes(), 5)
}

func TestRestore(t *testing.T) {
	nodes := threeNodes()
	original := NewShardRegistry()
	m, err := original.CreateIndex("docs", 3, 1, IndexSettings{}, nodes)
	require.NoError(t, err)

	restored := NewShardRegistry()
	require.NoError(t, restored.Restore(m))
	got, ok := restored.GetIndex("docs")
	require.True(t, ok)
	assert.Equal(t, m, got)

	// the restored replica target drives repair after a node loss
	changed, err := restored.RebalanceShards(nodes[:2])
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, changed)
	got, _ = restored.GetIndex("docs")
	for _, sm := range got.Shards {
		assert.Len(t, append(sm.Replicas, sm.Recovering...), 1)
	}

	assert.Error(t, restored.Restore(IndexMapping{Name: "bad", NumberOfShards: 1}))
}
