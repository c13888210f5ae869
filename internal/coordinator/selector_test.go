package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
)

func TestReplicaSelectorPreferences(t *testing.T) {
	primary, r1, r2 := testNode(1), testNode(2), testNode(3)
	m := IndexMapping{Name: "docs", NumberOfShards: 1, Shards: []ShardMapping{
		{Shard: 0, Primary: primary, Replicas: []cluster.Node{r1, r2}},
	}}

	tests := []struct {
		name      string
		pref      ReplicaPreference
		reachable []cluster.Node
		want      cluster.Node
		wantErr   bool
	}{
		{"primary only up", PrimaryOnly, []cluster.Node{primary, r1}, primary, false},
		{"primary only down", PrimaryOnly, []cluster.Node{r1, r2}, cluster.Node{}, true},
		{"primary preferred up", PrimaryPreferred, []cluster.Node{r1, primary}, primary, false},
		{"primary preferred falls back in replica order", PrimaryPreferred, []cluster.Node{r2, r1}, r1, false},
		{"primary preferred skips down replica", PrimaryPreferred, []cluster.Node{r2}, r2, false},
		{"primary preferred nothing", PrimaryPreferred, nil, cluster.Node{}, true},
		{"replica preferred", ReplicaPreferred, []cluster.Node{primary, r1, r2}, r1, false},
		{"replica preferred falls back to primary", ReplicaPreferred, []cluster.Node{primary}, primary, false},
		{"replica only", ReplicaOnly, []cluster.Node{primary, r2}, r2, false},
		{"replica only none", ReplicaOnly, []cluster.Node{primary}, cluster.Node{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := NewReplicaSelector(tt.pref, m, tt.reachable)
			got, err := sel.NodeForShard(0)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrShardUnavailable))
				var sue *ShardUnavailableError
				require.True(t, errors.As(err, &sue))
				assert.Equal(t, "docs", sue.Index)
				assert.Equal(t, 0, sue.Shard)
				assert.Equal(t, tt.pref, sue.Preference)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Same(tt.want), "got %s want %s", got.Key(), tt.want.Key())
			assert.True(t, m.Shards[0].Holds(got))
		})
	}
}

// TestReplicaSelectorNeverArbitrary checks every policy and reachability
// subset yields a holder of the shard or an error.
func TestReplicaSelectorNeverArbitrary(t *testing.T) {
	all := []cluster.Node{testNode(1), testNode(2), testNode(3), testNode(4)}
	m := IndexMapping{Name: "i", NumberOfShards: 1, Shards: []ShardMapping{
		{Shard: 0, Primary: all[0], Replicas: []cluster.Node{all[1], all[2]}},
	}}
	for mask := 0; mask < 1<<len(all); mask++ {
		var reachable []cluster.Node
		for i, n := range all {
			if mask&(1<<i) != 0 {
				reachable = append(reachable, n)
			}
		}
		for p := PrimaryOnly; p <= ReplicaOnly; p++ {
			got, err := NewReplicaSelector(p, m, reachable).NodeForShard(0)
			if err != nil {
				assert.ErrorIs(t, err, ErrShardUnavailable)
				continue
			}
			assert.True(t, m.Shards[0].Holds(got))
		}
	}
}

func TestReplicaSelectorUnknownShard(t *testing.T) {
	m := mapping("docs", 2, testNode(1))
	_, err := NewReplicaSelector(PrimaryOnly, m, []cluster.Node{testNode(1)}).NodeForShard(7)
	assert.ErrorIs(t, err, ErrShardUnavailable)
}

func TestReplicaSelectorShardsByNode(t *testing.T) {
	n1, n2 := testNode(1), testNode(2)
	m := mapping("docs", 4, n1, n2)
	groups, err := NewReplicaSelector(PrimaryOnly, m, []cluster.Node{n1, n2}).ShardsByNode()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 2}, groups[n1.Key()].Shards)
	assert.Equal(t, []int{1, 3}, groups[n2.Key()].Shards)

	_, err = NewReplicaSelector(PrimaryOnly, m, []cluster.Node{n1}).ShardsByNode()
	assert.ErrorIs(t, err, ErrShardUnavailable)
}

func TestReplicaSelectorNodeForUniqueID(t *testing.T) {
	n1, n2 := testNode(1), testNode(2)
	m := mapping("docs", 2, n1, n2)
	node, shard, err := NewReplicaSelector(PrimaryOnly, m, []cluster.Node{n1, n2}).NodeForUniqueID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, ShardFor("doc-1", 2), shard)
	assert.True(t, node.Same(m.Shards[shard].Primary))
}

func TestParseReplicaPreference(t *testing.T) {
	for p := PrimaryOnly; p <= ReplicaOnly; p++ {
		got, err := ParseReplicaPreference(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseReplicaPreference("")
	require.NoError(t, err)
	assert.Equal(t, PrimaryOnly, got)

	_, err = ParseReplicaPreference("whatever")
	assert.Error(t, err)

	var p ReplicaPreference
	require.NoError(t, p.UnmarshalText([]byte("REPLICA_ONLY")))
	assert.Equal(t, ReplicaOnly, p)
}
