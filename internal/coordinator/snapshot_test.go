package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
)

func TestRoutingSnapshotResolve(t *testing.T) {
	n := testNode(1)
	docs := mapping("docs", 2, n)
	logs := mapping("logs", 1, n)
	snap := NewRoutingSnapshot(n, []cluster.Node{n}, []IndexMapping{docs, logs}, map[string]string{"current": "docs"})

	m, err := snap.Index("current")
	require.NoError(t, err)
	assert.Equal(t, "docs", m.Name)

	_, err = snap.Index("missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	resolved, err := snap.ResolveIndexes([]string{"docs", "current", "logs"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, "docs", resolved[0].Name)
	assert.Equal(t, "logs", resolved[1].Name)

	assert.True(t, snap.IsLocal(n))
	assert.False(t, snap.IsLocal(testNode(2)))
}

func TestRoutingSnapshotIsolatedFromInputs(t *testing.T) {
	n := testNode(1)
	nodes := []cluster.Node{n}
	aliases := map[string]string{"a": "docs"}
	idx := []IndexMapping{mapping("docs", 1, n)}
	snap := NewRoutingSnapshot(n, nodes, idx, aliases)

	nodes[0] = testNode(9)
	aliases["b"] = "docs"
	idx[0].Shards[0].Primary = testNode(9)

	assert.True(t, snap.Nodes[0].Same(n))
	assert.NotContains(t, snap.Aliases, "b")
	assert.True(t, snap.Indexes["docs"].Shards[0].Primary.Same(n))
}

// TestSnapshotHolderSwap checks readers see either the old or new snapshot
// in full, never a mix.
func TestSnapshotHolderSwap(t *testing.T) {
	n1, n2 := testNode(1), testNode(2)
	h := NewSnapshotHolder(NewRoutingSnapshot(n1, []cluster.Node{n1}, []IndexMapping{mapping("docs", 1, n1)}, nil))
	assert.Equal(t, uint64(0), h.Load().Version)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := h.Load()
				m := s.Indexes["docs"]
				assert.True(t, m.Shards[0].Primary.Same(s.Nodes[0]))
			}
		}()
	}
	for i := 0; i < 100; i++ {
		n := n1
		if i%2 == 0 {
			n = n2
		}
		h.Swap(NewRoutingSnapshot(n1, []cluster.Node{n}, []IndexMapping{mapping("docs", 1, n)}, nil))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, uint64(100), h.Load().Version)
}

func TestNewSnapshotHolderNil(t *testing.T) {
	h := NewSnapshotHolder(nil)
	require.NotNil(t, h.Load())
	_, err := h.Load().Index("docs")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}
