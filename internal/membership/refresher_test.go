package membership

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/logging"
	"github.com/dreamware/shardsearch/internal/storage"
)

type failingSource struct{}

func (failingSource) Load(context.Context) (State, error) {
	return State{}, errors.New("unavailable")
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(storage.NewMemoryStore())
	self := testNode(9001)
	require.NoError(t, store.PutNode(ctx, self))
	require.NoError(t, store.PutIndex(ctx, testIndex("docs", self)))
	require.NoError(t, store.PutAlias(ctx, "all", "docs"))

	holder := coordinator.NewSnapshotHolder(nil)
	var swaps atomic.Int32
	r := NewRefresher(store, holder, RefresherOptions{
		Self:   self,
		Logger: logging.Discard(),
		OnSwap: func(*coordinator.RoutingSnapshot) { swaps.Add(1) },
	})

	snap, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, holder.Load())
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.IsLocal(self))
	m, err := snap.Index("all")
	require.NoError(t, err)
	assert.Equal(t, "docs", m.Name)
	assert.Equal(t, int32(1), swaps.Load())

	snap, err = r.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
}

func TestRefreshDropsStaleNodes(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(storage.NewMemoryStore())
	fresh := testNode(9001)
	stale := testNode(9002)
	stale.Heartbeat = time.Now().Add(-time.Minute)
	require.NoError(t, store.PutNode(ctx, fresh))
	require.NoError(t, store.PutNode(ctx, stale))

	holder := coordinator.NewSnapshotHolder(nil)
	r := NewRefresher(store, holder, RefresherOptions{NodeTTL: 10 * time.Second, Logger: logging.Discard()})
	snap, err := r.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.True(t, snap.Nodes[0].Same(fresh))
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	initial := coordinator.NewRoutingSnapshot(testNode(1), nil, nil, nil)
	holder := coordinator.NewSnapshotHolder(initial)
	r := NewRefresher(failingSource{}, holder, RefresherOptions{Logger: logging.Discard()})

	_, err := r.Refresh(context.Background())
	assert.Error(t, err)
	assert.Same(t, initial, holder.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	store := NewKVStore(storage.NewMemoryStore())
	holder := coordinator.NewSnapshotHolder(nil)
	r := NewRefresher(store, holder, RefresherOptions{Interval: 10 * time.Millisecond, Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return holder.Load().Version >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRemoteSource(t *testing.T) {
	self := testNode(9001)
	want := State{
		Nodes:   []cluster.Node{self},
		Indexes: []coordinator.IndexMapping{testIndex("docs", self)},
		Aliases: map[string]string{"all": "docs"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/membership", r.URL.Path)
		cluster.WriteJSON(w, http.StatusOK, want)
	}))
	defer srv.Close()

	st, err := NewRemoteSource(srv.URL + "/").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "docs", st.Indexes[0].Name)
	assert.Equal(t, want.Aliases, st.Aliases)
	require.Len(t, st.Nodes, 1)
	assert.True(t, st.Nodes[0].Same(self))
}
