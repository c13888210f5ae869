package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/membership"
	"github.com/dreamware/shardsearch/internal/node"
)

// server owns shard placement and publishes it, with node membership,
// into a membership.Store.
type server struct {
	store    membership.Store
	registry *coordinator.ShardRegistry
	logger   *slog.Logger
	now      func() time.Time
	nodeTTL  time.Duration
	// mu serializes placement changes so the registry and the store move
	// together.
	mu sync.Mutex
}

func newServer(store membership.Store, nodeTTL time.Duration, logger *slog.Logger) *server {
	return &server{
		store:    store,
		registry: coordinator.NewShardRegistry(),
		logger:   logger,
		now:      time.Now,
		nodeTTL:  nodeTTL,
	}
}

// restore reloads placement persisted by a previous coordinator.
func (s *server) restore(ctx context.Context) error {
	st, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, m := range st.Indexes {
		if err := s.registry.Restore(m); err != nil {
			return fmt.Errorf("restore index %s: %w", m.Name, err)
		}
	}
	for alias, index := range st.Aliases {
		if err := s.registry.SetAlias(alias, index); err != nil {
			s.logger.Warn("dropping alias", "alias", alias, "index", index, "error", err)
		}
	}
	s.logger.Info("placement restored", "indexes", len(st.Indexes), "aliases", len(st.Aliases))
	return nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(node.RequestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/register", s.handleRegister)
	r.Post("/recovered", s.handleRecovered)
	r.Get("/nodes", s.handleListNodes)
	r.Get("/membership", s.handleMembership)
	r.Get("/indexes", s.handleListIndexes)
	r.Post("/indexes", s.handleCreateIndex)
	r.Delete("/indexes/{name}", s.handleDeleteIndex)
	r.Post("/aliases", s.handleSetAlias)
	r.Delete("/aliases/{alias}", s.handleDeleteAlias)
	return r
}

// liveNodes is every registered node whose heartbeat is within the TTL.
func (s *server) liveNodes(ctx context.Context) ([]cluster.Node, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := st.Nodes[:0]
	for _, n := range st.Nodes {
		if n.Alive(now, s.nodeTTL) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	n := req.Node
	if n.Address == "" || n.ServicePort <= 0 {
		cluster.WriteError(w, http.StatusBadRequest, errors.New("node address and service port are required"))
		return
	}
	// heartbeats are judged against the coordinator's clock
	n.Heartbeat = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	before, err := s.liveNodes(r.Context())
	if err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := s.store.PutNode(r.Context(), n); err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	known := false
	for _, b := range before {
		known = known || b.Same(n)
	}
	if !known {
		s.logger.Info("node joined", "node", n.Key(), "version", n.Version)
		if err := s.rebalance(r.Context(), append(before, n)); err != nil {
			s.logger.Error("rebalance failed", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecovered promotes a backfilled copy to a replica that serves
// reads.
func (s *server) handleRecovered(w http.ResponseWriter, r *http.Request) {
	var req cluster.RecoveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, changed, err := s.registry.MarkRecovered(req.Index, req.Shard, req.Node)
	switch {
	case errors.Is(err, coordinator.ErrIndexNotFound):
		cluster.WriteError(w, http.StatusNotFound, err)
		return
	case err != nil:
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if changed {
		if err := s.store.PutIndex(r.Context(), m); err != nil {
			cluster.WriteError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.logger.Info("copy recovered", "index", req.Index, "shard", req.Shard, "node", req.Node.Key())
	}
	w.WriteHeader(http.StatusNoContent)
}

// rebalance repairs placement over nodes and persists changed indexes.
// The caller holds s.mu.
func (s *server) rebalance(ctx context.Context, nodes []cluster.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	changed, err := s.registry.RebalanceShards(nodes)
	if err != nil {
		return err
	}
	for _, name := range changed {
		m, ok := s.registry.GetIndex(name)
		if !ok {
			continue
		}
		if err := s.store.PutIndex(ctx, m); err != nil {
			return err
		}
		s.logger.Info("placement changed", "index", name)
	}
	return nil
}

// nodeUnhealthy drops a node that failed its health checks and moves its
// shards to the survivors.
func (s *server) nodeUnhealthy(n cluster.Node) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.RemoveNode(ctx, n); err != nil {
		s.logger.Error("remove node failed", "node", n.Key(), "error", err)
		return
	}
	s.logger.Warn("node removed", "node", n.Key())
	nodes, err := s.liveNodes(ctx)
	if err != nil {
		s.logger.Error("load nodes failed", "error", err)
		return
	}
	if err := s.rebalance(ctx, nodes); err != nil {
		s.logger.Error("rebalance failed", "error", err)
	}
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.liveNodes(r.Context())
	if err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, struct {
		Nodes []cluster.Node `json:"nodes"`
	}{Nodes: nodes})
}

func (s *server) handleMembership(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Load(r.Context())
	if err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, st)
}

func (s *server) handleListIndexes(w http.ResponseWriter, _ *http.Request) {
	cluster.WriteJSON(w, http.StatusOK, struct {
		Indexes []coordinator.IndexMapping `json:"indexes"`
		Aliases map[string]string          `json:"aliases"`
	}{Indexes: s.registry.Indexes(), Aliases: s.registry.Aliases()})
}

// createIndexRequest is the body of POST /indexes.
type createIndexRequest struct {
	Name           string                    `json:"name"`
	Settings       coordinator.IndexSettings `json:"settings"`
	NumberOfShards int                       `json:"numberOfShards"`
	Replicas       int                       `json:"replicas"`
}

func (s *server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, err := s.liveNodes(r.Context())
	if err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	m, err := s.registry.CreateIndex(req.Name, req.NumberOfShards, req.Replicas, req.Settings, nodes)
	switch {
	case errors.Is(err, coordinator.ErrShardCountImmutable):
		cluster.WriteError(w, http.StatusConflict, err)
		return
	case err != nil:
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.PutIndex(r.Context(), m); err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Info("index created", "index", m.Name, "shards", m.NumberOfShards, "replicas", req.Replicas)
	cluster.WriteJSON(w, http.StatusCreated, m)
}

func (s *server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	defer s.mu.Unlock()

	aliases := s.registry.Aliases()
	if err := s.registry.DeleteIndex(name); err != nil {
		cluster.WriteError(w, http.StatusNotFound, err)
		return
	}
	if err := s.store.DeleteIndex(r.Context(), name); err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	for alias, target := range aliases {
		if target != name {
			continue
		}
		if err := s.store.DeleteAlias(r.Context(), alias); err != nil {
			cluster.WriteError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type aliasRequest struct {
	Alias string `json:"alias"`
	Index string `json:"index"`
}

func (s *server) handleSetAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.Alias == "" {
		cluster.WriteError(w, http.StatusBadRequest, errors.New("alias is required"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.SetAlias(req.Alias, req.Index); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, coordinator.ErrIndexNotFound) {
			status = http.StatusNotFound
		}
		cluster.WriteError(w, status, err)
		return
	}
	if err := s.store.PutAlias(r.Context(), req.Alias, req.Index); err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.RemoveAlias(alias)
	if err := s.store.DeleteAlias(r.Context(), alias); err != nil {
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
