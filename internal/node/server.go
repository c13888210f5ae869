package node

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/federation"
	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/shard"
	"github.com/dreamware/shardsearch/internal/storage"
)

// Options configures a node Server.
type Options struct {
	Holder *coordinator.SnapshotHolder
	Logger *slog.Logger
	// Client reaches peers; nil builds one without an overall timeout.
	Client  *Client
	Pool    *federation.Pool
	// ReportRecovered is told when a recovering copy finished its
	// backfill; nil leaves the copy recovering.
	ReportRecovered func(ctx context.Context, index string, shard int) error
	Self            cluster.Node
	Timeout         time.Duration
}

// Server is a search node: its shards plus the federators that answer
// public requests across the cluster.
type Server struct {
	runtime *Runtime
	queries *federation.QueryFederator
	fetches *federation.BatchFetchFederator
	writes  *federation.WriteRouter
	holder  *coordinator.SnapshotHolder
	logger  *slog.Logger
	started time.Time
}

// NewServer wires a runtime and its federators.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := opts.Pool
	if pool == nil {
		pool = federation.NewPool(federation.DefaultLocalConcurrency, federation.DefaultRemoteConcurrency)
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}

	rt := NewRuntime(opts.Self, opts.Holder, logger)
	rt.SetRecovery(Recovery{Export: client.Export, Report: opts.ReportRecovered})
	h := NewHandlers(rt, client)
	return &Server{
		runtime: rt,
		queries: federation.NewQueryFederator(opts.Holder, h.Query, pool, opts.Timeout, logger),
		fetches: federation.NewBatchFetchFederator(opts.Holder, h.Fetch, pool, opts.Timeout, logger),
		writes:  federation.NewWriteRouter(opts.Holder, h.Store, h.Delete, pool, opts.Timeout, logger),
		holder:  opts.Holder,
		logger:  logger,
		started: time.Now(),
	}
}

// Runtime exposes the node's shards.
func (s *Server) Runtime() *Runtime {
	return s.runtime
}

// Queries is the node's query federator.
func (s *Server) Queries() *federation.QueryFederator {
	return s.queries
}

// Router returns the HTTP handler for both the internal and the public
// API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
		r.Post("/query", serveJSON(s.logger, s.runtime.Query))
		r.Post("/batch-fetch", serveJSON(s.logger, s.runtime.BatchFetch))
		r.Post("/store", serveJSON(s.logger, s.runtime.Store))
		r.Post("/delete", serveJSON(s.logger, s.runtime.Delete))
		r.Post("/export", serveJSON(s.logger, s.runtime.Export))
	})

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Get("/info", s.handleInfo)
		r.Post("/query", serveJSON(s.logger, s.queries.Query))
		r.Post("/fetch", serveJSON(s.logger, s.fetch))
		r.Post("/batch-fetch", serveJSON(s.logger, s.batchFetch))
		r.Put("/indexes/{index}/documents/{id}", s.handleStore)
		r.Delete("/indexes/{index}/documents/{id}", s.handleDelete)
	})
	return r
}

func (s *Server) fetch(ctx context.Context, req *search.FetchRequest) (*search.FetchResponse, error) {
	return s.fetches.Fetch(ctx, *req)
}

// BatchFetchResponse wraps the responses of a public batch fetch.
type BatchFetchResponse struct {
	Responses []search.FetchResponse `json:"responses"`
}

func (s *Server) batchFetch(ctx context.Context, req *search.BatchFetchRequest) (*BatchFetchResponse, error) {
	out, err := s.fetches.BatchFetch(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &BatchFetchResponse{Responses: out}, nil
}

// WriteResult lists the nodes that applied a write.
type WriteResult struct {
	Nodes []string `json:"nodes"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	nodes, err := s.writes.Store(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"), doc)
	if err != nil {
		writeFailure(w, s.logger, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, WriteResult{Nodes: nodes})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.writes.Delete(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, s.logger, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, WriteResult{Nodes: nodes})
}

// Info describes a node and the shards it holds.
type Info struct {
	Node            cluster.Node `json:"node"`
	Uptime          string       `json:"uptime"`
	Shards          []ShardInfo  `json:"shards"`
	SnapshotVersion uint64       `json:"snapshotVersion"`
	Nodes           int          `json:"nodes"`
}

// ShardInfo combines a shard's metadata and counters.
type ShardInfo struct {
	shard.Info
	Stats shard.Stats `json:"stats"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	snap := s.holder.Load()
	info := Info{
		Node:            s.runtime.Self(),
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		SnapshotVersion: snap.Version,
		Nodes:           len(snap.Nodes),
	}
	for _, sh := range s.runtime.Shards() {
		info.Shards = append(info.Shards, ShardInfo{Info: sh.Info(), Stats: sh.Stats()})
	}
	cluster.WriteJSON(w, http.StatusOK, info)
}

// serveJSON decodes a Req body, calls fn and encodes its result.
func serveJSON[Req, Resp any](logger *slog.Logger, fn func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := new(Req)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			cluster.WriteError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		cluster.WriteJSON(w, http.StatusOK, resp)
	}
}

func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	cluster.WriteError(w, status, err)
}

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	var remote *cluster.RemoteError
	switch {
	case errors.Is(err, search.ErrInvalidRequest), errors.Is(err, search.ErrSortTypeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrIndexNotFound), errors.Is(err, ErrShardNotHeld),
		errors.Is(err, storage.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrShardUnavailable), errors.Is(err, shard.ErrShardClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		if remote.Status >= 400 && remote.Status < 500 {
			return remote.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RequestLogger logs every request at debug level, and server errors at
// warn.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(started),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
