package node

import (
	"context"
	"net/http"
	"time"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/federation"
	"github.com/dreamware/shardsearch/internal/search"
)

// Internal endpoint paths served by every node.
const (
	PathInternalQuery      = "/internal/query"
	PathInternalBatchFetch = "/internal/batch-fetch"
	PathInternalStore      = "/internal/store"
	PathInternalDelete     = "/internal/delete"
	PathInternalExport     = "/internal/export"
)

// Client calls the internal endpoints of peer nodes. Responses are
// negotiated as gzip.
type Client struct {
	http *http.Client
}

// NewClient returns a client with the given overall request timeout; zero
// leaves deadlines to the caller's context.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: cluster.NewHTTPClient(timeout)}
}

func post[Resp any](ctx context.Context, c *Client, node cluster.Node, path string, req any) (*Resp, error) {
	out := new(Resp)
	if err := cluster.DoJSON(ctx, c.http, http.MethodPost, node.URL()+path, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Query(ctx context.Context, node cluster.Node, req *search.InternalQueryRequest) (*search.InternalQueryResponse, error) {
	return post[search.InternalQueryResponse](ctx, c, node, PathInternalQuery, req)
}

func (c *Client) BatchFetch(ctx context.Context, node cluster.Node, req *search.InternalBatchFetchRequest) (*search.InternalBatchFetchResponse, error) {
	return post[search.InternalBatchFetchResponse](ctx, c, node, PathInternalBatchFetch, req)
}

func (c *Client) Store(ctx context.Context, node cluster.Node, req *search.StoreRequest) (*search.WriteResponse, error) {
	return post[search.WriteResponse](ctx, c, node, PathInternalStore, req)
}

func (c *Client) Delete(ctx context.Context, node cluster.Node, req *search.DeleteRequest) (*search.WriteResponse, error) {
	return post[search.WriteResponse](ctx, c, node, PathInternalDelete, req)
}

func (c *Client) Export(ctx context.Context, node cluster.Node, req *search.ExportRequest) (*search.ExportResponse, error) {
	return post[search.ExportResponse](ctx, c, node, PathInternalExport, req)
}

// Handlers pairs the runtime's local side with the client's remote side
// for each federated request type.
type Handlers struct {
	Query  federation.QueryHandler
	Fetch  federation.FetchHandler
	Store  federation.StoreHandler
	Delete federation.DeleteHandler
}

// NewHandlers builds the federation handlers for a node.
func NewHandlers(rt *Runtime, c *Client) Handlers {
	return Handlers{
		Query: federation.HandlerFuncs[*search.InternalQueryRequest, *search.InternalQueryResponse]{
			LocalFunc:  rt.Query,
			RemoteFunc: c.Query,
		},
		Fetch: federation.HandlerFuncs[*search.InternalBatchFetchRequest, *search.InternalBatchFetchResponse]{
			LocalFunc:  rt.BatchFetch,
			RemoteFunc: c.BatchFetch,
		},
		Store: federation.HandlerFuncs[*search.StoreRequest, *search.WriteResponse]{
			LocalFunc:  rt.Store,
			RemoteFunc: c.Store,
		},
		Delete: federation.HandlerFuncs[*search.DeleteRequest, *search.WriteResponse]{
			LocalFunc:  rt.Delete,
			RemoteFunc: c.Delete,
		},
	}
}
