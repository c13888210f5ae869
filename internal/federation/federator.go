package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
)

// Handler serves one federated request either in process or on a peer.
type Handler[Req, Resp any] interface {
	Local(ctx context.Context, req Req) (Resp, error)
	Remote(ctx context.Context, node cluster.Node, req Req) (Resp, error)
}

// HandlerFuncs adapts a pair of functions to Handler.
type HandlerFuncs[Req, Resp any] struct {
	LocalFunc  func(ctx context.Context, req Req) (Resp, error)
	RemoteFunc func(ctx context.Context, node cluster.Node, req Req) (Resp, error)
}

func (h HandlerFuncs[Req, Resp]) Local(ctx context.Context, req Req) (Resp, error) {
	return h.LocalFunc(ctx, req)
}

func (h HandlerFuncs[Req, Resp]) Remote(ctx context.Context, node cluster.Node, req Req) (Resp, error) {
	return h.RemoteFunc(ctx, node, req)
}

// NodeRequest pairs a request with the node that must serve it.
type NodeRequest[Req any] struct {
	Request Req
	Node    cluster.Node
}

// NodeError is a failure of one node's task.
type NodeError struct {
	Err  error
	Node string
	Kind TargetKind
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s node %s: %v", e.Kind, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// RequestFederator runs one request per node concurrently.
type RequestFederator[Req, Resp any] struct {
	handler Handler[Req, Resp]
	pool    *Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewRequestFederator creates a federator. A zero timeout means calls are
// bounded only by the caller's context.
func NewRequestFederator[Req, Resp any](handler Handler[Req, Resp], pool *Pool, timeout time.Duration, logger *slog.Logger) *RequestFederator[Req, Resp] {
	if pool == nil {
		pool = NewPool(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestFederator[Req, Resp]{handler: handler, pool: pool, timeout: timeout, logger: logger}
}

// Send runs every request and returns the responses in request order.
// It is all-or-nothing: if any task fails, the remaining tasks see a
// cancelled context, Send waits for all of them and returns the first
// error.
func (f *RequestFederator[Req, Resp]) Send(ctx context.Context, snap *coordinator.RoutingSnapshot, reqs []NodeRequest[Req]) ([]Resp, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	targets := make([]Target, len(reqs))
	for i, r := range reqs {
		targets[i] = Resolve(snap, r.Node)
	}

	out := make([]Resp, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range reqs {
		g.Go(func() error {
			resp, err := f.run(gctx, targets[i], reqs[i].Request)
			if err != nil {
				return &NodeError{Node: targets[i].Node.Key(), Kind: targets[i].Kind, Err: err}
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			f.logger.Warn("federated call timed out", "timeout", f.timeout, "nodes", len(reqs), "error", err)
		}
		return nil, err
	}
	return out, nil
}

func (f *RequestFederator[Req, Resp]) run(ctx context.Context, t Target, req Req) (Resp, error) {
	var zero Resp
	release, err := f.pool.Acquire(ctx, t.Kind)
	if err != nil {
		return zero, err
	}
	defer release()

	if t.Kind == Local {
		return f.handler.Local(ctx, req)
	}
	return f.handler.Remote(ctx, t.Node, req)
}
