package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// Node health states.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// NodeHealth tracks the health of a single node.
// Protected by HealthMonitor's mutex; callers only ever see copies.
type NodeHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	NodeKey          string
	Status           string
	ConsecutiveFails int
}

// CheckFunc checks one node and returns nil when it is healthy.
type CheckFunc func(ctx context.Context, node cluster.Node) error

// HealthMonitor periodically checks every known node. After maxFailures
// consecutive failures a node is marked unhealthy and the onUnhealthy
// callback runs, which the coordinator uses to repair shard placement.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   CheckFunc
	onUnhealthy func(node cluster.Node)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor probing every interval. Nodes are
// marked unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	go monitor.Start(ctx, nodeProvider)
func NewHealthMonitor(interval time.Duration, logger *slog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  cluster.NewHTTPClient(2 * time.Second),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// node transitions to unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(node cluster.Node)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetCheckFunction replaces the default HTTP /health check.
func (h *HealthMonitor) SetCheckFunction(fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = fn
}

// SetMaxFailures changes how many consecutive failures mark a node unhealthy.
func (h *HealthMonitor) SetMaxFailures(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > 0 {
		h.maxFailures = n
	}
}

// Start runs the monitoring loop in the current goroutine until ctx or the
// monitor itself is stopped. nodeProvider is called on every tick.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.Node) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", "interval", h.interval)

	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", "reason", "context cancelled")
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.Node) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.Key()] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for key := range h.nodes {
		if !current[key] {
			delete(h.nodes, key)
			h.logger.Info("removed node from health monitoring", "node", key)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.Node) {
	key := node.Key()

	h.mu.Lock()
	health, exists := h.nodes[key]
	if !exists {
		health = &NodeHealth{
			NodeKey:     key,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[key] = health
	}
	check := h.checkFunc
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := check(cctx, node)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.logger.Warn("health check failed",
			"node", key, "attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", err)

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy
			if previous != StatusUnhealthy && h.onUnhealthy != nil {
				h.logger.Warn("node marked unhealthy", "node", key, "failures", health.ConsecutiveFails)
				go h.onUnhealthy(node)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.logger.Info("node recovered", "node", key)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, node cluster.Node) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.URL()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of the node's health, or nil if unknown.
func (h *HealthMonitor) GetNodeHealth(nodeKey string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeKey]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every tracked node's health.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for key, health := range h.nodes {
		cp := *health
		result[key] = &cp
	}
	return result
}

// IsHealthy reports whether the node's last status was healthy. Nodes
// that have never been checked are not healthy.
func (h *HealthMonitor) IsHealthy(nodeKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeKey]
	return exists && health.Status == StatusHealthy
}
