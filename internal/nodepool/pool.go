// File: internal/nodepool/pool.go
package nodepool

import (
	"context"
	"sort"
	"sync"
	"time"


	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// ErrNoHealthyNode is returned when every endpoint of a chain is down.
// Callers must fail fast instead of blocking on recovery.
var ErrNoHealthyNode = utils.NewAppError(utils.ErrCodeRPC, "No healthy RPC endpoint available")

// RequestFunc is one RPC operation executed against a selected endpoint
type RequestFunc func(ctx context.Context, client Client) error

// Pool maintains the JSON-RPC endpoints of a single chain, health-checks
// them periodically and hands out the best one.
type Pool struct {
	chainID uint64
	config  *config.NodePoolConfig
	bus     *events.Bus
	dialer  Dialer
	logger  *utils.Logger

	mu         sync.RWMutex
	nodes      []*Node
	slotByURL  map[string]int
	rrIndex    int
	running    bool
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewPool creates a node pool for one chain
func NewPool(chainID uint64, urls []string, cfg *config.NodePoolConfig, bus *events.Bus, dialer Dialer) *Pool {
	if dialer == nil {
		dialer = DefaultDialer
	}

	pool := &Pool{
		chainID:   chainID,
		config:    cfg,
		bus:       bus,
		dialer:    dialer,
		logger:    utils.GetLogger(),
		slotByURL: make(map[string]int),
		stopChan:  make(chan struct{}),
	}

	for i, url := range urls {
		// Until the first probe runs the node is assumed healthy so the
		// pool is usable immediately after start.
		pool.nodes = append(pool.nodes, &Node{URL: url, Healthy: true})
		pool.slotByURL[url] = i
	}

	return pool
}

// ChainID returns the chain this pool serves
func (p *Pool) ChainID() uint64 {
	return p.chainID
}

// Start dials every endpoint, runs an initial probe and launches the
// periodic health check loop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Node pool already running")
	}
	p.running = true
	p.mu.Unlock()

	p.checkAllNodes(ctx)

	p.wg.Add(1)
	go p.healthLoop(ctx)

	p.logger.Info("Node pool started", "chain_id", p.chainID, "nodes", len(p.nodes))
	return nil
}

// Stop stops the health check loop
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
	p.logger.Info("Node pool stopped", "chain_id", p.chainID)
}

// healthLoop probes all nodes on a fixed interval
func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.config.HealthInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.checkAllNodes(ctx)
		}
	}
}

// checkAllNodes probes every endpoint once
func (p *Pool) checkAllNodes(ctx context.Context) {
	p.mu.RLock()
	urls := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		urls[i] = n.URL
	}
	p.mu.RUnlock()

	for _, url := range urls {
		p.probeNode(ctx, url)
	}
}

// probeNode measures endpoint latency with a cheap block height read. A
// success restores health regardless of accumulated failures.
func (p *Pool) probeNode(ctx context.Context, url string) {
	timeout := p.config.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.clientFor(probeCtx, url)
	if err != nil {
		p.recordFailure(url, err)
		return
	}

	start := time.Now()
	_, err = client.BlockNumber(probeCtx)
	latency := time.Since(start)

	if err != nil {
		p.recordFailure(url, err)
		return
	}
	p.recordSuccess(url, latency)
}

// clientFor returns the node's client, dialing on first use
func (p *Pool) clientFor(ctx context.Context, url string) (Client, error) {
	p.mu.RLock()
	slot, ok := p.slotByURL[url]
	var client Client
	if ok {
		client = p.nodes[slot].client
	}
	p.mu.RUnlock()

	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeRPC, "Unknown endpoint", url)
	}
	if client != nil {
		return client, nil
	}

	dialed, err := p.dialer(ctx, url)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeRPC, "Failed to dial endpoint", err.Error())
	}

	p.mu.Lock()
	if p.nodes[slot].client == nil {
		p.nodes[slot].client = dialed
	}
	client = p.nodes[slot].client
	p.mu.Unlock()

	return client, nil
}

// recordSuccess resets the failure counter and restores health
func (p *Pool) recordSuccess(url string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.slotByURL[url]
	if !ok {
		return
	}
	node := p.nodes[slot]

	wasUnhealthy := !node.Healthy
	node.Healthy = true
	node.ConsecutiveFailures = 0
	node.LatencyMs = latency.Milliseconds()
	node.LastCheck = time.Now()
	node.RequestCount++

	if wasUnhealthy {
		p.logger.Info("RPC endpoint recovered", "chain_id", p.chainID, "url", url)
		if p.bus != nil {
			p.bus.Publish(events.TypeNodeRecovered, map[string]interface{}{
				"chain_id": p.chainID,
				"url":      url,
			})
		}
	}
}

// recordFailure increments the failure counter and flips the node
// unhealthy once the threshold is reached. The transition event fires on
// the edge only, not on every failed probe.
func (p *Pool) recordFailure(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.slotByURL[url]
	if !ok {
		return
	}
	node := p.nodes[slot]

	node.ConsecutiveFailures++
	node.ErrorCount++
	node.LastCheck = time.Now()

	maxFailures := p.config.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	if node.Healthy && node.ConsecutiveFailures >= maxFailures {
		node.Healthy = false
		p.logger.Warn("RPC endpoint marked unhealthy",
			"chain_id", p.chainID, "url", url, "failures", node.ConsecutiveFailures, "error", err)
		if p.bus != nil {
			p.bus.Publish(events.TypeNodeUnhealthy, map[string]interface{}{
				"chain_id": p.chainID,
				"url":      url,
				"failures": node.ConsecutiveFailures,
			})
		}
	}
}

// healthySorted returns healthy endpoint URLs in ascending latency order
func (p *Pool) healthySorted() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type entry struct {
		url     string
		latency int64
	}
	var healthy []entry
	for _, n := range p.nodes {
		if n.Healthy {
			healthy = append(healthy, entry{n.URL, n.LatencyMs})
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool { return healthy[i].latency < healthy[j].latency })

	urls := make([]string, len(healthy))
	for i, e := range healthy {
		urls[i] = e.url
	}
	return urls
}

// GetBestProvider returns the healthy endpoint with the lowest measured
// latency.
func (p *Pool) GetBestProvider(ctx context.Context) (Client, error) {
	urls := p.healthySorted()
	if len(urls) == 0 {
		return nil, ErrNoHealthyNode
	}
	return p.clientFor(ctx, urls[0])
}

// GetNextProvider round-robins among healthy endpoints
func (p *Pool) GetNextProvider(ctx context.Context) (Client, error) {
	p.mu.Lock()
	var healthy []string
	for _, n := range p.nodes {
		if n.Healthy {
			healthy = append(healthy, n.URL)
		}
	}
	if len(healthy) == 0 {
		p.mu.Unlock()
		return nil, ErrNoHealthyNode
	}
	url := healthy[p.rrIndex%len(healthy)]
	p.rrIndex++
	p.mu.Unlock()

	return p.clientFor(ctx, url)
}

// ExecuteWithFailover runs fn against up to min(maxRetries, healthy node
// count) distinct healthy endpoints in latency order. Each node failure is
// counted against that node; the last error surfaces only once every
// candidate has failed.
func (p *Pool) ExecuteWithFailover(ctx context.Context, fn RequestFunc, maxRetries int) error {
	urls := p.healthySorted()
	if len(urls) == 0 {
		return ErrNoHealthyNode
	}

	attempts := maxRetries
	if attempts > len(urls) {
		attempts = len(urls)
	}
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		url := urls[i]

		client, err := p.clientFor(ctx, url)
		if err != nil {
			p.recordFailure(url, err)
			lastErr = err
			continue
		}

		p.countRequest(url)
		if err := fn(ctx, client); err != nil {
			p.recordFailure(url, err)
			lastErr = err
			continue
		}
		return nil
	}

	return utils.NewAppError(utils.ErrCodeRPC, "All healthy endpoints failed", lastErr.Error())
}

func (p *Pool) countRequest(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slotByURL[url]; ok {
		p.nodes[slot].RequestCount++
	}
}

// HealthyCount returns the number of healthy endpoints
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, n := range p.nodes {
		if n.Healthy {
			count++
		}
	}
	return count
}

// Stats returns a snapshot of every node
func (p *Pool) Stats() []NodeStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]NodeStats, len(p.nodes))
	for i, n := range p.nodes {
		stats[i] = n.snapshot()
	}
	return stats
}
