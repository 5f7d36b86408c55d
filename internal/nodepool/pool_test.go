package nodepool

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
)

// fakeClient implements Client with scriptable failures and latency
type fakeClient struct {
	mu      sync.Mutex
	url     string
	failing bool
	latency time.Duration
	block   uint64
	calls   int
}

func (f *fakeClient) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if f.failing {
		return 0, errors.New("connection refused")
	}
	return f.block, nil
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeClient) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestPool(t *testing.T, clients map[string]*fakeClient) (*Pool, *events.Bus) {
	t.Helper()

	urls := make([]string, 0, len(clients))
	for url := range clients {
		urls = append(urls, url)
	}

	dialer := func(ctx context.Context, url string) (Client, error) {
		return clients[url], nil
	}

	bus := events.NewBus(16)
	cfg := &config.NodePoolConfig{
		HealthInterval: time.Hour, // probes driven manually in tests
		ProbeTimeout:   time.Second,
		MaxFailures:    3,
	}
	return NewPool(1, urls, cfg, bus, dialer), bus
}

func TestGetBestProviderPrefersLowestLatency(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", latency: 1 * time.Millisecond, block: 100},
		"http://b": {url: "http://b", latency: 30 * time.Millisecond, block: 100},
		"http://c": {url: "http://c", latency: 60 * time.Millisecond, block: 100},
	}
	pool, _ := newTestPool(t, clients)

	pool.checkAllNodes(context.Background())

	client, err := pool.GetBestProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://a", client.(*fakeClient).url)
}

func TestUnhealthyTransitionFiresOnce(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", latency: 1 * time.Millisecond, block: 100},
		"http://b": {url: "http://b", latency: 20 * time.Millisecond, block: 100},
	}
	pool, bus := newTestPool(t, clients)
	unhealthy := bus.Subscribe(events.TypeNodeUnhealthy)

	pool.checkAllNodes(context.Background())

	// Fail endpoint A past the threshold, then keep failing it
	clients["http://a"].setFailing(true)
	for i := 0; i < 5; i++ {
		pool.probeNode(context.Background(), "http://a")
	}

	// Best provider falls back to the next-lowest-latency healthy node
	client, err := pool.GetBestProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://b", client.(*fakeClient).url)

	// Exactly one transition event despite five failed probes
	select {
	case ev := <-unhealthy:
		assert.Equal(t, "http://a", ev.Payload["url"])
	case <-time.After(time.Second):
		t.Fatal("expected node:unhealthy event")
	}
	select {
	case <-unhealthy:
		t.Fatal("node:unhealthy fired more than once")
	default:
	}

	// A successful probe restores health and resets the failure counter
	clients["http://a"].setFailing(false)
	pool.probeNode(context.Background(), "http://a")

	stats := pool.Stats()
	for _, s := range stats {
		if s.URL == "http://a" {
			assert.True(t, s.Healthy)
			assert.Equal(t, 0, s.ConsecutiveFailures)
		}
	}
}

func TestExecuteWithFailoverTriesDistinctNodes(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", latency: 1 * time.Millisecond, block: 100},
		"http://b": {url: "http://b", latency: 10 * time.Millisecond, block: 100},
		"http://c": {url: "http://c", latency: 20 * time.Millisecond, block: 100},
	}
	pool, _ := newTestPool(t, clients)
	pool.checkAllNodes(context.Background())

	var tried []string
	err := pool.ExecuteWithFailover(context.Background(), func(ctx context.Context, c Client) error {
		url := c.(*fakeClient).url
		tried = append(tried, url)
		if url != "http://c" {
			return errors.New("boom")
		}
		return nil
	}, 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, tried)
}

func TestExecuteWithFailoverSurfacesLastError(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", block: 100},
		"http://b": {url: "http://b", block: 100},
	}
	pool, _ := newTestPool(t, clients)
	pool.checkAllNodes(context.Background())

	calls := 0
	err := pool.ExecuteWithFailover(context.Background(), func(ctx context.Context, c Client) error {
		calls++
		return errors.New("always failing")
	}, 10)

	require.Error(t, err)
	assert.Equal(t, 2, calls, "capped at healthy node count")
}

func TestFailFastWhenNoHealthyNodes(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", failing: true},
	}
	pool, _ := newTestPool(t, clients)

	for i := 0; i < 3; i++ {
		pool.probeNode(context.Background(), "http://a")
	}
	require.Equal(t, 0, pool.HealthyCount())

	_, err := pool.GetBestProvider(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyNode)

	_, err = pool.GetNextProvider(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyNode)

	err = pool.ExecuteWithFailover(context.Background(), func(ctx context.Context, c Client) error {
		return nil
	}, 3)
	assert.ErrorIs(t, err, ErrNoHealthyNode)
}

func TestGetNextProviderRoundRobins(t *testing.T) {
	clients := map[string]*fakeClient{
		"http://a": {url: "http://a", block: 100},
		"http://b": {url: "http://b", block: 100},
	}
	pool, _ := newTestPool(t, clients)
	pool.checkAllNodes(context.Background())

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		client, err := pool.GetNextProvider(context.Background())
		require.NoError(t, err)
		seen[client.(*fakeClient).url]++
	}
	assert.Equal(t, 2, seen["http://a"])
	assert.Equal(t, 2, seen["http://b"])
}
