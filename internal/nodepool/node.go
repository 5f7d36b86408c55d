package nodepool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of a chain JSON-RPC client the coordinator consumes.
// *ethclient.Client satisfies it; tests substitute fakes.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer creates a client for an endpoint URL
type Dialer func(ctx context.Context, url string) (Client, error)

// DefaultDialer dials an endpoint with go-ethereum's RPC client
func DefaultDialer(ctx context.Context, url string) (Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Node is one JSON-RPC endpoint for one chain. Nodes live in memory only;
// health bookkeeping is rebuilt from probes after a restart.
type Node struct {
	URL                 string
	client              Client
	Healthy             bool
	LatencyMs           int64
	LastCheck           time.Time
	ConsecutiveFailures int
	RequestCount        uint64
	ErrorCount          uint64
}

// NodeStats is a point-in-time snapshot of one node's health bookkeeping
type NodeStats struct {
	URL                 string    `json:"url"`
	Healthy             bool      `json:"healthy"`
	LatencyMs           int64     `json:"latency_ms"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RequestCount        uint64    `json:"request_count"`
	ErrorCount          uint64    `json:"error_count"`
}

func (n *Node) snapshot() NodeStats {
	return NodeStats{
		URL:                 n.URL,
		Healthy:             n.Healthy,
		LatencyMs:           n.LatencyMs,
		LastCheck:           n.LastCheck,
		ConsecutiveFailures: n.ConsecutiveFailures,
		RequestCount:        n.RequestCount,
		ErrorCount:          n.ErrorCount,
	}
}
