// File: internal/chains/registry.go
package chains

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/nodepool"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// Chain binds one chain's configuration to its node pool and backend
type Chain struct {
	ChainID            uint64
	Name               string
	BridgeContract     common.Address
	ConfirmationBlocks uint64
	Layer2             bool
	Pool               *nodepool.Pool
	Backend            Backend
}

// HasBridgeContract reports whether a bridge deployment is registered
func (c *Chain) HasBridgeContract() bool {
	return c.BridgeContract != (common.Address{})
}

// Registry holds every monitored chain, keyed by chain ID
type Registry struct {
	mu     sync.RWMutex
	chains map[uint64]*Chain
	logger *utils.Logger
}

// NewRegistry builds chains, pools and backends from configuration
func NewRegistry(cfgs []config.ChainConfig, poolCfg *config.NodePoolConfig, bus *events.Bus, dialer nodepool.Dialer) (*Registry, error) {
	registry := &Registry{
		chains: make(map[uint64]*Chain),
		logger: utils.GetLogger(),
	}

	for _, cfg := range cfgs {
		if _, exists := registry.chains[cfg.ChainID]; exists {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Duplicate chain ID", cfg.Name)
		}

		var contract common.Address
		if cfg.BridgeContract != "" {
			if !common.IsHexAddress(cfg.BridgeContract) {
				return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid bridge contract address", cfg.BridgeContract)
			}
			contract = common.HexToAddress(cfg.BridgeContract)
		}

		pool := nodepool.NewPool(cfg.ChainID, cfg.RPCEndpoints, poolCfg, bus, dialer)
		confirmations := cfg.ConfirmationBlocks
		if confirmations == 0 {
			confirmations = 6
		}

		registry.chains[cfg.ChainID] = &Chain{
			ChainID:            cfg.ChainID,
			Name:               cfg.Name,
			BridgeContract:     contract,
			ConfirmationBlocks: confirmations,
			Layer2:             cfg.Layer2,
			Pool:               pool,
			Backend:            NewEVMBackend(cfg.ChainID, contract, pool),
		}
	}

	return registry, nil
}

// Start starts every chain's node pool
func (r *Registry) Start(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, chain := range r.chains {
		if err := chain.Pool.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every chain's node pool
func (r *Registry) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, chain := range r.chains {
		chain.Pool.Stop()
	}
}

// Get returns the chain for an ID
func (r *Registry) Get(chainID uint64) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[chainID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Unknown chain", "")
	}
	return chain, nil
}

// All returns every registered chain
func (r *Registry) All() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]*Chain, 0, len(r.chains))
	for _, chain := range r.chains {
		chains = append(chains, chain)
	}
	return chains
}

// RegisterBridgeContract sets the bridge deployment for a chain
func (r *Registry) RegisterBridgeContract(chainID uint64, address common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.chains[chainID]
	if !ok {
		return utils.NewAppError(utils.ErrCodeNotFound, "Unknown chain", "")
	}

	chain.BridgeContract = address
	if evm, ok := chain.Backend.(*EVMBackend); ok {
		evm.SetBridgeContract(address)
	}

	r.logger.Info("Bridge contract registered", "chain_id", chainID, "address", address.Hex())
	return nil
}
