// File: internal/chains/backend.go
package chains

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/crosslane/bridge-coordinator/internal/nodepool"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// Gas limits for the bridge entry points. The contracts are small; a fixed
// ceiling avoids an extra estimation round-trip per step.
const (
	approveGasLimit = uint64(80_000)
	lockGasLimit    = uint64(300_000)
	mintGasLimit    = uint64(300_000)
)

// receiptPollInterval is how often a pending transaction is re-checked
// while waiting for confirmation depth.
const receiptPollInterval = 3 * time.Second

// NativeAssetAddress marks the chain's native asset in lock calls
var NativeAssetAddress = common.Address{}

// LockEvent is one decoded AssetLocked log
type LockEvent struct {
	RequestID     common.Hash
	Sender        common.Address
	Asset         common.Address
	Amount        *big.Int
	TargetChainID uint64
	TxHash        common.Hash
	BlockNumber   uint64
}

// Backend drives the on-chain side of one chain. The EVM implementation
// routes every RPC through the chain's node pool; tests substitute fakes.
type Backend interface {
	ChainID() uint64
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	LockAsset(ctx context.Context, signer wallet.Signer, asset common.Address, amount *big.Int, targetChainID uint64) (common.Hash, error)
	MintAsset(ctx context.Context, signer wallet.Signer, requestID common.Hash, recipient, asset common.Address, amount *big.Int, sourceChainID uint64, gasPrice *big.Int) (common.Hash, error)
	GetLockedBalance(ctx context.Context, asset common.Address) (*big.Int, error)

	// TransactionConfirmed reports whether the transaction succeeded and
	// reached the given depth. The receipt is nil while still unknown.
	TransactionConfirmed(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, bool, error)
	// WaitForConfirmations blocks until the transaction reaches depth or
	// the context expires. A reverted transaction fails immediately.
	WaitForConfirmations(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, error)

	FilterLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]LockEvent, error)

	// ReplaceTransaction re-broadcasts a pending transaction with the same
	// nonce and a gas price raised by at least minGasBumpPercent. With
	// cancel set the replacement is a zero-value self-send.
	ReplaceTransaction(ctx context.Context, signer wallet.Signer, txHash common.Hash, cancel bool) (common.Hash, error)
}

// minGasBumpPercent is the minimum gas price increase nodes accept for a
// same-nonce replacement.
const minGasBumpPercent = 10

// EVMBackend implements Backend over a node pool
type EVMBackend struct {
	chainID        uint64
	bridgeContract common.Address
	pool           *nodepool.Pool
	logger         *utils.Logger
	readRetries    int
}

// NewEVMBackend creates a backend for one chain
func NewEVMBackend(chainID uint64, bridgeContract common.Address, pool *nodepool.Pool) *EVMBackend {
	return &EVMBackend{
		chainID:        chainID,
		bridgeContract: bridgeContract,
		pool:           pool,
		logger:         utils.GetLogger(),
		readRetries:    3,
	}
}

// SetBridgeContract updates the bridge contract address
func (b *EVMBackend) SetBridgeContract(address common.Address) {
	b.bridgeContract = address
}

func (b *EVMBackend) ChainID() uint64 {
	return b.chainID
}

func (b *EVMBackend) requireContract() error {
	if b.bridgeContract == (common.Address{}) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "No bridge contract registered for chain")
	}
	return nil
}

// BlockNumber returns the current head, failing over across endpoints
func (b *EVMBackend) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := b.pool.ExecuteWithFailover(ctx, func(ctx context.Context, client nodepool.Client) error {
		n, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	}, b.readRetries)
	return head, err
}

func (b *EVMBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := b.pool.ExecuteWithFailover(ctx, func(ctx context.Context, client nodepool.Client) error {
		p, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		price = p
		return nil
	}, b.readRetries)
	return price, err
}

// sendSigned builds, signs and broadcasts one contract call
func (b *EVMBackend) sendSigned(ctx context.Context, signer wallet.Signer, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte) (common.Hash, error) {
	client, err := b.pool.GetBestProvider(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to fetch nonce", err.Error())
	}

	if gasPrice == nil {
		gasPrice, err = client.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to fetch gas price", err.Error())
		}
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := signer.SignTx(tx, new(big.Int).SetUint64(b.chainID))
	if err != nil {
		return common.Hash{}, err
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		// A fabricated hash is never substituted here: a failed broadcast
		// surfaces as a ChainError and the transfer is marked failed.
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to broadcast transaction", err.Error())
	}

	return signed.Hash(), nil
}

// LockAsset escrows the asset on this chain for the target chain. ERC-20
// assets are approved to the bridge first; the native asset travels as
// call value.
func (b *EVMBackend) LockAsset(ctx context.Context, signer wallet.Signer, asset common.Address, amount *big.Int, targetChainID uint64) (common.Hash, error) {
	if err := b.requireContract(); err != nil {
		return common.Hash{}, err
	}

	value := big.NewInt(0)
	if asset == NativeAssetAddress {
		value = amount
	} else {
		approveData, err := erc20ABI.Pack("approve", b.bridgeContract, amount)
		if err != nil {
			return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to encode approve", err.Error())
		}
		approveHash, err := b.sendSigned(ctx, signer, asset, big.NewInt(0), approveGasLimit, nil, approveData)
		if err != nil {
			return common.Hash{}, err
		}
		if _, err := b.WaitForConfirmations(ctx, approveHash, 1); err != nil {
			return common.Hash{}, err
		}
	}

	lockData, err := bridgeABI.Pack("lockAsset", asset, amount, new(big.Int).SetUint64(targetChainID))
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to encode lockAsset", err.Error())
	}

	txHash, err := b.sendSigned(ctx, signer, b.bridgeContract, value, lockGasLimit, nil, lockData)
	if err != nil {
		return common.Hash{}, err
	}

	b.logger.Info("Lock transaction submitted",
		"chain_id", b.chainID, "tx_hash", txHash.Hex(), "amount", amount.String())
	return txHash, nil
}

// MintAsset mints on this chain for a lock observed elsewhere. The request
// ID makes the call idempotent on-chain: a second mint for the same ID
// reverts.
func (b *EVMBackend) MintAsset(ctx context.Context, signer wallet.Signer, requestID common.Hash, recipient, asset common.Address, amount *big.Int, sourceChainID uint64, gasPrice *big.Int) (common.Hash, error) {
	if err := b.requireContract(); err != nil {
		return common.Hash{}, err
	}

	mintData, err := bridgeABI.Pack("mintAsset", requestID, recipient, asset, amount, new(big.Int).SetUint64(sourceChainID))
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to encode mintAsset", err.Error())
	}

	txHash, err := b.sendSigned(ctx, signer, b.bridgeContract, big.NewInt(0), mintGasLimit, gasPrice, mintData)
	if err != nil {
		return common.Hash{}, err
	}

	b.logger.Info("Mint transaction submitted",
		"chain_id", b.chainID, "tx_hash", txHash.Hex(), "request_id", requestID.Hex())
	return txHash, nil
}

// GetLockedBalance reads the escrowed balance of an asset
func (b *EVMBackend) GetLockedBalance(ctx context.Context, asset common.Address) (*big.Int, error) {
	if err := b.requireContract(); err != nil {
		return nil, err
	}

	callData, err := bridgeABI.Pack("getLockedBalance", asset)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeChain, "Failed to encode getLockedBalance", err.Error())
	}

	var out []byte
	err = b.pool.ExecuteWithFailover(ctx, func(ctx context.Context, client nodepool.Client) error {
		result, err := client.CallContract(ctx, ethereum.CallMsg{To: &b.bridgeContract, Data: callData}, nil)
		if err != nil {
			return err
		}
		out = result
		return nil
	}, b.readRetries)
	if err != nil {
		return nil, err
	}

	results, err := bridgeABI.Unpack("getLockedBalance", out)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeChain, "Failed to decode getLockedBalance", err.Error())
	}
	return results[0].(*big.Int), nil
}

// TransactionConfirmed checks receipt status and confirmation depth
func (b *EVMBackend) TransactionConfirmed(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, bool, error) {
	client, err := b.pool.GetBestProvider(ctx)
	if err != nil {
		return nil, false, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, utils.NewAppError(utils.ErrCodeRPC, "Failed to fetch receipt", err.Error())
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, false, utils.NewAppError(utils.ErrCodeChain, "Transaction reverted", txHash.Hex())
	}

	head, err := b.BlockNumber(ctx)
	if err != nil {
		return receipt, false, err
	}

	confirmations := uint64(0)
	if head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}
	return receipt, confirmations >= depth, nil
}

// WaitForConfirmations polls until the transaction reaches depth
func (b *EVMBackend) WaitForConfirmations(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, confirmed, err := b.TransactionConfirmed(ctx, txHash, depth)
		if err != nil {
			return receipt, err
		}
		if confirmed {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, utils.NewAppError(utils.ErrCodeChain, "Confirmation wait aborted", ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

// FilterLockEvents queries AssetLocked logs in a block range
func (b *EVMBackend) FilterLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]LockEvent, error) {
	if err := b.requireContract(); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{b.bridgeContract},
		Topics:    [][]common.Hash{{assetLockedTopic}},
	}

	var logs []types.Log
	err := b.pool.ExecuteWithFailover(ctx, func(ctx context.Context, client nodepool.Client) error {
		result, err := client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = result
		return nil
	}, b.readRetries)
	if err != nil {
		return nil, err
	}

	events := make([]LockEvent, 0, len(logs))
	for _, log := range logs {
		event, err := parseLockEvent(log)
		if err != nil {
			b.logger.Warn("Skipping unparseable AssetLocked log",
				"chain_id", b.chainID, "tx_hash", log.TxHash.Hex(), "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// parseLockEvent decodes one AssetLocked log
func parseLockEvent(log types.Log) (LockEvent, error) {
	if len(log.Topics) < 3 {
		return LockEvent{}, errors.New("missing indexed topics")
	}

	var decoded struct {
		Asset         common.Address
		Amount        *big.Int
		TargetChainId *big.Int
	}
	if err := bridgeABI.UnpackIntoInterface(&decoded, "AssetLocked", log.Data); err != nil {
		return LockEvent{}, err
	}

	return LockEvent{
		RequestID:     log.Topics[1],
		Sender:        common.BytesToAddress(log.Topics[2].Bytes()),
		Asset:         decoded.Asset,
		Amount:        decoded.Amount,
		TargetChainID: decoded.TargetChainId.Uint64(),
		TxHash:        log.TxHash,
		BlockNumber:   log.BlockNumber,
	}, nil
}

// ReplaceTransaction re-broadcasts a pending transaction at the same nonce
// with a ≥10% higher gas price, either carrying the original payload
// (speed-up) or as a zero-value self-send (cancel).
func (b *EVMBackend) ReplaceTransaction(ctx context.Context, signer wallet.Signer, txHash common.Hash, cancel bool) (common.Hash, error) {
	client, err := b.pool.GetBestProvider(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	original, pending, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to fetch transaction", err.Error())
	}
	if !pending {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Transaction already mined", txHash.Hex())
	}

	bumped := new(big.Int).Mul(original.GasPrice(), big.NewInt(100+minGasBumpPercent))
	bumped.Div(bumped, big.NewInt(100))

	current, err := client.SuggestGasPrice(ctx)
	if err == nil && current.Cmp(bumped) > 0 {
		bumped = current
	}

	var replacement *types.Transaction
	if cancel {
		self := signer.Address()
		replacement = types.NewTransaction(original.Nonce(), self, big.NewInt(0), 21_000, bumped, nil)
	} else {
		// Contract creations carry no recipient, so there is nothing to
		// re-target at the same nonce
		if original.To() == nil {
			return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Cannot speed up a contract creation transaction", txHash.Hex())
		}
		replacement = types.NewTransaction(original.Nonce(), *original.To(), original.Value(), original.Gas(), bumped, original.Data())
	}

	signed, err := signer.SignTx(replacement, new(big.Int).SetUint64(b.chainID))
	if err != nil {
		return common.Hash{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to broadcast replacement", err.Error())
	}

	b.logger.Info("Replacement transaction submitted",
		"chain_id", b.chainID, "old", txHash.Hex(), "new", signed.Hash().Hex(), "cancel", cancel)
	return signed.Hash(), nil
}
