// File: internal/bridge/orchestrator.go
package bridge

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/crosslane/bridge-coordinator/internal/chains"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/security"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// BridgeRequest describes one user-initiated transfer
type BridgeRequest struct {
	SourceChainID uint64   `json:"source_chain_id"`
	DestChainID   uint64   `json:"dest_chain_id"`
	Sender        string   `json:"sender"`
	Recipient     string   `json:"recipient"`
	AssetID       string   `json:"asset_id"`
	AssetAddress  string   `json:"asset_address"`
	Amount        *big.Int `json:"amount"`
}

// BridgeResult is the outcome of initiating a transfer. When the amount
// crossed the multi-signature threshold, MultiSig is set and the
// transfer stays pending until enough operators have signed.
type BridgeResult struct {
	Transfer *models.BridgeTransfer      `json:"transfer"`
	MultiSig *models.MultiSigTransaction `json:"multisig,omitempty"`
	Fee      *big.Int                    `json:"fee"`
}

// OrchestratorStats is a point-in-time snapshot
type OrchestratorStats struct {
	Initiated   int64  `json:"initiated"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	TotalVolume string `json:"total_volume"`
}

// Orchestrator drives the lock-and-mint flow end to end: security gate,
// lock on the source chain, confirmation wait, mint on the destination.
// The mint request ID is the lock transaction hash, which the bridge
// contract enforces as executed at most once.
type Orchestrator struct {
	chains   *chains.Registry
	gate     *security.Gate
	multisig *security.MultiSigManager
	storage  storage.Storage
	bus      *events.Bus
	fees     *FeeCalculator
	logger   *utils.Logger

	mu          sync.Mutex
	initiated   int64
	completed   int64
	failed      int64
	totalVolume *big.Int
}

// NewOrchestrator creates the bridge orchestrator
func NewOrchestrator(cfg *config.BridgeConfig, registry *chains.Registry, gate *security.Gate, multisig *security.MultiSigManager, store storage.Storage, bus *events.Bus) (*Orchestrator, error) {
	fees, err := NewFeeCalculator(cfg)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		chains:      registry,
		gate:        gate,
		multisig:    multisig,
		storage:     store,
		bus:         bus,
		fees:        fees,
		logger:      utils.GetLogger(),
		totalVolume: new(big.Int),
	}, nil
}

// BridgeAsset validates and initiates one transfer. Transfers at or
// above the large-transfer threshold are parked behind a multi-signature
// round instead of executing immediately.
func (o *Orchestrator) BridgeAsset(ctx context.Context, req BridgeRequest, signer wallet.Signer) (*BridgeResult, error) {
	source, dest, err := o.resolveChains(req)
	if err != nil {
		return nil, err
	}
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	if err := o.gate.ValidateTransfer(ctx, req.Sender, req.Recipient, req.Amount, req.SourceChainID); err != nil {
		return nil, err
	}

	transfer := &models.BridgeTransfer{
		ID:               uuid.New().String(),
		SourceChainID:    req.SourceChainID,
		DestChainID:      req.DestChainID,
		AssetID:          req.AssetID,
		AssetAddress:     utils.NormalizeAddress(req.AssetAddress),
		Amount:           req.Amount,
		SenderAddress:    utils.NormalizeAddress(req.Sender),
		RecipientAddress: utils.NormalizeAddress(req.Recipient),
		Status:           models.TransferStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.storage.SaveTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.initiated++
	o.mu.Unlock()

	fee := o.fees.Estimate(req.Amount, dest.Layer2)

	if o.gate.RequiresMultiSig(req.Amount) {
		round, err := o.multisig.CreateTransaction(ctx, req.Sender, req.Recipient, req.Amount, transfer.ID)
		if err != nil {
			return nil, err
		}
		o.logger.Info("Transfer awaiting multisig approval",
			"transfer_id", transfer.ID, "multisig_tx_id", round.TxID)
		return &BridgeResult{Transfer: transfer, MultiSig: round, Fee: fee}, nil
	}

	if err := o.execute(ctx, transfer, source, dest, signer); err != nil {
		return &BridgeResult{Transfer: transfer, Fee: fee}, err
	}
	return &BridgeResult{Transfer: transfer, Fee: fee}, nil
}

// ExecuteApproved runs a transfer whose multi-signature round collected
// enough signatures.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, multiSigTxID string, signer wallet.Signer) (*models.BridgeTransfer, error) {
	round, err := o.multisig.GetTransaction(ctx, multiSigTxID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.MultiSigStatusApproved {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"Multisig transaction is not approved", string(round.Status))
	}

	payload, err := security.DecodeMultiSigPayload(round)
	if err != nil {
		return nil, err
	}
	if payload.Reference == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Multisig round has no transfer reference")
	}

	transfer, err := o.storage.GetTransfer(ctx, payload.Reference)
	if err != nil {
		return nil, err
	}
	if transfer.Status != models.TransferStatusPending {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"Transfer is not pending", string(transfer.Status))
	}

	source, err := o.chains.Get(transfer.SourceChainID)
	if err != nil {
		return nil, err
	}
	dest, err := o.chains.Get(transfer.DestChainID)
	if err != nil {
		return nil, err
	}

	if err := o.execute(ctx, transfer, source, dest, signer); err != nil {
		return transfer, err
	}
	return transfer, nil
}

// execute runs lock, confirmation wait and mint for one transfer
func (o *Orchestrator) execute(ctx context.Context, transfer *models.BridgeTransfer, source, dest *chains.Chain, signer wallet.Signer) error {
	asset := common.HexToAddress(transfer.AssetAddress)

	lockHash, err := source.Backend.LockAsset(ctx, signer, asset, transfer.Amount, transfer.DestChainID)
	if err != nil {
		return o.markFailed(ctx, transfer, err)
	}

	now := time.Now().UTC()
	transfer.Status = models.TransferStatusLocked
	transfer.SourceTxHash = lockHash.Hex()
	transfer.LockTimestamp = &now
	if err := o.storage.UpdateTransfer(ctx, transfer); err != nil {
		return o.markFailed(ctx, transfer, err)
	}

	if _, err := source.Backend.WaitForConfirmations(ctx, lockHash, source.ConfirmationBlocks); err != nil {
		return o.markFailed(ctx, transfer, err)
	}

	// The lock hash doubles as the mint request ID, so replaying this
	// mint can never double-credit the recipient.
	mintHash, err := dest.Backend.MintAsset(ctx, signer, lockHash,
		common.HexToAddress(transfer.RecipientAddress), asset, transfer.Amount, transfer.SourceChainID, nil)
	if err != nil {
		return o.markFailed(ctx, transfer, err)
	}

	if _, err := dest.Backend.WaitForConfirmations(ctx, mintHash, dest.ConfirmationBlocks); err != nil {
		return o.markFailed(ctx, transfer, err)
	}

	mintedAt := time.Now().UTC()
	transfer.Status = models.TransferStatusCompleted
	transfer.DestTxHash = mintHash.Hex()
	transfer.MintTimestamp = &mintedAt
	transfer.CompletedAt = &mintedAt
	if err := o.storage.UpdateTransfer(ctx, transfer); err != nil {
		return err
	}

	o.mu.Lock()
	o.completed++
	o.totalVolume.Add(o.totalVolume, transfer.Amount)
	o.mu.Unlock()

	o.logger.Info("Transfer completed",
		"transfer_id", transfer.ID, "lock_tx", transfer.SourceTxHash, "mint_tx", transfer.DestTxHash)
	o.bus.Publish(events.TypeTransferCompleted, map[string]interface{}{
		"transfer_id": transfer.ID,
		"amount":      transfer.Amount.String(),
	})
	return nil
}

// markFailed records the failure and re-raises the cause
func (o *Orchestrator) markFailed(ctx context.Context, transfer *models.BridgeTransfer, cause error) error {
	if transfer.CanTransition(models.TransferStatusFailed) {
		transfer.Status = models.TransferStatusFailed
		transfer.ErrorMessage = cause.Error()
		if err := o.storage.UpdateTransfer(ctx, transfer); err != nil {
			o.logger.Error("Failed to persist transfer failure", "transfer_id", transfer.ID, "error", err)
		}
	}

	o.mu.Lock()
	o.failed++
	o.mu.Unlock()

	o.logger.Error("Transfer failed", "transfer_id", transfer.ID, "error", cause)
	o.bus.Publish(events.TypeTransferFailed, map[string]interface{}{
		"transfer_id": transfer.ID,
		"error":       cause.Error(),
	})
	return cause
}

func (o *Orchestrator) resolveChains(req BridgeRequest) (*chains.Chain, *chains.Chain, error) {
	if req.SourceChainID == req.DestChainID {
		return nil, nil, utils.NewAppError(utils.ErrCodeValidation, "Source and destination chain must differ")
	}
	source, err := o.chains.Get(req.SourceChainID)
	if err != nil {
		return nil, nil, err
	}
	dest, err := o.chains.Get(req.DestChainID)
	if err != nil {
		return nil, nil, err
	}
	if !source.HasBridgeContract() || !dest.HasBridgeContract() {
		return nil, nil, utils.NewAppError(utils.ErrCodeConfiguration, "Bridge contract not registered on both chains")
	}
	return source, dest, nil
}

func (o *Orchestrator) validateRequest(req BridgeRequest) error {
	if !utils.IsValidAddress(req.Sender) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid sender address", req.Sender)
	}
	if !utils.IsValidAddress(req.Recipient) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid recipient address", req.Recipient)
	}
	if req.AssetAddress != "" && !utils.IsValidAddress(req.AssetAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid asset address", req.AssetAddress)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Transfer amount must be positive")
	}
	return nil
}

// GetTransfer returns one transfer by ID
func (o *Orchestrator) GetTransfer(ctx context.Context, id string) (*models.BridgeTransfer, error) {
	return o.storage.GetTransfer(ctx, id)
}

// ListTransfers returns transfers matching the filter
func (o *Orchestrator) ListTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.BridgeTransfer, error) {
	return o.storage.GetTransfers(ctx, filter)
}

// EstimateFee prices a transfer to the destination chain
func (o *Orchestrator) EstimateFee(amount *big.Int, destChainID uint64) (*big.Int, error) {
	dest, err := o.chains.Get(destChainID)
	if err != nil {
		return nil, err
	}
	return o.fees.Estimate(amount, dest.Layer2), nil
}

// GetLockedBalance reads the escrowed balance of an asset on a chain
func (o *Orchestrator) GetLockedBalance(ctx context.Context, chainID uint64, asset string) (*big.Int, error) {
	chain, err := o.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return chain.Backend.GetLockedBalance(ctx, common.HexToAddress(asset))
}

// SpeedUpTransaction re-broadcasts a stuck transaction with a higher
// gas price.
func (o *Orchestrator) SpeedUpTransaction(ctx context.Context, chainID uint64, txHash string, signer wallet.Signer) (string, error) {
	chain, err := o.chains.Get(chainID)
	if err != nil {
		return "", err
	}
	hash, err := chain.Backend.ReplaceTransaction(ctx, signer, common.HexToHash(txHash), false)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// CancelTransaction replaces a stuck transaction with a zero-value
// self-send at the same nonce.
func (o *Orchestrator) CancelTransaction(ctx context.Context, chainID uint64, txHash string, signer wallet.Signer) (string, error) {
	chain, err := o.chains.Get(chainID)
	if err != nil {
		return "", err
	}
	hash, err := chain.Backend.ReplaceTransaction(ctx, signer, common.HexToHash(txHash), true)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// GetStats returns a snapshot of orchestrator counters
func (o *Orchestrator) GetStats() OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return OrchestratorStats{
		Initiated:   o.initiated,
		Completed:   o.completed,
		Failed:      o.failed,
		TotalVolume: o.totalVolume.String(),
	}
}
