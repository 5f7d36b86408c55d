// File: internal/bridge/orchestrator_test.go
package bridge

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/bridge-coordinator/internal/chains"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/security"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

const (
	sourceChainID = uint64(1)
	destChainID   = uint64(137)
	senderAddr    = "0x00000000000000000000000000000000000000Aa"
	recipientAddr = "0x00000000000000000000000000000000000000Bb"
	assetAddr     = "0xa0b86991c6218B36c1d19D4a2e9Eb0cE3606eB48"
)

// fakeBackend scripts the on-chain side of one chain
type fakeBackend struct {
	chainID uint64

	mu           sync.Mutex
	lockCalls    int
	mintCalls    int
	mintRequests map[common.Hash]int
	failLock     bool
	failMint     bool
	lockHash     common.Hash
	mintHash     common.Hash
	lockEvents   []chains.LockEvent
	head         uint64
}

func newFakeBackend(chainID uint64, seed byte) *fakeBackend {
	return &fakeBackend{
		chainID:      chainID,
		mintRequests: make(map[common.Hash]int),
		lockHash:     common.Hash{seed, 0x01},
		mintHash:     common.Hash{seed, 0x02},
		head:         100,
	}
}

func (f *fakeBackend) ChainID() uint64 { return f.chainID }

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (f *fakeBackend) LockAsset(ctx context.Context, signer wallet.Signer, asset common.Address, amount *big.Int, targetChainID uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls++
	if f.failLock {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Failed to broadcast transaction", "insufficient funds")
	}
	return f.lockHash, nil
}

func (f *fakeBackend) MintAsset(ctx context.Context, signer wallet.Signer, requestID common.Hash, recipient, asset common.Address, amount *big.Int, sourceChainID uint64, gasPrice *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	if f.failMint {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Transaction reverted", requestID.Hex())
	}
	f.mintRequests[requestID]++
	if f.mintRequests[requestID] > 1 {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeChain, "Transaction reverted", "request already executed")
	}
	return f.mintHash, nil
}

func (f *fakeBackend) GetLockedBalance(ctx context.Context, asset common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) TransactionConfirmed(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, bool, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)}, true, nil
}

func (f *fakeBackend) WaitForConfirmations(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)}, nil
}

func (f *fakeBackend) FilterLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]chains.LockEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chains.LockEvent
	for _, ev := range f.lockEvents {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeBackend) ReplaceTransaction(ctx context.Context, signer wallet.Signer, txHash common.Hash, cancel bool) (common.Hash, error) {
	return common.Hash{0xfe}, nil
}

type testHarness struct {
	orchestrator *Orchestrator
	registry     *chains.Registry
	source       *fakeBackend
	dest         *fakeBackend
	store        storage.Storage
	bus          *events.Bus
	gate         *security.Gate
	multisig     *security.MultiSigManager
	signer       wallet.Signer
}

func testChainConfigs() []config.ChainConfig {
	return []config.ChainConfig{
		{ChainID: sourceChainID, Name: "mainnet", RPCEndpoints: []string{"http://localhost:8545"},
			BridgeContract: "0x1000000000000000000000000000000000000001", ConfirmationBlocks: 2},
		{ChainID: destChainID, Name: "polygon", RPCEndpoints: []string{"http://localhost:8546"},
			BridgeContract: "0x1000000000000000000000000000000000000002", ConfirmationBlocks: 2, Layer2: true},
	}
}

func newHarness(t *testing.T, signers []string) *testHarness {
	t.Helper()

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "bridge_test.db"),
		MaxConnections:   1,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	secCfg := &config.SecurityConfig{
		MaxTransfersPerHour:       100,
		MaxAmountPerTransfer:      "100000000",
		MaxDailyVolume:            "1000000000",
		SuspiciousAmountThreshold: "1000000",
		MaxRapidTransfers:         100,
		RapidWindow:               5 * time.Minute,
		MinSignaturesRequired:     2,
		SignatureTimeout:          time.Hour,
		CleanupInterval:           time.Hour,
		Signers:                   signers,
	}
	if len(signers) == 0 {
		secCfg.Signers = []string{
			"0x3000000000000000000000000000000000000001",
			"0x3000000000000000000000000000000000000002",
		}
	}

	gate, err := security.NewGate(secCfg, store, bus)
	require.NoError(t, err)
	require.NoError(t, gate.Start(context.Background()))
	t.Cleanup(gate.Stop)

	multisig, err := security.NewMultiSigManager(secCfg, store, bus)
	require.NoError(t, err)

	registry, err := chains.NewRegistry(testChainConfigs(), &config.NodePoolConfig{
		HealthInterval: time.Hour,
		ProbeTimeout:   time.Second,
		MaxFailures:    3,
	}, bus, nil)
	require.NoError(t, err)

	source := newFakeBackend(sourceChainID, 0xaa)
	dest := newFakeBackend(destChainID, 0xbb)
	sourceChain, err := registry.Get(sourceChainID)
	require.NoError(t, err)
	sourceChain.Backend = source
	destChain, err := registry.Get(destChainID)
	require.NoError(t, err)
	destChain.Backend = dest

	orchestrator, err := NewOrchestrator(&config.BridgeConfig{
		BaseFeeWei:     "1000",
		FeeBasisPoints: 10,
		L1DataFeeWei:   "500",
	}, registry, gate, multisig, store, bus)
	require.NoError(t, err)

	wallets := wallet.NewSimulatedManager()
	walletID, err := wallets.CreateWallet("test-password")
	require.NoError(t, err)
	signer, err := wallets.Unlock(walletID, "test-password")
	require.NoError(t, err)

	return &testHarness{
		orchestrator: orchestrator,
		registry:     registry,
		source:       source,
		dest:         dest,
		store:        store,
		bus:          bus,
		gate:         gate,
		multisig:     multisig,
		signer:       signer,
	}
}

func testRequest(amount int64) BridgeRequest {
	return BridgeRequest{
		SourceChainID: sourceChainID,
		DestChainID:   destChainID,
		Sender:        senderAddr,
		Recipient:     recipientAddr,
		AssetID:       "USDC",
		AssetAddress:  assetAddr,
		Amount:        big.NewInt(amount),
	}
}

func TestBridgeAssetEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	completed := h.bus.Subscribe(events.TypeTransferCompleted)

	result, err := h.orchestrator.BridgeAsset(ctx, testRequest(5000), h.signer)
	require.NoError(t, err)
	require.NotNil(t, result.Transfer)
	assert.Nil(t, result.MultiSig)

	transfer := result.Transfer
	assert.Equal(t, models.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, h.source.lockHash.Hex(), transfer.SourceTxHash)
	assert.Equal(t, h.dest.mintHash.Hex(), transfer.DestTxHash)
	assert.NotNil(t, transfer.LockTimestamp)
	assert.NotNil(t, transfer.CompletedAt)

	// The mint request ID is the lock transaction hash
	assert.Equal(t, 1, h.dest.mintRequests[h.source.lockHash])

	persisted, err := h.store.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, persisted.Status)

	select {
	case event := <-completed:
		assert.Equal(t, transfer.ID, event.Payload["transfer_id"])
	default:
		t.Fatal("Expected transfer:completed event")
	}

	stats := h.orchestrator.GetStats()
	assert.Equal(t, int64(1), stats.Initiated)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, "5000", stats.TotalVolume)
}

func TestBridgeAssetLockFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.source.failLock = true
	ctx := context.Background()
	failed := h.bus.Subscribe(events.TypeTransferFailed)

	result, err := h.orchestrator.BridgeAsset(ctx, testRequest(5000), h.signer)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeChain, utils.ErrorCode(err))

	persisted, err := h.store.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, persisted.Status)
	assert.Contains(t, persisted.ErrorMessage, "broadcast")
	assert.Equal(t, 0, h.dest.mintCalls)

	select {
	case <-failed:
	default:
		t.Fatal("Expected transfer:failed event")
	}
}

func TestBridgeAssetMintFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.dest.failMint = true
	ctx := context.Background()

	result, err := h.orchestrator.BridgeAsset(ctx, testRequest(5000), h.signer)
	require.Error(t, err)

	persisted, err := h.store.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, persisted.Status)
	// The lock succeeded before the mint failed
	assert.Equal(t, h.source.lockHash.Hex(), persisted.SourceTxHash)
	assert.NotEmpty(t, persisted.ErrorMessage)
}

func TestBridgeAssetValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	same := testRequest(5000)
	same.DestChainID = sourceChainID
	_, err := h.orchestrator.BridgeAsset(ctx, same, h.signer)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	bad := testRequest(5000)
	bad.Sender = "not-an-address"
	_, err = h.orchestrator.BridgeAsset(ctx, bad, h.signer)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	unknown := testRequest(5000)
	unknown.DestChainID = 999
	_, err = h.orchestrator.BridgeAsset(ctx, unknown, h.signer)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeNotFound, utils.ErrorCode(err))

	assert.Equal(t, 0, h.source.lockCalls)
}

func TestLargeTransferRoutesThroughMultiSig(t *testing.T) {
	k1, err := crypto.GenerateKey()
	require.NoError(t, err)
	k2, err := crypto.GenerateKey()
	require.NoError(t, err)

	addr1 := crypto.PubkeyToAddress(k1.PublicKey).Hex()
	addr2 := crypto.PubkeyToAddress(k2.PublicKey).Hex()
	h := newHarness(t, []string{addr1, addr2})
	ctx := context.Background()

	result, err := h.orchestrator.BridgeAsset(ctx, testRequest(2_000_000), h.signer)
	require.NoError(t, err)
	require.NotNil(t, result.MultiSig)
	assert.Equal(t, models.TransferStatusPending, result.Transfer.Status)
	assert.Equal(t, 0, h.source.lockCalls)

	// Not enough signatures yet
	_, err = h.orchestrator.ExecuteApproved(ctx, result.MultiSig.TxID, h.signer)
	require.Error(t, err)

	sig1, err := crypto.Sign(utils.SignableHash(result.MultiSig.TxID), k1)
	require.NoError(t, err)
	_, err = h.multisig.AddSignature(ctx, result.MultiSig.TxID, sig1)
	require.NoError(t, err)

	sig2, err := crypto.Sign(utils.SignableHash(result.MultiSig.TxID), k2)
	require.NoError(t, err)
	round, err := h.multisig.AddSignature(ctx, result.MultiSig.TxID, sig2)
	require.NoError(t, err)
	assert.Equal(t, models.MultiSigStatusApproved, round.Status)

	transfer, err := h.orchestrator.ExecuteApproved(ctx, result.MultiSig.TxID, h.signer)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, 1, h.source.lockCalls)

	// A second execution of the same round finds the transfer no longer
	// pending and refuses to run it again
	_, err = h.orchestrator.ExecuteApproved(ctx, result.MultiSig.TxID, h.signer)
	require.Error(t, err)
	assert.Equal(t, 1, h.source.lockCalls)
}

func TestEstimateFee(t *testing.T) {
	h := newHarness(t, nil)

	// base 1000 + 10bps of 1_000_000 = 1000, dest is a rollup: +500
	fee, err := h.orchestrator.EstimateFee(big.NewInt(1_000_000), destChainID)
	require.NoError(t, err)
	assert.Equal(t, "2500", fee.String())

	// source chain is not layer2
	fee, err = h.orchestrator.EstimateFee(big.NewInt(1_000_000), sourceChainID)
	require.NoError(t, err)
	assert.Equal(t, "2000", fee.String())

	_, err = h.orchestrator.EstimateFee(big.NewInt(1), 999)
	require.Error(t, err)
}

func TestGateRejectionSkipsExecution(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.gate.AddToBlacklist(ctx, senderAddr, "test"))

	_, err := h.orchestrator.BridgeAsset(ctx, testRequest(5000), h.signer)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeBlacklisted, utils.ErrorCode(err))
	assert.Equal(t, 0, h.source.lockCalls)

	var appErr *utils.AppError
	assert.True(t, errors.As(err, &appErr))
}
