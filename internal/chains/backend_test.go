// File: internal/chains/backend_test.go
package chains

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/bridge-coordinator/internal/nodepool"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// fakeRPCClient satisfies nodepool.Client with canned responses
type fakeRPCClient struct {
	mu       sync.Mutex
	tx       *types.Transaction
	pending  bool
	gasPrice *big.Int
	sent     []*types.Transaction
}

func (c *fakeRPCClient) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (c *fakeRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (c *fakeRPCClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *fakeRPCClient) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return nil, false, ethereum.NotFound
	}
	return c.tx, c.pending, nil
}

func (c *fakeRPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeRPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeRPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (c *fakeRPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (c *fakeRPCClient) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

func newTestBackend(t *testing.T, client *fakeRPCClient) *EVMBackend {
	t.Helper()

	dialer := func(ctx context.Context, url string) (nodepool.Client, error) { return client, nil }
	pool := nodepool.NewPool(1, []string{"http://localhost:8545"}, testPoolConfig(), nil, dialer)
	return NewEVMBackend(1, common.HexToAddress("0x1000000000000000000000000000000000000001"), pool)
}

func testSigner(t *testing.T) wallet.Signer {
	t.Helper()

	wallets := wallet.NewSimulatedManager()
	walletID, err := wallets.CreateWallet("pw")
	require.NoError(t, err)
	signer, err := wallets.Unlock(walletID, "pw")
	require.NoError(t, err)
	return signer
}

func TestReplaceTransactionBumpsGasPrice(t *testing.T) {
	recipient := common.HexToAddress("0x2000000000000000000000000000000000000002")
	client := &fakeRPCClient{
		tx:       types.NewTransaction(7, recipient, big.NewInt(500), 50_000, big.NewInt(10_000_000_000), []byte{0x01}),
		pending:  true,
		gasPrice: big.NewInt(1_000_000_000),
	}
	backend := newTestBackend(t, client)

	hash, err := backend.ReplaceTransaction(context.Background(), testSigner(t), client.tx.Hash(), false)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	sent := client.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(7), sent[0].Nonce())
	assert.Equal(t, recipient, *sent[0].To())
	assert.Equal(t, "11000000000", sent[0].GasPrice().String())
}

func TestReplaceTransactionRejectsMinedTransaction(t *testing.T) {
	recipient := common.HexToAddress("0x2000000000000000000000000000000000000002")
	client := &fakeRPCClient{
		tx:       types.NewTransaction(7, recipient, big.NewInt(500), 50_000, big.NewInt(10_000_000_000), nil),
		pending:  false,
		gasPrice: big.NewInt(1_000_000_000),
	}
	backend := newTestBackend(t, client)

	_, err := backend.ReplaceTransaction(context.Background(), testSigner(t), client.tx.Hash(), false)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeChain, utils.ErrorCode(err))
	assert.Empty(t, client.sentTxs())
}

func TestReplaceTransactionRejectsContractCreationSpeedUp(t *testing.T) {
	// A contract creation has no recipient, so a speed-up cannot rebuild
	// the call and must fail instead of dereferencing a nil To
	client := &fakeRPCClient{
		tx:       types.NewContractCreation(7, big.NewInt(0), 1_000_000, big.NewInt(10_000_000_000), []byte{0x60, 0x80}),
		pending:  true,
		gasPrice: big.NewInt(1_000_000_000),
	}
	backend := newTestBackend(t, client)

	_, err := backend.ReplaceTransaction(context.Background(), testSigner(t), client.tx.Hash(), false)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeChain, utils.ErrorCode(err))
	assert.Empty(t, client.sentTxs())
}

func TestReplaceTransactionCancelsContractCreation(t *testing.T) {
	client := &fakeRPCClient{
		tx:       types.NewContractCreation(7, big.NewInt(0), 1_000_000, big.NewInt(10_000_000_000), []byte{0x60, 0x80}),
		pending:  true,
		gasPrice: big.NewInt(1_000_000_000),
	}
	backend := newTestBackend(t, client)
	signer := testSigner(t)

	// Cancelling replaces the slot with a zero-value self-send, which
	// needs no recipient from the original
	_, err := backend.ReplaceTransaction(context.Background(), signer, client.tx.Hash(), true)
	require.NoError(t, err)

	sent := client.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(7), sent[0].Nonce())
	assert.Equal(t, signer.Address(), *sent[0].To())
	assert.Equal(t, "0", sent[0].Value().String())
}
