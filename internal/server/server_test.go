// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/bridge-coordinator/internal/bridge"
	"github.com/crosslane/bridge-coordinator/internal/chains"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/metrics"
	"github.com/crosslane/bridge-coordinator/internal/relayer"
	"github.com/crosslane/bridge-coordinator/internal/security"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
)

type stubBackend struct {
	chainID  uint64
	lockHash common.Hash
	mintHash common.Hash
}

func (f *stubBackend) ChainID() uint64 { return f.chainID }

func (f *stubBackend) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (f *stubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (f *stubBackend) LockAsset(ctx context.Context, signer wallet.Signer, asset common.Address, amount *big.Int, targetChainID uint64) (common.Hash, error) {
	return f.lockHash, nil
}

func (f *stubBackend) MintAsset(ctx context.Context, signer wallet.Signer, requestID common.Hash, recipient, asset common.Address, amount *big.Int, sourceChainID uint64, gasPrice *big.Int) (common.Hash, error) {
	return f.mintHash, nil
}

func (f *stubBackend) GetLockedBalance(ctx context.Context, asset common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *stubBackend) TransactionConfirmed(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, bool, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)}, true, nil
}

func (f *stubBackend) WaitForConfirmations(ctx context.Context, txHash common.Hash, depth uint64) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)}, nil
}

func (f *stubBackend) FilterLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]chains.LockEvent, error) {
	return nil, nil
}

func (f *stubBackend) ReplaceTransaction(ctx context.Context, signer wallet.Signer, txHash common.Hash, cancel bool) (common.Hash, error) {
	return common.Hash{0xfe}, nil
}

type serverHarness struct {
	server   *Server
	walletID string
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server_test.db"),
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
		SuspiciousAmountThreshold: "10000000",
		MaxRapidTransfers:         100,
		RapidWindow:               5 * time.Minute,
		MinSignaturesRequired:     2,
		SignatureTimeout:          time.Hour,
		CleanupInterval:           time.Hour,
		Signers: []string{
			"0x3000000000000000000000000000000000000001",
			"0x3000000000000000000000000000000000000002",
		},
	}

	gate, err := security.NewGate(secCfg, store, bus)
	require.NoError(t, err)
	require.NoError(t, gate.Start(context.Background()))
	t.Cleanup(gate.Stop)

	multisig, err := security.NewMultiSigManager(secCfg, store, bus)
	require.NoError(t, err)

	registry, err := chains.NewRegistry([]config.ChainConfig{
		{ChainID: 1, Name: "mainnet", RPCEndpoints: []string{"http://localhost:8545"},
			BridgeContract: "0x1000000000000000000000000000000000000001", ConfirmationBlocks: 2},
		{ChainID: 137, Name: "polygon", RPCEndpoints: []string{"http://localhost:8546"},
			BridgeContract: "0x1000000000000000000000000000000000000002", ConfirmationBlocks: 2, Layer2: true},
	}, &config.NodePoolConfig{HealthInterval: time.Hour, ProbeTimeout: time.Second, MaxFailures: 3}, bus, nil)
	require.NoError(t, err)

	for i, id := range []uint64{1, 137} {
		chain, err := registry.Get(id)
		require.NoError(t, err)
		chain.Backend = &stubBackend{
			chainID:  id,
			lockHash: common.Hash{byte(i + 1), 0x01},
			mintHash: common.Hash{byte(i + 1), 0x02},
		}
	}

	orchestrator, err := bridge.NewOrchestrator(&config.BridgeConfig{
		BaseFeeWei:     "1000",
		FeeBasisPoints: 10,
		L1DataFeeWei:   "500",
	}, registry, gate, multisig, store, bus)
	require.NoError(t, err)

	wallets := wallet.NewSimulatedManager()
	walletID, err := wallets.CreateWallet("hunter2")
	require.NoError(t, err)
	signer, err := wallets.Unlock(walletID, "hunter2")
	require.NoError(t, err)

	rel, err := relayer.NewRelayer(&config.RelayerConfig{
		PollInterval:       time.Hour,
		ConfirmationBlocks: 2,
		MaxBlocksPerScan:   100,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		QueueSize:          16,
		FeeBasisPoints:     10,
		MinFeeWei:          "100",
		MaxGasPriceWei:     "500000000000",
		GasPriceMultiplier: 1.1,
	}, registry, store, bus, signer)
	require.NoError(t, err)

	srv := NewServer(&config.ServerConfig{
		Port:          8081,
		Host:          "127.0.0.1",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		EnableMetrics: true,
		EnableHealth:  true,
	}, "test", orchestrator, rel, gate, multisig, store, wallets, metrics.NewMetrics())

	return &serverHarness{server: srv, walletID: walletID}
}

func (h *serverHarness) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, false, body["paused"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "bridge_transfers_completed_total")
}

func TestBridgeEndpointEndToEnd(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("POST", "/api/v1/bridge", map[string]interface{}{
		"source_chain_id": 1,
		"dest_chain_id":   137,
		"sender":          "0x00000000000000000000000000000000000000aa",
		"recipient":       "0x00000000000000000000000000000000000000bb",
		"asset_id":        "USDC",
		"asset_address":   "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"amount":          "5000",
		"wallet_id":       h.walletID,
	}, map[string]string{walletPasswordHeader: "hunter2"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Transfer struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transfer"`
		Fee json.Number `json:"fee"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "completed", body.Transfer.Status)
	assert.Equal(t, "1505", body.Fee.String())

	// The transfer is visible through the query endpoints
	resp = h.do("GET", "/api/v1/transfers/"+body.Transfer.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do("GET", "/api/v1/transfers?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), body.Transfer.ID)
}

func TestBridgeEndpointRequiresPassword(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("POST", "/api/v1/bridge", map[string]interface{}{
		"source_chain_id": 1,
		"dest_chain_id":   137,
		"sender":          "0x00000000000000000000000000000000000000aa",
		"recipient":       "0x00000000000000000000000000000000000000bb",
		"amount":          "5000",
		"wallet_id":       h.walletID,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestBridgeEndpointRejectsBadAmount(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("POST", "/api/v1/bridge", map[string]interface{}{
		"source_chain_id": 1,
		"dest_chain_id":   137,
		"amount":          "12.5",
		"wallet_id":       h.walletID,
	}, map[string]string{walletPasswordHeader: "hunter2"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTransferNotFound(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/api/v1/transfers/no-such-id", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFeeEstimateEndpoint(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/api/v1/fees/estimate?amount=1000000&dest_chain_id=137", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "2500", body["fee"])
}

func TestPauseResumeEndpoints(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("POST", "/api/v1/security/pause", map[string]string{"reason": "drill"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	// A paused bridge rejects transfers with 403
	resp = h.do("POST", "/api/v1/bridge", map[string]interface{}{
		"source_chain_id": 1,
		"dest_chain_id":   137,
		"sender":          "0x00000000000000000000000000000000000000aa",
		"recipient":       "0x00000000000000000000000000000000000000bb",
		"amount":          "5000",
		"wallet_id":       h.walletID,
	}, map[string]string{walletPasswordHeader: "hunter2"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = h.do("POST", "/api/v1/security/resume", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	health := h.do("GET", "/health", nil, nil)
	assert.Contains(t, health.Body.String(), `"paused":false`)
}

func TestBlacklistEndpoints(t *testing.T) {
	h := newServerHarness(t)
	addr := "0x00000000000000000000000000000000000000ee"

	resp := h.do("POST", "/api/v1/security/blacklist",
		map[string]string{"address": addr, "reason": "sanctioned"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = h.do("GET", "/api/v1/security/blacklist", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), addr)

	resp = h.do("DELETE", "/api/v1/security/blacklist/"+addr, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do("GET", "/api/v1/security/blacklist", nil, nil)
	assert.Contains(t, resp.Body.String(), `"count":0`)
}

func TestSecurityEventsEndpoint(t *testing.T) {
	h := newServerHarness(t)

	// Blacklisting writes an audit event
	resp := h.do("POST", "/api/v1/security/blacklist",
		map[string]string{"address": "0x00000000000000000000000000000000000000ee", "reason": "test"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = h.do("GET", "/api/v1/security/events?event_type=address_blacklisted", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "address_blacklisted")
}

func TestRelayerLifecycleEndpoints(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/api/v1/relayer/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"running":false`)

	resp = h.do("POST", "/api/v1/relayer/start", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do("GET", "/api/v1/relayer/stats", nil, nil)
	assert.Contains(t, resp.Body.String(), `"running":true`)

	resp = h.do("POST", "/api/v1/relayer/stop", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do("GET", "/api/v1/relayer/tasks", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestStatsEndpoint(t *testing.T) {
	h := newServerHarness(t)

	resp := h.do("GET", "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	for _, key := range []string{"orchestrator", "relayer", "security", "storage"} {
		assert.Contains(t, body, key, fmt.Sprintf("missing %s section", key))
	}
}

func TestRateLimitMapsTo429(t *testing.T) {
	h := newServerHarness(t)

	request := map[string]interface{}{
		"source_chain_id": 1,
		"dest_chain_id":   137,
		"sender":          "0x00000000000000000000000000000000000000aa",
		"recipient":       "0x00000000000000000000000000000000000000bb",
		"amount":          "5000",
		"wallet_id":       h.walletID,
	}
	headers := map[string]string{walletPasswordHeader: "hunter2"}

	for i := 0; i < 100; i++ {
		resp := h.do("POST", "/api/v1/bridge", request, headers)
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := h.do("POST", "/api/v1/bridge", request, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}
