// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	"github.com/crosslane/bridge-coordinator/internal/bridge"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/metrics"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/relayer"
	"github.com/crosslane/bridge-coordinator/internal/security"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// walletPasswordHeader carries the keystore password for operations
// that sign transactions. Passwords never travel in the URL or the
// environment.
const walletPasswordHeader = "X-Wallet-Password"

// Server exposes the coordinator's HTTP API
type Server struct {
	config       *config.ServerConfig
	orchestrator *bridge.Orchestrator
	relayer      *relayer.Relayer
	gate         *security.Gate
	multisig     *security.MultiSigManager
	storage      storage.Storage
	wallets      wallet.Manager
	metrics      *metrics.Metrics
	logger       *utils.Logger

	httpServer *http.Server
	startTime  time.Time
	version    string
}

// NewServer creates the HTTP server
func NewServer(cfg *config.ServerConfig, version string, orchestrator *bridge.Orchestrator, rel *relayer.Relayer, gate *security.Gate, multisig *security.MultiSigManager, store storage.Storage, wallets wallet.Manager, m *metrics.Metrics) *Server {
	s := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		relayer:      rel,
		gate:         gate,
		multisig:     multisig,
		storage:      store,
		wallets:      wallets,
		metrics:      m,
		logger:       utils.GetLogger(),
		startTime:    time.Now(),
		version:      version,
	}

	router := mux.NewRouter()
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.withMiddleware(router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes(router *mux.Router) {
	if s.config.EnableHealth {
		router.HandleFunc("/health", s.handleHealth).Methods("GET")
	}
	if s.config.EnableMetrics && s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	// Bridge operations
	api.HandleFunc("/bridge", s.handleBridgeAsset).Methods("POST")
	api.HandleFunc("/transfers", s.handleListTransfers).Methods("GET")
	api.HandleFunc("/transfers/{id}", s.handleGetTransfer).Methods("GET")
	api.HandleFunc("/fees/estimate", s.handleEstimateFee).Methods("GET")
	api.HandleFunc("/transactions/{chainId}/{txHash}/speedup", s.handleSpeedUp).Methods("POST")
	api.HandleFunc("/transactions/{chainId}/{txHash}/cancel", s.handleCancel).Methods("POST")

	// Relayer operations
	api.HandleFunc("/relayer/start", s.handleRelayerStart).Methods("POST")
	api.HandleFunc("/relayer/stop", s.handleRelayerStop).Methods("POST")
	api.HandleFunc("/relayer/stats", s.handleRelayerStats).Methods("GET")
	api.HandleFunc("/relayer/tasks", s.handleRelayerTasks).Methods("GET")

	// Security operations
	api.HandleFunc("/security/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/security/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/security/blacklist", s.handleGetBlacklist).Methods("GET")
	api.HandleFunc("/security/blacklist", s.handleAddBlacklist).Methods("POST")
	api.HandleFunc("/security/blacklist/{address}", s.handleRemoveBlacklist).Methods("DELETE")
	api.HandleFunc("/security/events", s.handleSecurityEvents).Methods("GET")

	// Multi-signature operations
	api.HandleFunc("/multisig/{txId}", s.handleGetMultiSig).Methods("GET")
	api.HandleFunc("/multisig/{txId}/signatures", s.handleAddSignature).Methods("POST")
	api.HandleFunc("/multisig/{txId}/execute", s.handleExecuteApproved).Methods("POST")

	// Aggregate statistics
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.NewAppError(utils.ErrCodeInternal, "HTTP server failed", err.Error())
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// --- Bridge handlers ---

type bridgeAssetRequest struct {
	SourceChainID uint64 `json:"source_chain_id"`
	DestChainID   uint64 `json:"dest_chain_id"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	AssetID       string `json:"asset_id"`
	AssetAddress  string `json:"asset_address"`
	Amount        string `json:"amount"`
	WalletID      string `json:"wallet_id"`
}

func (s *Server) handleBridgeAsset(w http.ResponseWriter, r *http.Request) {
	var req bridgeAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid amount", err.Error()))
		return
	}

	signer, err := s.unlockWallet(r, req.WalletID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.orchestrator.BridgeAsset(r.Context(), bridge.BridgeRequest{
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		AssetID:       req.AssetID,
		AssetAddress:  req.AssetAddress,
		Amount:        amount,
	}, signer)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.MultiSig != nil {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := s.orchestrator.GetTransfer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transfer)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	filter := models.TransferFilter{Limit: 100}
	query := r.URL.Query()

	if v := query.Get("status"); v != "" {
		status := models.TransferStatus(v)
		filter.Status = &status
	}
	if v := query.Get("sender"); v != "" {
		filter.Sender = &v
	}
	if v := query.Get("source_chain_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid source_chain_id", v))
			return
		}
		filter.SourceChainID = &id
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit", v))
			return
		}
		filter.Limit = limit
	}

	transfers, err := s.orchestrator.ListTransfers(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

func (s *Server) handleEstimateFee(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	amount, err := utils.ParseAmount(query.Get("amount"))
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid amount", err.Error()))
		return
	}
	destChainID, err := strconv.ParseUint(query.Get("dest_chain_id"), 10, 64)
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid dest_chain_id"))
		return
	}

	fee, err := s.orchestrator.EstimateFee(amount, destChainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"amount": amount.String(),
		"fee":    fee.String(),
	})
}

type replaceRequest struct {
	WalletID string `json:"wallet_id"`
}

func (s *Server) handleSpeedUp(w http.ResponseWriter, r *http.Request) {
	s.handleReplace(w, r, false)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleReplace(w, r, true)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request, cancel bool) {
	vars := mux.Vars(r)
	chainID, err := strconv.ParseUint(vars["chainId"], 10, 64)
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid chain ID", vars["chainId"]))
		return
	}

	var req replaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}
	signer, err := s.unlockWallet(r, req.WalletID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var hash string
	if cancel {
		hash, err = s.orchestrator.CancelTransaction(r.Context(), chainID, vars["txHash"], signer)
	} else {
		hash, err = s.orchestrator.SpeedUpTransaction(r.Context(), chainID, vars["txHash"], signer)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"tx_hash": hash})
}

// --- Relayer handlers ---

func (s *Server) handleRelayerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.relayer.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleRelayerStop(w http.ResponseWriter, r *http.Request) {
	s.relayer.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRelayerStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relayer.GetStats())
}

func (s *Server) handleRelayerTasks(w http.ResponseWriter, r *http.Request) {
	filter := models.RelayTaskFilter{Limit: 100}
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.RelayTaskStatus(v)
		filter.Status = &status
	}

	tasks, err := s.relayer.GetTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// --- Security handlers ---

type pauseRequest struct {
	Reason          string `json:"reason"`
	AutoResumeAfter string `json:"auto_resume_after,omitempty"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	var autoResume time.Duration
	if req.AutoResumeAfter != "" {
		parsed, err := time.ParseDuration(req.AutoResumeAfter)
		if err != nil {
			s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid auto_resume_after", err.Error()))
			return
		}
		autoResume = parsed
	}

	s.gate.Pause(req.Reason, autoResume)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.gate.Resume()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleGetBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.gate.GetBlacklist(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

type blacklistRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	if err := s.gate.AddToBlacklist(r.Context(), req.Address, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "blacklisted"})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.RemoveFromBlacklist(r.Context(), mux.Vars(r)["address"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter := models.SecurityEventFilter{Limit: 100}
	query := r.URL.Query()

	if v := query.Get("event_type"); v != "" {
		filter.EventType = &v
	}
	if v := query.Get("severity"); v != "" {
		severity := models.SecuritySeverity(v)
		filter.Severity = &severity
	}
	if v := query.Get("address"); v != "" {
		filter.Address = &v
	}

	recorded, err := s.storage.GetSecurityEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": recorded,
		"count":  len(recorded),
	})
}

// --- Multi-signature handlers ---

func (s *Server) handleGetMultiSig(w http.ResponseWriter, r *http.Request) {
	tx, err := s.multisig.GetTransaction(r.Context(), mux.Vars(r)["txId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

type signatureRequest struct {
	Signature string `json:"signature"` // hex
}

func (s *Server) handleAddSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid signature hex", err.Error()))
		return
	}

	tx, err := s.multisig.AddSignature(r.Context(), mux.Vars(r)["txId"], signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

type executeRequest struct {
	WalletID string `json:"wallet_id"`
}

func (s *Server) handleExecuteApproved(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	signer, err := s.unlockWallet(r, req.WalletID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	transfer, err := s.orchestrator.ExecuteApproved(r.Context(), mux.Vars(r)["txId"], signer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transfer)
}

// --- Health and statistics ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.storage.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
		"paused":  s.gate.IsPaused(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orchestrator": s.orchestrator.GetStats(),
		"relayer":      s.relayer.GetStats(),
		"security":     s.gate.GetStats(),
		"storage":      storageStats,
	})
}

// --- Helpers ---

func (s *Server) unlockWallet(r *http.Request, walletID string) (wallet.Signer, error) {
	if walletID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "wallet_id is required")
	}
	password := r.Header.Get(walletPasswordHeader)
	if password == "" {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Missing wallet password header")
	}
	return s.wallets.Unlock(walletID, password)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case utils.ErrCodeValidation, utils.ErrCodeConfiguration:
		status = http.StatusBadRequest
	case utils.ErrCodeNotFound:
		status = http.StatusNotFound
	case utils.ErrCodeRateLimit:
		status = http.StatusTooManyRequests
	case utils.ErrCodeBlacklisted, utils.ErrCodePaused, utils.ErrCodeVolumeLimit, utils.ErrCodeSecurity:
		status = http.StatusForbidden
	case utils.ErrCodeWallet, utils.ErrCodeIntegrity:
		status = http.StatusUnauthorized
	case utils.ErrCodeRPC, utils.ErrCodeChain:
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": err.Error(),
		},
	})
}
